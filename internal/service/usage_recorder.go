package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"token-portal/internal/domain"
	"token-portal/internal/repository"
)

// UsageRecorder persiste registros de uso sin bloquear la respuesta: la
// escritura pasa por una cola en memoria y un goroutine propio. Si la cola
// se llena el registro se descarta con un warning; perder un log nunca
// vale una petición colgada.
type UsageRecorder struct {
	logger       *zap.Logger
	repo         repository.UsageLogRepository
	queue        chan domain.UsageLog
	done         chan struct{}
	storeTimeout time.Duration
	mu           sync.RWMutex
	closed       bool
	closeOnce    sync.Once
}

func NewUsageRecorder(logger *zap.Logger, repo repository.UsageLogRepository, queueSize int, storeTimeout time.Duration) *UsageRecorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	r := &UsageRecorder{
		logger:       logger,
		repo:         repo,
		queue:        make(chan domain.UsageLog, queueSize),
		done:         make(chan struct{}),
		storeTimeout: storeTimeout,
	}
	go r.run()
	return r
}

// Record encola una entrada; nunca bloquea al llamador. Tras Close las
// entradas se descartan en lugar de tocar la cola cerrada.
func (r *UsageRecorder) Record(entry domain.UsageLog) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		if r.logger != nil {
			r.logger.Warn("usage recorder closed, dropping entry",
				zap.String("path", entry.Path),
				zap.Int("status", entry.StatusCode),
			)
		}
		return
	}
	select {
	case r.queue <- entry:
	default:
		if r.logger != nil {
			r.logger.Warn("usage log queue full, dropping entry",
				zap.String("path", entry.Path),
				zap.Int("status", entry.StatusCode),
			)
		}
	}
}

// Close drena la cola y detiene el escritor. Solo para apagado ordenado.
func (r *UsageRecorder) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.queue)
		<-r.done
	})
}

func (r *UsageRecorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
		err := r.repo.Insert(ctx, entry)
		cancel()
		if err != nil && r.logger != nil {
			r.logger.Warn("insert usage log failed", zap.Error(err), zap.String("path", entry.Path))
		}
	}
}
