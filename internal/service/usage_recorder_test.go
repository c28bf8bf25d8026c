package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"token-portal/internal/domain"
)

type mockUsageLogRepo struct {
	mu      sync.Mutex
	entries []domain.UsageLog
	block   chan struct{}
}

func (m *mockUsageLogRepo) Insert(_ context.Context, entry domain.UsageLog) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockUsageLogRepo) List(_ context.Context, _, _ int) ([]domain.UsageLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UsageLog, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *mockUsageLogRepo) stored() []domain.UsageLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UsageLog, len(m.entries))
	copy(out, m.entries)
	return out
}

func TestUsageRecorder_RecordPersistsEntry(t *testing.T) {
	repo := &mockUsageLogRepo{}
	rec := NewUsageRecorder(zap.NewNop(), repo, 8, time.Second)

	rec.Record(domain.UsageLog{
		Method:     "GET",
		Path:       "/api/ping",
		StatusCode: 200,
		ClientIP:   "127.0.0.1",
	})
	rec.Close()

	got := repo.stored()
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].ID == "" {
		t.Fatal("expected generated entry id")
	}
	if got[0].Timestamp.IsZero() {
		t.Fatal("expected timestamp to be filled")
	}
	if got[0].Path != "/api/ping" || got[0].StatusCode != 200 {
		t.Fatalf("unexpected entry %+v", got[0])
	}
}

func TestUsageRecorder_CloseDrainsQueue(t *testing.T) {
	repo := &mockUsageLogRepo{}
	rec := NewUsageRecorder(zap.NewNop(), repo, 16, time.Second)

	for i := 0; i < 10; i++ {
		rec.Record(domain.UsageLog{Method: "GET", Path: "/api/ping", StatusCode: 200})
	}
	rec.Close()

	if got := len(repo.stored()); got != 10 {
		t.Fatalf("expected 10 entries after close, got %d", got)
	}
}

func TestUsageRecorder_DropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	repo := &mockUsageLogRepo{block: block}
	rec := NewUsageRecorder(zap.NewNop(), repo, 1, time.Second)

	// La primera entrada ocupa al escritor, la segunda llena la cola y la
	// tercera debe descartarse sin bloquear.
	rec.Record(domain.UsageLog{Path: "/a"})
	time.Sleep(20 * time.Millisecond)
	rec.Record(domain.UsageLog{Path: "/b"})

	done := make(chan struct{})
	go func() {
		rec.Record(domain.UsageLog{Path: "/c"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Record blocked on a full queue")
	}

	close(block)
	rec.Close()

	if got := len(repo.stored()); got != 2 {
		t.Fatalf("expected dropped entry, got %d stored", got)
	}
}

func TestUsageRecorder_CloseIsIdempotent(t *testing.T) {
	rec := NewUsageRecorder(zap.NewNop(), &mockUsageLogRepo{}, 4, time.Second)
	rec.Close()
	rec.Close()
}

func TestUsageRecorder_RecordAfterCloseIsDropped(t *testing.T) {
	repo := &mockUsageLogRepo{}
	rec := NewUsageRecorder(zap.NewNop(), repo, 4, time.Second)
	rec.Close()

	rec.Record(domain.UsageLog{Path: "/api/ping", StatusCode: 200})

	if got := len(repo.stored()); got != 0 {
		t.Fatalf("entry recorded after close, got %d stored", got)
	}
}

func TestOTPRateLimiter_WindowAndLimit(t *testing.T) {
	limiter := NewOTPRateLimiter(60*time.Millisecond, 2)

	if !limiter.Allow("user@example.com") {
		t.Fatal("first request should be allowed")
	}
	if !limiter.Allow("user@example.com") {
		t.Fatal("second request should be allowed")
	}
	if limiter.Allow("user@example.com") {
		t.Fatal("third request inside window should be denied")
	}
	if !limiter.Allow("other@example.com") {
		t.Fatal("distinct keys should not share a window")
	}

	time.Sleep(80 * time.Millisecond)
	if !limiter.Allow("user@example.com") {
		t.Fatal("expired window should allow again")
	}
}
