package email

import (
	"context"
	"errors"
	"time"
)

// Sender es el colaborador de notificación: recibe el código OTP en claro
// y se encarga de la entrega. El núcleo no conoce el transporte.
type Sender interface {
	SendLoginOTP(ctx context.Context, toEmail string, code string, expiresAt time.Time) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendLoginOTP(_ context.Context, _ string, _ string, _ time.Time) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}
