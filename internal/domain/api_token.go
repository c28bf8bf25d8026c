package domain

import "time"

// APIToken guarda solo el hash del secreto; el valor en claro se entrega
// una única vez al emitirlo y no queda almacenado en ninguna parte.
type APIToken struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name,omitempty"`
	TokenHash  string     `json:"-"`
	Preview    string     `json:"token_preview"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ExpiredAt evalúa la expiración contra el instante dado, nunca contra
// un estado precalculado.
func (t APIToken) ExpiredAt(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// AdminAPIToken extiende el token con el email del dueño para listados
// de administración.
type AdminAPIToken struct {
	APIToken
	UserEmail string `json:"user_email"`
}
