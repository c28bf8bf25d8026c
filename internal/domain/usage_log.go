package domain

import "time"

// UsageLog es un registro append-only de una petición contra la API
// protegida. TokenID y UserID son nulos cuando la credencial presentada
// no pudo resolverse.
type UsageLog struct {
	ID           string    `json:"id"`
	TokenID      *string   `json:"api_token_id,omitempty"`
	UserID       *string   `json:"user_id,omitempty"`
	Timestamp    time.Time `json:"request_timestamp"`
	Method       string    `json:"request_method"`
	Path         string    `json:"request_path"`
	StatusCode   int       `json:"response_status_code"`
	LatencyMs    int64     `json:"latency_ms"`
	ClientIP     string    `json:"client_ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
