// internal/notifications/domain.go
package notifications

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Notification channels.
const (
	TipoWhatsApp = "whatsapp"
	TipoEmail    = "email"
)

// Delivery states.
const (
	EstadoPendiente = "pendiente"
	EstadoEnviada   = "enviada"
	EstadoFallida   = "fallida"
)

var (
	// ErrAllProvidersFailed means every provider in the fallback chain
	// rejected the message; callers surface 503.
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrProviderRateLimited marks a provider 429. Never retried.
	ErrProviderRateLimited = errors.New("provider rate limited")
)

// Notificacion is one append-only delivery record. Every attempt outcome is
// kept, successful or not.
type Notificacion struct {
	ID           uuid.UUID `json:"id" db:"id"`
	AsociacionID uuid.UUID `json:"asociacion_id" db:"asociacion_id"`
	Tipo         string    `json:"tipo" db:"tipo"`
	Destinatario string    `json:"destinatario" db:"destinatario"`
	Mensaje      string    `json:"mensaje" db:"mensaje"`
	Plantilla    string    `json:"plantilla,omitempty" db:"plantilla"`
	Estado       string    `json:"estado" db:"estado"`
	Proveedor    string    `json:"proveedor,omitempty" db:"proveedor"`
	Intentos     int       `json:"intentos" db:"intentos"`
	Error        string    `json:"error,omitempty" db:"error"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NotificacionEnviadaEvent is appended to the activity log per delivery
// outcome.
type NotificacionEnviadaEvent struct {
	NotificacionID uuid.UUID `json:"notificacion_id"`
	Tipo           string    `json:"tipo"`
	Estado         string    `json:"estado"`
	Proveedor      string    `json:"proveedor,omitempty"`
	Intentos       int       `json:"intentos"`
}
