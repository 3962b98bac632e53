// internal/membership/service.go
package membership

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRateLimited is returned when the auth rate limit trips. Callers
	// must not retry; the user is told to wait.
	ErrRateLimited = errors.New("rate limit exceeded: wait before retrying")
	ErrNotFound    = errors.New("not found")
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterSocio(ctx context.Context, asociacionID uuid.UUID, nombre, email, telefono, password string) (*Socio, error)
	Login(ctx context.Context, email, password string) (*Socio, string, error)
	GetSocio(ctx context.Context, id uuid.UUID) (*Socio, error)
	ListSocios(ctx context.Context, asociacionID uuid.UUID) ([]Socio, error)
	UpdateFechaVencimiento(ctx context.Context, id uuid.UUID, fecha *time.Time) error
	CreateAsociacion(ctx context.Context, nombre string) (*Asociacion, error)
	GetAsociacion(ctx context.Context, id uuid.UUID) (*Asociacion, error)
	GetAsociacionStats(ctx context.Context, id uuid.UUID) (*AsociacionStats, error)
}
