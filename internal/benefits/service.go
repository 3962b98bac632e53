// internal/benefits/service.go
package benefits

import (
	"context"

	"github.com/google/uuid"
)

// NewBeneficio carries the fields needed to publish a beneficio.
type NewBeneficio struct {
	ComercioID     uuid.UUID `json:"comercio_id"`
	AsociacionID   uuid.UUID `json:"asociacion_id"`
	Titulo         string    `json:"titulo"`
	Descripcion    string    `json:"descripcion"`
	Descuento      float64   `json:"descuento"`
	FechaInicio    string    `json:"fecha_inicio"`
	FechaFin       string    `json:"fecha_fin"`
	LimiteTotal    int       `json:"limite_total"`
	LimitePorSocio int       `json:"limite_por_socio"`
}

// ValidacionRequest is one redemption attempt by a socio at a comercio.
type ValidacionRequest struct {
	SocioID     uuid.UUID `json:"socio_id"`
	ComercioID  uuid.UUID `json:"comercio_id"`
	BeneficioID uuid.UUID `json:"beneficio_id"`
	Monto       float64   `json:"monto"`
}

// Service defines the interface for the benefits service.
type Service interface {
	CreateComercio(ctx context.Context, nombre, categoria string) (*Comercio, error)
	GetComercio(ctx context.Context, id uuid.UUID) (*Comercio, error)
	ListComercios(ctx context.Context) ([]Comercio, error)
	CreateBeneficio(ctx context.Context, nb NewBeneficio) (*Beneficio, error)
	GetBeneficio(ctx context.Context, id uuid.UUID) (*Beneficio, error)
	UpdateBeneficioEstado(ctx context.Context, id uuid.UUID, estado EstadoBeneficio) (*Beneficio, error)
	ListBeneficios(ctx context.Context, asociacionID uuid.UUID) ([]Beneficio, error)
	ListBeneficiosByComercio(ctx context.Context, comercioID uuid.UUID) ([]Beneficio, error)
	SearchBeneficios(ctx context.Context, asociacionID uuid.UUID, query string) ([]Beneficio, error)
	Validate(ctx context.Context, req ValidacionRequest) (*Validacion, error)
	ListValidaciones(ctx context.Context, socioID uuid.UUID) ([]Validacion, error)
}
