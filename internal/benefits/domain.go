// internal/benefits/domain.go
package benefits

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EstadoBeneficio is the lifecycle state of a beneficio.
type EstadoBeneficio string

const (
	BeneficioActivo   EstadoBeneficio = "activo"
	BeneficioInactivo EstadoBeneficio = "inactivo"
	BeneficioVencido  EstadoBeneficio = "vencido"
	BeneficioAgotado  EstadoBeneficio = "agotado"
)

// Validación outcomes.
const (
	ResultadoHabilitado   = "habilitado"
	ResultadoNoHabilitado = "no_habilitado"
)

var (
	ErrNotFound = errors.New("not found")
)

// Comercio is a merchant offering beneficios to socios.
type Comercio struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Nombre    string    `json:"nombre" db:"nombre"`
	Categoria string    `json:"categoria" db:"categoria"`
	Activo    bool      `json:"activo" db:"activo"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Beneficio is a discount offered by a comercio to socios of an asociación.
type Beneficio struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	ComercioID     uuid.UUID       `json:"comercio_id" db:"comercio_id"`
	AsociacionID   uuid.UUID       `json:"asociacion_id" db:"asociacion_id"`
	Titulo         string          `json:"titulo" db:"titulo"`
	Descripcion    string          `json:"descripcion" db:"descripcion"`
	Descuento      float64         `json:"descuento" db:"descuento"`
	Estado         EstadoBeneficio `json:"estado" db:"estado"`
	FechaInicio    time.Time       `json:"fecha_inicio" db:"fecha_inicio"`
	FechaFin       time.Time       `json:"fecha_fin" db:"fecha_fin"`
	LimiteTotal    int             `json:"limite_total" db:"limite_total"`
	LimitePorSocio int             `json:"limite_por_socio" db:"limite_por_socio"`
	UsosActuales   int             `json:"usos_actuales" db:"usos_actuales"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Disponible reports whether the beneficio can be redeemed at the given
// instant, returning the reason when it cannot.
func (b *Beneficio) Disponible(now time.Time) (bool, string) {
	if b.Estado != BeneficioActivo {
		return false, "beneficio no activo"
	}
	if now.Before(b.FechaInicio) {
		return false, "beneficio aun no vigente"
	}
	if now.After(b.FechaFin) {
		return false, "beneficio vencido"
	}
	if b.LimiteTotal > 0 && b.UsosActuales >= b.LimiteTotal {
		return false, "beneficio agotado"
	}
	return true, ""
}

// Validacion is one redemption attempt, recorded whether or not it succeeded.
type Validacion struct {
	ID             uuid.UUID `json:"id" db:"id"`
	SocioID        uuid.UUID `json:"socio_id" db:"socio_id"`
	ComercioID     uuid.UUID `json:"comercio_id" db:"comercio_id"`
	BeneficioID    uuid.UUID `json:"beneficio_id" db:"beneficio_id"`
	AsociacionID   uuid.UUID `json:"asociacion_id" db:"asociacion_id"`
	Resultado      string    `json:"resultado" db:"resultado"`
	Motivo         string    `json:"motivo,omitempty" db:"motivo"`
	Monto          float64   `json:"monto" db:"monto"`
	MontoDescuento float64   `json:"monto_descuento" db:"monto_descuento"`
	Fecha          time.Time `json:"fecha" db:"fecha"`
}

// ValidacionRegistradaEvent is appended to the activity log per redemption.
type ValidacionRegistradaEvent struct {
	ValidacionID uuid.UUID `json:"validacion_id"`
	SocioID      uuid.UUID `json:"socio_id"`
	BeneficioID  uuid.UUID `json:"beneficio_id"`
	Resultado    string    `json:"resultado"`
	Monto        float64   `json:"monto"`
}
