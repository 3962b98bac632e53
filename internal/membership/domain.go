package membership

import (
	"time"

	"github.com/google/uuid"
)

// EstadoMembresia is the stored membership status of a socio.
type EstadoMembresia string

const (
	EstadoAlDia     EstadoMembresia = "al_dia"
	EstadoVencido   EstadoMembresia = "vencido"
	EstadoPendiente EstadoMembresia = "pendiente"
)

// Socio is a loyalty-program member owned by an asociación.
//
// EstadoMembresia is denormalized from FechaVencimiento; the two are not
// written transactionally by every writer, so they can drift. The sync
// service exists to close that gap.
type Socio struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	AsociacionID     uuid.UUID       `json:"asociacion_id" db:"asociacion_id"`
	Nombre           string          `json:"nombre" db:"nombre"`
	Email            string          `json:"email" db:"email"`
	Telefono         string          `json:"telefono" db:"telefono"`
	EstadoMembresia  EstadoMembresia `json:"estado_membresia" db:"estado_membresia"`
	FechaVencimiento *time.Time      `json:"fecha_vencimiento,omitempty" db:"fecha_vencimiento"`
	BeneficiosUsados int             `json:"beneficios_usados" db:"beneficios_usados"`
	Activo           bool            `json:"activo" db:"activo"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
	Version          int             `json:"version" db:"version"`
}

// Asociacion is the tenant organization that owns socios.
type Asociacion struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Nombre    string    `json:"nombre" db:"nombre"`
	Estado    string    `json:"estado" db:"estado"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AsociacionStats are the aggregate counters shown on the asociación
// dashboard. They are cheap to recompute and memoized behind a short TTL.
type AsociacionStats struct {
	AsociacionID    uuid.UUID `json:"asociacion_id"`
	TotalSocios     int       `json:"total_socios"`
	SociosAlDia     int       `json:"socios_al_dia"`
	SociosVencidos  int       `json:"socios_vencidos"`
	SociosPendiente int       `json:"socios_pendientes"`
	ComputedAt      time.Time `json:"computed_at"`
}

// Credential holds a socio's login credentials, stored on the usuarios row
// that mirrors the socio's membership status.
type Credential struct {
	SocioID      uuid.UUID `json:"socio_id"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
}

// SocioRegistradoEvent is appended to the activity log when a socio registers.
type SocioRegistradoEvent struct {
	ID           uuid.UUID `json:"id"`
	AsociacionID uuid.UUID `json:"asociacion_id"`
	Email        string    `json:"email"`
	Nombre       string    `json:"nombre"`
}

// EstadoCorregidoEvent is appended when the sync service corrects a stored
// membership status.
type EstadoCorregidoEvent struct {
	SocioID uuid.UUID       `json:"socio_id"`
	Antes   EstadoMembresia `json:"antes"`
	Despues EstadoMembresia `json:"despues"`
}
