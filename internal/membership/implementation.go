// internal/membership/implementation.go
package membership

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fidelya/pkg/cache"
	"fidelya/pkg/eventstore"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/time/rate"
)

const sessionTTL = 24 * time.Hour

// service implements the Service interface.
type service struct {
	eventStore  *eventstore.EventStore
	db          *sqlx.DB
	rateLimiter *rate.Limiter
	jwtSecret   []byte
	statsCache  *cache.TTLMap[uuid.UUID, *AsociacionStats]
}

// NewService creates a new membership service instance.
func NewService(es *eventstore.EventStore, db *sqlx.DB, jwtSecret []byte, authPerMinute int, statsTTL time.Duration) Service {
	return &service{
		eventStore:  es,
		db:          db,
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(authPerMinute)), authPerMinute),
		jwtSecret:   jwtSecret,
		statsCache:  cache.NewTTLMap[uuid.UUID, *AsociacionStats](statsTTL),
	}
}

// RegisterSocio creates a new socio and its mirrored usuario auth record.
func (s *service) RegisterSocio(ctx context.Context, asociacionID uuid.UUID, nombre, email, telefono, password string) (*Socio, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	id := uuid.New()
	passwordHash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// New socios start pendiente until the asociación assigns an expiration.
	socio := &Socio{
		ID:              id,
		AsociacionID:    asociacionID,
		Nombre:          nombre,
		Email:           email,
		Telefono:        telefono,
		EstadoMembresia: EstadoPendiente,
		Activo:          true,
	}
	credential := &Credential{
		SocioID:      id,
		PasswordHash: passwordHash,
		Salt:         salt,
	}

	if err := s.insertSocio(ctx, socio, credential); err != nil {
		return nil, fmt.Errorf("failed to insert socio: %w", err)
	}

	eventData := SocioRegistradoEvent{
		ID:           id,
		AsociacionID: asociacionID,
		Email:        email,
		Nombre:       nombre,
	}
	jsonData, err := json.Marshal(eventData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := eventstore.Event{
		AggregateID:   id,
		AggregateType: "socio",
		EventType:     "SocioRegistrado",
		EventData:     jsonData,
	}
	if err := s.eventStore.AppendEvents(ctx, id, "socio", 0, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	s.statsCache.Invalidate(asociacionID)
	return socio, nil
}

func (s *service) insertSocio(ctx context.Context, socio *Socio, credential *Credential) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	socioQuery := `
		INSERT INTO socios (id, asociacion_id, nombre, email, telefono, estado_membresia, activo)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.ExecContext(ctx, socioQuery, socio.ID, socio.AsociacionID, socio.Nombre, socio.Email, socio.Telefono, socio.EstadoMembresia, socio.Activo)
	if err != nil {
		return err
	}

	usuarioQuery := `
		INSERT INTO usuarios (socio_id, email, password_hash, salt, estado_membresia)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = tx.ExecContext(ctx, usuarioQuery, credential.SocioID, socio.Email, credential.PasswordHash, credential.Salt, socio.EstadoMembresia)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Login verifies credentials and returns the socio plus a session token.
func (s *service) Login(ctx context.Context, email, password string) (*Socio, string, error) {
	if !s.rateLimiter.Allow() {
		return nil, "", ErrRateLimited
	}

	socio, err := s.getSocioByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("authentication failed: %w", err)
	}

	credential, err := s.getCredentialBySocioID(ctx, socio.ID)
	if err != nil {
		return nil, "", fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, credential.Salt, credential.PasswordHash)
	if err != nil {
		return nil, "", fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, "", fmt.Errorf("authentication failed: invalid credentials")
	}

	token, err := issueToken(s.jwtSecret, socio, sessionTTL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}

	return socio, token, nil
}

func (s *service) getSocioByEmail(ctx context.Context, email string) (*Socio, error) {
	socio := &Socio{}
	err := s.db.GetContext(ctx, socio, `
		SELECT id, asociacion_id, nombre, email, telefono, estado_membresia,
		       fecha_vencimiento, beneficios_usados, activo, created_at, updated_at, version
		FROM socios
		WHERE email = $1
	`, email)
	if err != nil {
		return nil, err
	}
	return socio, nil
}

func (s *service) getCredentialBySocioID(ctx context.Context, socioID uuid.UUID) (*Credential, error) {
	credential := &Credential{}
	err := s.db.QueryRowContext(ctx, `
		SELECT socio_id, password_hash, salt
		FROM usuarios
		WHERE socio_id = $1
	`, socioID).Scan(&credential.SocioID, &credential.PasswordHash, &credential.Salt)
	if err != nil {
		return nil, err
	}
	return credential, nil
}

// GetSocio retrieves a socio by id.
func (s *service) GetSocio(ctx context.Context, id uuid.UUID) (*Socio, error) {
	socio := &Socio{}
	err := s.db.GetContext(ctx, socio, `
		SELECT id, asociacion_id, nombre, email, telefono, estado_membresia,
		       fecha_vencimiento, beneficios_usados, activo, created_at, updated_at, version
		FROM socios
		WHERE id = $1
	`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("socio %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get socio: %w", err)
	}
	return socio, nil
}

// ListSocios returns all socios belonging to an asociación.
func (s *service) ListSocios(ctx context.Context, asociacionID uuid.UUID) ([]Socio, error) {
	var socios []Socio
	err := s.db.SelectContext(ctx, &socios, `
		SELECT id, asociacion_id, nombre, email, telefono, estado_membresia,
		       fecha_vencimiento, beneficios_usados, activo, created_at, updated_at, version
		FROM socios
		WHERE asociacion_id = $1
		ORDER BY nombre
	`, asociacionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list socios: %w", err)
	}
	return socios, nil
}

// UpdateFechaVencimiento sets a socio's expiration date. The stored status is
// deliberately left alone; the sync service reconciles it. This mirrors the
// drift the reconciliation subsystem exists for.
func (s *service) UpdateFechaVencimiento(ctx context.Context, id uuid.UUID, fecha *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE socios
		SET fecha_vencimiento = $1, updated_at = NOW(), version = version + 1
		WHERE id = $2
	`, fecha, id)
	if err != nil {
		return fmt.Errorf("failed to update fecha_vencimiento: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("socio %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateAsociacion registers a new tenant.
func (s *service) CreateAsociacion(ctx context.Context, nombre string) (*Asociacion, error) {
	asociacion := &Asociacion{
		ID:     uuid.New(),
		Nombre: nombre,
		Estado: "activa",
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO asociaciones (id, nombre, estado)
		VALUES ($1, $2, $3)
	`, asociacion.ID, asociacion.Nombre, asociacion.Estado)
	if err != nil {
		return nil, fmt.Errorf("failed to insert asociacion: %w", err)
	}
	return asociacion, nil
}

// GetAsociacion retrieves an asociación by id.
func (s *service) GetAsociacion(ctx context.Context, id uuid.UUID) (*Asociacion, error) {
	asociacion := &Asociacion{}
	err := s.db.GetContext(ctx, asociacion, `
		SELECT id, nombre, estado, created_at, updated_at
		FROM asociaciones
		WHERE id = $1
	`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("asociacion %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get asociacion: %w", err)
	}
	return asociacion, nil
}

// GetAsociacionStats returns the aggregate socio counters, memoized briefly.
func (s *service) GetAsociacionStats(ctx context.Context, id uuid.UUID) (*AsociacionStats, error) {
	if stats, ok := s.statsCache.Get(id); ok {
		return stats, nil
	}

	stats := &AsociacionStats{AsociacionID: id, ComputedAt: time.Now()}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE estado_membresia = 'al_dia'),
		       COUNT(*) FILTER (WHERE estado_membresia = 'vencido'),
		       COUNT(*) FILTER (WHERE estado_membresia = 'pendiente')
		FROM socios
		WHERE asociacion_id = $1
	`, id).Scan(&stats.TotalSocios, &stats.SociosAlDia, &stats.SociosVencidos, &stats.SociosPendiente)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	s.statsCache.Set(id, stats)
	return stats, nil
}
