// internal/benefits/implementation.go
package benefits

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fidelya/internal/membership"
	"fidelya/pkg/eventstore"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SocioProvider resolves socios; the production implementation is the
// membership service HTTP client.
type SocioProvider interface {
	GetSocio(ctx context.Context, id uuid.UUID) (*membership.Socio, error)
}

// service implements the Service interface.
type service struct {
	db         *sqlx.DB
	eventStore *eventstore.EventStore
	socios     SocioProvider
	index      BeneficioIndex
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewService creates a new benefits service instance.
func NewService(db *sqlx.DB, es *eventstore.EventStore, socios SocioProvider, index BeneficioIndex, logger zerolog.Logger) Service {
	return &service{
		db:         db,
		eventStore: es,
		socios:     socios,
		index:      index,
		logger:     logger.With().Str("component", "benefits").Logger(),
		tracer:     otel.Tracer("fidelya/benefits"),
		now:        time.Now,
	}
}

// CreateComercio registers a merchant.
func (s *service) CreateComercio(ctx context.Context, nombre, categoria string) (*Comercio, error) {
	comercio := &Comercio{
		ID:        uuid.New(),
		Nombre:    nombre,
		Categoria: categoria,
		Activo:    true,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comercios (id, nombre, categoria, activo)
		VALUES ($1, $2, $3, $4)
	`, comercio.ID, comercio.Nombre, comercio.Categoria, comercio.Activo)
	if err != nil {
		return nil, fmt.Errorf("failed to insert comercio: %w", err)
	}
	return comercio, nil
}

// GetComercio retrieves a comercio by id.
func (s *service) GetComercio(ctx context.Context, id uuid.UUID) (*Comercio, error) {
	comercio := &Comercio{}
	err := s.db.GetContext(ctx, comercio, `
		SELECT id, nombre, categoria, activo, created_at, updated_at
		FROM comercios
		WHERE id = $1
	`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("comercio %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get comercio: %w", err)
	}
	return comercio, nil
}

// ListComercios returns all active comercios.
func (s *service) ListComercios(ctx context.Context) ([]Comercio, error) {
	var comercios []Comercio
	err := s.db.SelectContext(ctx, &comercios, `
		SELECT id, nombre, categoria, activo, created_at, updated_at
		FROM comercios
		WHERE activo = TRUE
		ORDER BY nombre
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list comercios: %w", err)
	}
	return comercios, nil
}

// CreateBeneficio publishes a beneficio and upserts it into the search index.
func (s *service) CreateBeneficio(ctx context.Context, nb NewBeneficio) (*Beneficio, error) {
	inicio, err := time.Parse(time.RFC3339, nb.FechaInicio)
	if err != nil {
		return nil, fmt.Errorf("invalid fecha_inicio: %w", err)
	}
	fin, err := time.Parse(time.RFC3339, nb.FechaFin)
	if err != nil {
		return nil, fmt.Errorf("invalid fecha_fin: %w", err)
	}
	if !fin.After(inicio) {
		return nil, fmt.Errorf("fecha_fin must be after fecha_inicio")
	}

	beneficio := &Beneficio{
		ID:             uuid.New(),
		ComercioID:     nb.ComercioID,
		AsociacionID:   nb.AsociacionID,
		Titulo:         nb.Titulo,
		Descripcion:    nb.Descripcion,
		Descuento:      nb.Descuento,
		Estado:         BeneficioActivo,
		FechaInicio:    inicio,
		FechaFin:       fin,
		LimiteTotal:    nb.LimiteTotal,
		LimitePorSocio: nb.LimitePorSocio,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO beneficios (id, comercio_id, asociacion_id, titulo, descripcion, descuento,
		                        estado, fecha_inicio, fecha_fin, limite_total, limite_por_socio)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, beneficio.ID, beneficio.ComercioID, beneficio.AsociacionID, beneficio.Titulo, beneficio.Descripcion,
		beneficio.Descuento, beneficio.Estado, beneficio.FechaInicio, beneficio.FechaFin,
		beneficio.LimiteTotal, beneficio.LimitePorSocio)
	if err != nil {
		return nil, fmt.Errorf("failed to insert beneficio: %w", err)
	}

	// Indexing is best effort: discovery degrades to DB listing when the
	// index is down, but the write itself must not fail.
	if err := s.index.IndexBeneficio(ctx, beneficio); err != nil {
		s.logger.Warn().Err(err).Stringer("beneficio_id", beneficio.ID).Msg("index beneficio")
	}

	return beneficio, nil
}

// GetBeneficio retrieves a beneficio by id.
func (s *service) GetBeneficio(ctx context.Context, id uuid.UUID) (*Beneficio, error) {
	beneficio := &Beneficio{}
	err := s.db.GetContext(ctx, beneficio, `
		SELECT id, comercio_id, asociacion_id, titulo, descripcion, descuento, estado,
		       fecha_inicio, fecha_fin, limite_total, limite_por_socio, usos_actuales,
		       created_at, updated_at
		FROM beneficios
		WHERE id = $1
	`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("beneficio %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get beneficio: %w", err)
	}
	return beneficio, nil
}

// UpdateBeneficioEstado publishes or retires a beneficio. Only activo and
// inactivo can be set directly; vencido and agotado are derived states.
func (s *service) UpdateBeneficioEstado(ctx context.Context, id uuid.UUID, estado EstadoBeneficio) (*Beneficio, error) {
	if estado != BeneficioActivo && estado != BeneficioInactivo {
		return nil, fmt.Errorf("estado %q cannot be set directly", estado)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE beneficios SET estado = $1, updated_at = NOW() WHERE id = $2
	`, estado, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update beneficio estado: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("beneficio %s: %w", id, ErrNotFound)
	}

	beneficio, err := s.GetBeneficio(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.index.IndexBeneficio(ctx, beneficio); err != nil {
		s.logger.Warn().Err(err).Stringer("beneficio_id", id).Msg("reindex beneficio")
	}
	return beneficio, nil
}

// ListBeneficios returns the currently redeemable beneficios of an asociación.
func (s *service) ListBeneficios(ctx context.Context, asociacionID uuid.UUID) ([]Beneficio, error) {
	var beneficios []Beneficio
	err := s.db.SelectContext(ctx, &beneficios, `
		SELECT id, comercio_id, asociacion_id, titulo, descripcion, descuento, estado,
		       fecha_inicio, fecha_fin, limite_total, limite_por_socio, usos_actuales,
		       created_at, updated_at
		FROM beneficios
		WHERE asociacion_id = $1
		  AND estado = 'activo'
		  AND fecha_inicio <= NOW()
		  AND fecha_fin >= NOW()
		ORDER BY fecha_fin
	`, asociacionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list beneficios: %w", err)
	}
	return beneficios, nil
}

// ListBeneficiosByComercio returns every beneficio a comercio has published,
// in any state, for the comercio's own management view.
func (s *service) ListBeneficiosByComercio(ctx context.Context, comercioID uuid.UUID) ([]Beneficio, error) {
	var beneficios []Beneficio
	err := s.db.SelectContext(ctx, &beneficios, `
		SELECT id, comercio_id, asociacion_id, titulo, descripcion, descuento, estado,
		       fecha_inicio, fecha_fin, limite_total, limite_por_socio, usos_actuales,
		       created_at, updated_at
		FROM beneficios
		WHERE comercio_id = $1
		ORDER BY created_at DESC
	`, comercioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list beneficios by comercio: %w", err)
	}
	return beneficios, nil
}

// SearchBeneficios queries the discovery index, falling back to a plain DB
// listing when the index is unavailable.
func (s *service) SearchBeneficios(ctx context.Context, asociacionID uuid.UUID, query string) ([]Beneficio, error) {
	ids, err := s.index.Search(ctx, asociacionID, query)
	if err != nil {
		s.logger.Warn().Err(err).Msg("search index unavailable, falling back to listing")
		return s.ListBeneficios(ctx, asociacionID)
	}
	if len(ids) == 0 {
		return []Beneficio{}, nil
	}

	query2, args, err := sqlx.In(`
		SELECT id, comercio_id, asociacion_id, titulo, descripcion, descuento, estado,
		       fecha_inicio, fecha_fin, limite_total, limite_por_socio, usos_actuales,
		       created_at, updated_at
		FROM beneficios
		WHERE id IN (?)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}

	var beneficios []Beneficio
	if err := s.db.SelectContext(ctx, &beneficios, s.db.Rebind(query2), args...); err != nil {
		return nil, fmt.Errorf("hydrate search hits: %w", err)
	}
	return beneficios, nil
}

// Validate runs the redemption saga. Ineligible attempts are recorded as
// no_habilitado validaciones rather than errors; only infrastructure
// failures surface as errors.
func (s *service) Validate(ctx context.Context, req ValidacionRequest) (*Validacion, error) {
	ctx, span := s.tracer.Start(ctx, "benefits.validate",
		trace.WithAttributes(
			attribute.String("socio.id", req.SocioID.String()),
			attribute.String("beneficio.id", req.BeneficioID.String()),
		),
	)
	defer span.End()

	// Step 1: the socio must be active and al_dia.
	socio, err := s.socios.GetSocio(ctx, req.SocioID)
	if err != nil {
		return nil, fmt.Errorf("failed to get socio: %w", err)
	}
	if !socio.Activo {
		return s.recordValidacion(ctx, req, socio.AsociacionID, ResultadoNoHabilitado, "socio inactivo", 0)
	}
	if socio.EstadoMembresia != membership.EstadoAlDia {
		return s.recordValidacion(ctx, req, socio.AsociacionID, ResultadoNoHabilitado, "membresia no al dia", 0)
	}

	// Step 2: the beneficio must be redeemable for this socio.
	beneficio, err := s.GetBeneficio(ctx, req.BeneficioID)
	if err != nil {
		return nil, err
	}
	if beneficio.AsociacionID != socio.AsociacionID {
		return s.recordValidacion(ctx, req, socio.AsociacionID, ResultadoNoHabilitado, "beneficio no disponible para la asociacion", 0)
	}
	if ok, motivo := beneficio.Disponible(s.now()); !ok {
		return s.recordValidacion(ctx, req, socio.AsociacionID, ResultadoNoHabilitado, motivo, 0)
	}

	if beneficio.LimitePorSocio > 0 {
		var usados int
		err := s.db.GetContext(ctx, &usados, `
			SELECT COUNT(*) FROM validaciones
			WHERE socio_id = $1 AND beneficio_id = $2 AND resultado = 'habilitado'
		`, req.SocioID, req.BeneficioID)
		if err != nil {
			return nil, fmt.Errorf("count previous validaciones: %w", err)
		}
		if usados >= beneficio.LimitePorSocio {
			return s.recordValidacion(ctx, req, socio.AsociacionID, ResultadoNoHabilitado, "limite por socio alcanzado", 0)
		}
	}

	// Step 3: claim one use. The guard makes concurrent redemptions of the
	// last slot lose cleanly instead of overshooting the limit.
	res, err := s.db.ExecContext(ctx, `
		UPDATE beneficios
		SET usos_actuales = usos_actuales + 1,
		    estado = CASE WHEN limite_total > 0 AND usos_actuales + 1 >= limite_total
		                  THEN 'agotado' ELSE estado END,
		    updated_at = NOW()
		WHERE id = $1 AND (limite_total = 0 OR usos_actuales < limite_total)
	`, beneficio.ID)
	if err != nil {
		return nil, fmt.Errorf("claim beneficio use: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.recordValidacion(ctx, req, socio.AsociacionID, ResultadoNoHabilitado, "beneficio agotado", 0)
	}

	compensation := func() {
		s.logger.Warn().Stringer("beneficio_id", beneficio.ID).Msg("compensating failed validacion: releasing claimed use")
		if _, err := s.db.ExecContext(ctx, `
			UPDATE beneficios
			SET usos_actuales = usos_actuales - 1,
			    estado = CASE WHEN estado = 'agotado' THEN 'activo' ELSE estado END,
			    updated_at = NOW()
			WHERE id = $1
		`, beneficio.ID); err != nil {
			s.logger.Error().Err(err).Stringer("beneficio_id", beneficio.ID).Msg("failed to compensate beneficio use")
		}
	}

	montoDescuento := req.Monto * beneficio.Descuento / 100

	// Step 4: record the validación and its activity event.
	validacion, err := s.recordValidacion(ctx, req, socio.AsociacionID, ResultadoHabilitado, "", montoDescuento)
	if err != nil {
		compensation()
		return nil, err
	}

	// Step 5: bump the socio's usage counter. Best effort; the validación
	// log is the source of truth.
	if _, err := s.db.ExecContext(ctx, `
		UPDATE socios SET beneficios_usados = beneficios_usados + 1, updated_at = NOW() WHERE id = $1
	`, req.SocioID); err != nil {
		s.logger.Warn().Err(err).Stringer("socio_id", req.SocioID).Msg("failed to bump beneficios_usados")
	}

	span.SetAttributes(attribute.String("validacion.resultado", validacion.Resultado))
	return validacion, nil
}

func (s *service) recordValidacion(ctx context.Context, req ValidacionRequest, asociacionID uuid.UUID, resultado, motivo string, montoDescuento float64) (*Validacion, error) {
	validacion := &Validacion{
		ID:             uuid.New(),
		SocioID:        req.SocioID,
		ComercioID:     req.ComercioID,
		BeneficioID:    req.BeneficioID,
		AsociacionID:   asociacionID,
		Resultado:      resultado,
		Motivo:         motivo,
		Monto:          req.Monto,
		MontoDescuento: montoDescuento,
		Fecha:          s.now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validaciones (id, socio_id, comercio_id, beneficio_id, asociacion_id,
		                          resultado, motivo, monto, monto_descuento, fecha)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, validacion.ID, validacion.SocioID, validacion.ComercioID, validacion.BeneficioID,
		validacion.AsociacionID, validacion.Resultado, validacion.Motivo,
		validacion.Monto, validacion.MontoDescuento, validacion.Fecha)
	if err != nil {
		return nil, fmt.Errorf("insert validacion: %w", err)
	}

	eventData := ValidacionRegistradaEvent{
		ValidacionID: validacion.ID,
		SocioID:      validacion.SocioID,
		BeneficioID:  validacion.BeneficioID,
		Resultado:    validacion.Resultado,
		Monto:        validacion.Monto,
	}
	jsonData, err := json.Marshal(eventData)
	if err != nil {
		return nil, fmt.Errorf("marshal validacion event: %w", err)
	}
	event := eventstore.Event{
		AggregateID:   validacion.ID,
		AggregateType: "validacion",
		EventType:     "ValidacionRegistrada",
		EventData:     jsonData,
	}
	if err := s.eventStore.AppendEvents(ctx, validacion.ID, "validacion", 0, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("append validacion event: %w", err)
	}

	return validacion, nil
}

// ListValidaciones returns a socio's redemption history, newest first.
func (s *service) ListValidaciones(ctx context.Context, socioID uuid.UUID) ([]Validacion, error) {
	var validaciones []Validacion
	err := s.db.SelectContext(ctx, &validaciones, `
		SELECT id, socio_id, comercio_id, beneficio_id, asociacion_id,
		       resultado, motivo, monto, monto_descuento, fecha
		FROM validaciones
		WHERE socio_id = $1
		ORDER BY fecha DESC
	`, socioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list validaciones: %w", err)
	}
	return validaciones, nil
}
