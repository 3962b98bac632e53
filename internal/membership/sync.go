// internal/membership/sync.go
package membership

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fidelya/pkg/eventstore"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Inconsistencia is one socio whose stored status disagrees with the status
// calculated from its expiration date.
type Inconsistencia struct {
	SocioID          uuid.UUID       `json:"socio_id"`
	Nombre           string          `json:"nombre"`
	EstadoAlmacenado EstadoMembresia `json:"estado_almacenado"`
	EstadoCalculado  EstadoMembresia `json:"estado_calculado"`
	FechaVencimiento *time.Time      `json:"fecha_vencimiento,omitempty"`
}

// DiagnosisReport is the read-only output of a diagnosis pass.
type DiagnosisReport struct {
	AsociacionID    uuid.UUID        `json:"asociacion_id"`
	TotalSocios     int              `json:"total_socios"`
	Inconsistencias []Inconsistencia `json:"inconsistencias"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// SocioSyncResult reports a single-record correction.
type SocioSyncResult struct {
	SocioID   uuid.UUID       `json:"socio_id"`
	Antes     EstadoMembresia `json:"antes"`
	Despues   EstadoMembresia `json:"despues"`
	Corrected bool            `json:"corrected"`
	// Skipped means the row changed under us between read and write; the
	// next pass will see the fresh value.
	Skipped  bool      `json:"skipped"`
	SyncedAt time.Time `json:"synced_at"`
}

// SyncError is one failed record inside a best-effort bulk pass.
type SyncError struct {
	SocioID uuid.UUID `json:"socio_id"`
	Message string    `json:"message"`
}

// SyncReport aggregates a bulk correction pass.
type SyncReport struct {
	AsociacionID   uuid.UUID   `json:"asociacion_id"`
	TotalProcessed int         `json:"total_processed"`
	Synced         int         `json:"synced"`
	Skipped        int         `json:"skipped"`
	Errors         []SyncError `json:"errors"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
}

// SyncService reconciles stored membership statuses with the status implied
// by each socio's expiration date.
type SyncService struct {
	db         *sqlx.DB
	eventStore *eventstore.EventStore
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewSyncService creates a reconciliation service.
func NewSyncService(db *sqlx.DB, es *eventstore.EventStore, logger zerolog.Logger) *SyncService {
	return &SyncService{
		db:         db,
		eventStore: es,
		logger:     logger.With().Str("component", "membership-sync").Logger(),
		tracer:     otel.Tracer("fidelya/membership-sync"),
		now:        time.Now,
	}
}

type socioStatusRow struct {
	ID               uuid.UUID       `db:"id"`
	Nombre           string          `db:"nombre"`
	EstadoMembresia  EstadoMembresia `db:"estado_membresia"`
	FechaVencimiento *time.Time      `db:"fecha_vencimiento"`
	Version          int             `db:"version"`
}

// Diagnose reads every socio of an asociación and returns the subset whose
// stored status differs from the calculated one. It never mutates.
func (s *SyncService) Diagnose(ctx context.Context, asociacionID uuid.UUID) (*DiagnosisReport, error) {
	ctx, span := s.tracer.Start(ctx, "sync.diagnose",
		trace.WithAttributes(attribute.String("asociacion.id", asociacionID.String())),
	)
	defer span.End()

	var rows []socioStatusRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, nombre, estado_membresia, fecha_vencimiento, version
		FROM socios
		WHERE asociacion_id = $1
	`, asociacionID)
	if err != nil {
		return nil, fmt.Errorf("query socios: %w", err)
	}

	now := s.now()
	report := &DiagnosisReport{
		AsociacionID:    asociacionID,
		TotalSocios:     len(rows),
		Inconsistencias: []Inconsistencia{},
		GeneratedAt:     now,
	}

	for _, row := range rows {
		calculated := CalculateEstado(row.FechaVencimiento, now)
		if calculated != row.EstadoMembresia {
			report.Inconsistencias = append(report.Inconsistencias, Inconsistencia{
				SocioID:          row.ID,
				Nombre:           row.Nombre,
				EstadoAlmacenado: row.EstadoMembresia,
				EstadoCalculado:  calculated,
				FechaVencimiento: row.FechaVencimiento,
			})
		}
	}

	span.SetAttributes(
		attribute.Int("socios.total", report.TotalSocios),
		attribute.Int("socios.inconsistent", len(report.Inconsistencias)),
	)
	return report, nil
}

// SyncSocio recomputes one socio's status and, if it differs from the stored
// value, corrects the socio row and its mirrored usuario row in one
// transaction. The update is guarded on the row version we read, so any
// concurrent edit, including one that only moves fecha_vencimiento, turns the
// correction into a skip rather than a silent overwrite.
func (s *SyncService) SyncSocio(ctx context.Context, socioID uuid.UUID) (*SocioSyncResult, error) {
	ctx, span := s.tracer.Start(ctx, "sync.socio",
		trace.WithAttributes(attribute.String("socio.id", socioID.String())),
	)
	defer span.End()

	now := s.now()
	result := &SocioSyncResult{SocioID: socioID, SyncedAt: now}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row socioStatusRow
	err = tx.GetContext(ctx, &row, `
		SELECT id, nombre, estado_membresia, fecha_vencimiento, version
		FROM socios
		WHERE id = $1
	`, socioID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("socio %s: %w", socioID, ErrNotFound)
		}
		return nil, fmt.Errorf("read socio: %w", err)
	}

	result.Antes = row.EstadoMembresia
	result.Despues = CalculateEstado(row.FechaVencimiento, now)

	if result.Despues == result.Antes {
		return result, nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE socios
		SET estado_membresia = $1, updated_at = NOW(), version = version + 1
		WHERE id = $2 AND version = $3
	`, result.Despues, socioID, row.Version)
	if err != nil {
		return nil, fmt.Errorf("update socio: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		result.Skipped = true
		span.SetAttributes(attribute.Bool("sync.skipped", true))
		return result, nil
	}

	// Mirror the corrected status onto the usuario record if one exists.
	_, err = tx.ExecContext(ctx, `
		UPDATE usuarios
		SET estado_membresia = $1, updated_at = NOW()
		WHERE socio_id = $2
	`, result.Despues, socioID)
	if err != nil {
		return nil, fmt.Errorf("update usuario mirror: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit correction: %w", err)
	}

	result.Corrected = true
	span.SetAttributes(
		attribute.String("estado.antes", string(result.Antes)),
		attribute.String("estado.despues", string(result.Despues)),
	)

	s.appendCorrectionEvent(ctx, result)
	return result, nil
}

// appendCorrectionEvent records the correction in the activity log. The
// correction itself is already committed; a log failure is logged, not
// propagated.
func (s *SyncService) appendCorrectionEvent(ctx context.Context, result *SocioSyncResult) {
	eventData := EstadoCorregidoEvent{
		SocioID: result.SocioID,
		Antes:   result.Antes,
		Despues: result.Despues,
	}
	jsonData, err := json.Marshal(eventData)
	if err != nil {
		s.logger.Error().Err(err).Stringer("socio_id", result.SocioID).Msg("marshal correction event")
		return
	}

	version, err := s.eventStore.GetCurrentVersion(ctx, result.SocioID)
	if err != nil {
		s.logger.Error().Err(err).Stringer("socio_id", result.SocioID).Msg("read activity version")
		return
	}

	event := eventstore.Event{
		AggregateID:   result.SocioID,
		AggregateType: "socio",
		EventType:     "EstadoMembresiaCorregido",
		EventData:     jsonData,
	}
	if err := s.eventStore.AppendEvents(ctx, result.SocioID, "socio", version, []eventstore.Event{event}); err != nil {
		s.logger.Error().Err(err).Stringer("socio_id", result.SocioID).Msg("append correction event")
	}
}

// SyncAsociacion runs the single-record path over every socio of an
// asociación. Failures are collected per record; the pass never aborts.
func (s *SyncService) SyncAsociacion(ctx context.Context, asociacionID uuid.UUID) (*SyncReport, error) {
	ctx, span := s.tracer.Start(ctx, "sync.asociacion",
		trace.WithAttributes(attribute.String("asociacion.id", asociacionID.String())),
	)
	defer span.End()

	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM socios WHERE asociacion_id = $1 ORDER BY id
	`, asociacionID)
	if err != nil {
		return nil, fmt.Errorf("query socio ids: %w", err)
	}

	report := &SyncReport{
		AsociacionID: asociacionID,
		Errors:       []SyncError{},
		StartedAt:    s.now(),
	}

	for _, id := range ids {
		report.TotalProcessed++
		result, err := s.SyncSocio(ctx, id)
		if err != nil {
			report.Errors = append(report.Errors, SyncError{SocioID: id, Message: err.Error()})
			continue
		}
		if result.Skipped {
			report.Skipped++
		}
		if result.Corrected {
			report.Synced++
			s.logger.Info().
				Stringer("socio_id", id).
				Str("antes", string(result.Antes)).
				Str("despues", string(result.Despues)).
				Msg("estado corregido")
		}
	}

	report.FinishedAt = s.now()
	span.SetAttributes(
		attribute.Int("sync.processed", report.TotalProcessed),
		attribute.Int("sync.corrected", report.Synced),
		attribute.Int("sync.errors", len(report.Errors)),
	)
	return report, nil
}

// ListAsociacionIDs returns the ids of all active asociaciones, for the
// periodic reconciler.
func (s *SyncService) ListAsociacionIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM asociaciones WHERE estado = 'activa' ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query asociaciones: %w", err)
	}
	return ids, nil
}
