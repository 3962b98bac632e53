package membership

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"fidelya/pkg/eventstore"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to PostgreSQL and creates the membership schema,
// skipping the test when no database is reachable.
func setupTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	pgUser := getenvDefault("PGUSER", "user")
	pgPassword := getenvDefault("PGPASSWORD", "password")
	pgHost := getenvDefault("PGHOST", "localhost")
	pgPort := getenvDefault("PGPORT", "5432")
	pgDB := getenvDefault("PGDATABASE", "testdb")

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgUser, pgPassword, pgDB)

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("skipping membership tests: could not connect to postgres: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS asociaciones (
			id UUID PRIMARY KEY,
			nombre TEXT NOT NULL,
			estado TEXT NOT NULL DEFAULT 'activa',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS socios (
			id UUID PRIMARY KEY,
			asociacion_id UUID NOT NULL,
			nombre TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			telefono TEXT NOT NULL DEFAULT '',
			estado_membresia TEXT NOT NULL DEFAULT 'pendiente',
			fecha_vencimiento TIMESTAMPTZ,
			beneficios_usados INT NOT NULL DEFAULT 0,
			activo BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			version INT NOT NULL DEFAULT 1
		);
		CREATE TABLE IF NOT EXISTS usuarios (
			socio_id UUID PRIMARY KEY,
			email TEXT NOT NULL,
			password_hash TEXT NOT NULL DEFAULT '',
			salt TEXT NOT NULL DEFAULT '',
			estado_membresia TEXT NOT NULL DEFAULT 'pendiente',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS activity_events (
			id BIGSERIAL PRIMARY KEY,
			aggregate_id UUID NOT NULL,
			aggregate_type TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data JSONB NOT NULL,
			metadata JSONB,
			version INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (aggregate_id, version)
		);
	`)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return db
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newTestSyncService(t testing.TB, db *sqlx.DB) *SyncService {
	t.Helper()
	return NewSyncService(db, eventstore.NewEventStore(db.DB), zerolog.Nop())
}

func insertTestAsociacion(t testing.TB, db *sqlx.DB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`INSERT INTO asociaciones (id, nombre) VALUES ($1, $2)`, id, "Asociacion Test")
	require.NoError(t, err)
	return id
}

func insertTestSocio(t testing.TB, db *sqlx.DB, asociacionID uuid.UUID, estado EstadoMembresia, fecha *time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`
		INSERT INTO socios (id, asociacion_id, nombre, email, estado_membresia, fecha_vencimiento)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, asociacionID, "Socio "+id.String()[:8], id.String()+"@test.local", estado, fecha)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO usuarios (socio_id, email, estado_membresia) VALUES ($1, $2, $3)
	`, id, id.String()+"@test.local", estado)
	require.NoError(t, err)
	return id
}

func TestDiagnoseFlagsExpiredSocioStoredAlDia(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestSyncService(t, db)

	asociacionID := insertTestAsociacion(t, db)
	yesterday := time.Now().AddDate(0, 0, -1)
	socioID := insertTestSocio(t, db, asociacionID, EstadoAlDia, &yesterday)

	report, err := svc.Diagnose(context.Background(), asociacionID)
	require.NoError(t, err)

	assert.Equal(t, 1, report.TotalSocios)
	require.Len(t, report.Inconsistencias, 1)
	inc := report.Inconsistencias[0]
	assert.Equal(t, socioID, inc.SocioID)
	assert.Equal(t, EstadoAlDia, inc.EstadoAlmacenado)
	assert.Equal(t, EstadoVencido, inc.EstadoCalculado)
}

func TestSyncSocioCorrectsExpired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestSyncService(t, db)

	asociacionID := insertTestAsociacion(t, db)
	yesterday := time.Now().AddDate(0, 0, -1)
	socioID := insertTestSocio(t, db, asociacionID, EstadoAlDia, &yesterday)

	result, err := svc.SyncSocio(context.Background(), socioID)
	require.NoError(t, err)

	assert.True(t, result.Corrected)
	assert.Equal(t, EstadoAlDia, result.Antes)
	assert.Equal(t, EstadoVencido, result.Despues)
	assert.False(t, result.SyncedAt.IsZero())

	var stored, mirrored EstadoMembresia
	require.NoError(t, db.Get(&stored, `SELECT estado_membresia FROM socios WHERE id = $1`, socioID))
	require.NoError(t, db.Get(&mirrored, `SELECT estado_membresia FROM usuarios WHERE socio_id = $1`, socioID))
	assert.Equal(t, EstadoVencido, stored)
	assert.Equal(t, EstadoVencido, mirrored)

	// Correction is recorded in the activity log.
	events, err := eventstore.NewEventStore(db.DB).LoadEvents(context.Background(), socioID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "EstadoMembresiaCorregido", events[0].EventType)
}

func TestSyncSocioCorrectsMissingFechaToPendiente(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestSyncService(t, db)

	asociacionID := insertTestAsociacion(t, db)
	socioID := insertTestSocio(t, db, asociacionID, EstadoAlDia, nil)

	result, err := svc.SyncSocio(context.Background(), socioID)
	require.NoError(t, err)

	assert.True(t, result.Corrected)
	assert.Equal(t, EstadoPendiente, result.Despues)
}

func TestSyncSocioNoChangeIsNoop(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestSyncService(t, db)

	asociacionID := insertTestAsociacion(t, db)
	tomorrow := time.Now().AddDate(0, 0, 1)
	socioID := insertTestSocio(t, db, asociacionID, EstadoAlDia, &tomorrow)

	result, err := svc.SyncSocio(context.Background(), socioID)
	require.NoError(t, err)

	assert.False(t, result.Corrected)
	assert.False(t, result.Skipped)
	assert.Equal(t, result.Antes, result.Despues)
}

func TestSyncSocioUnknownID(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestSyncService(t, db)

	_, err := svc.SyncSocio(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncAsociacionCountsAndIdempotence(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestSyncService(t, db)

	asociacionID := insertTestAsociacion(t, db)
	yesterday := time.Now().AddDate(0, 0, -1)
	tomorrow := time.Now().AddDate(0, 0, 1)

	// Five socios, two inconsistent.
	insertTestSocio(t, db, asociacionID, EstadoAlDia, &yesterday)
	insertTestSocio(t, db, asociacionID, EstadoAlDia, nil)
	insertTestSocio(t, db, asociacionID, EstadoAlDia, &tomorrow)
	insertTestSocio(t, db, asociacionID, EstadoVencido, &yesterday)
	insertTestSocio(t, db, asociacionID, EstadoPendiente, nil)

	report, err := svc.SyncAsociacion(context.Background(), asociacionID)
	require.NoError(t, err)

	assert.Equal(t, 5, report.TotalProcessed)
	assert.Equal(t, 2, report.Synced)
	assert.Empty(t, report.Errors)
	assert.LessOrEqual(t, len(report.Errors)+report.Synced, report.TotalProcessed)

	// Second pass with no intervening change corrects nothing.
	report, err = svc.SyncAsociacion(context.Background(), asociacionID)
	require.NoError(t, err)
	assert.Equal(t, 5, report.TotalProcessed)
	assert.Equal(t, 0, report.Synced)

	diag, err := svc.Diagnose(context.Background(), asociacionID)
	require.NoError(t, err)
	assert.Empty(t, diag.Inconsistencias)
}

// A concurrent edit that moves fecha_vencimiento without touching the stored
// estado bumps the row version, so a correction computed from the stale read
// must skip instead of overwriting the fresh expiration's estado.
func TestSyncSocioSkipsWhenFechaChangesConcurrently(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestSyncService(t, db)

	asociacionID := insertTestAsociacion(t, db)
	yesterday := time.Now().AddDate(0, 0, -1)
	socioID := insertTestSocio(t, db, asociacionID, EstadoAlDia, &yesterday)

	// Hold an uncommitted renewal: fecha moves to the future, estado stays
	// al_dia, version bumps. The row lock makes SyncSocio read the stale
	// row, then block on its guarded update until we commit.
	renewal, err := db.Beginx()
	require.NoError(t, err)
	future := time.Now().AddDate(1, 0, 0)
	_, err = renewal.Exec(`
		UPDATE socios
		SET fecha_vencimiento = $1, updated_at = NOW(), version = version + 1
		WHERE id = $2
	`, future, socioID)
	require.NoError(t, err)

	type syncOutcome struct {
		result *SocioSyncResult
		err    error
	}
	done := make(chan syncOutcome, 1)
	go func() {
		result, err := svc.SyncSocio(context.Background(), socioID)
		done <- syncOutcome{result, err}
	}()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, renewal.Commit())

	outcome := <-done
	require.NoError(t, outcome.err)
	assert.False(t, outcome.result.Corrected)

	// The renewed socio keeps al_dia; the stale vencido never landed.
	var stored EstadoMembresia
	require.NoError(t, db.Get(&stored, `SELECT estado_membresia FROM socios WHERE id = $1`, socioID))
	assert.Equal(t, EstadoAlDia, stored)
}

func TestSyncEmptyAsociacion(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestSyncService(t, db)

	asociacionID := insertTestAsociacion(t, db)

	diag, err := svc.Diagnose(context.Background(), asociacionID)
	require.NoError(t, err)
	assert.Equal(t, 0, diag.TotalSocios)
	assert.Empty(t, diag.Inconsistencias)

	report, err := svc.SyncAsociacion(context.Background(), asociacionID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalProcessed)
	assert.Equal(t, 0, report.Synced)
	assert.Empty(t, report.Errors)
}
