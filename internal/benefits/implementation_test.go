package benefits

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"fidelya/internal/membership"
	"fidelya/pkg/eventstore"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	get := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		get("PGHOST", "localhost"), get("PGPORT", "5432"),
		get("PGUSER", "user"), get("PGPASSWORD", "password"), get("PGDATABASE", "testdb"))

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("skipping benefits tests: could not connect to postgres: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS comercios (
			id UUID PRIMARY KEY,
			nombre TEXT NOT NULL,
			categoria TEXT NOT NULL DEFAULT '',
			activo BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS beneficios (
			id UUID PRIMARY KEY,
			comercio_id UUID NOT NULL,
			asociacion_id UUID NOT NULL,
			titulo TEXT NOT NULL,
			descripcion TEXT NOT NULL DEFAULT '',
			descuento DOUBLE PRECISION NOT NULL DEFAULT 0,
			estado TEXT NOT NULL DEFAULT 'activo',
			fecha_inicio TIMESTAMPTZ NOT NULL,
			fecha_fin TIMESTAMPTZ NOT NULL,
			limite_total INT NOT NULL DEFAULT 0,
			limite_por_socio INT NOT NULL DEFAULT 0,
			usos_actuales INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS validaciones (
			id UUID PRIMARY KEY,
			socio_id UUID NOT NULL,
			comercio_id UUID NOT NULL,
			beneficio_id UUID NOT NULL,
			asociacion_id UUID NOT NULL,
			resultado TEXT NOT NULL,
			motivo TEXT NOT NULL DEFAULT '',
			monto DOUBLE PRECISION NOT NULL DEFAULT 0,
			monto_descuento DOUBLE PRECISION NOT NULL DEFAULT 0,
			fecha TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

// stubSocios serves socios from memory in place of the membership client.
type stubSocios struct {
	socios map[uuid.UUID]*membership.Socio
}

func (s *stubSocios) GetSocio(ctx context.Context, id uuid.UUID) (*membership.Socio, error) {
	socio, ok := s.socios[id]
	if !ok {
		return nil, fmt.Errorf("socio %s not found", id)
	}
	return socio, nil
}

func newTestService(t testing.TB, db *sqlx.DB, socios *stubSocios) Service {
	t.Helper()
	return NewService(db, eventstore.NewEventStore(db.DB), socios, NoopIndex{}, zerolog.Nop())
}

func insertSocioRow(t testing.TB, db *sqlx.DB, socio *membership.Socio) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO socios (id, asociacion_id, nombre, email, estado_membresia, activo)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, socio.ID, socio.AsociacionID, "Socio Test", socio.ID.String()+"@test.local", socio.EstadoMembresia, socio.Activo)
	require.NoError(t, err)
}

func publishTestBeneficio(t testing.TB, svc Service, comercioID, asociacionID uuid.UUID, limiteTotal, limitePorSocio int) *Beneficio {
	t.Helper()
	now := time.Now()
	beneficio, err := svc.CreateBeneficio(context.Background(), NewBeneficio{
		ComercioID:     comercioID,
		AsociacionID:   asociacionID,
		Titulo:         "20% en libreria",
		Descuento:      20,
		FechaInicio:    now.AddDate(0, 0, -1).Format(time.RFC3339),
		FechaFin:       now.AddDate(0, 0, 30).Format(time.RFC3339),
		LimiteTotal:    limiteTotal,
		LimitePorSocio: limitePorSocio,
	})
	require.NoError(t, err)
	return beneficio
}

func TestValidateHappyPath(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	asociacionID := uuid.New()
	socio := &membership.Socio{
		ID:              uuid.New(),
		AsociacionID:    asociacionID,
		EstadoMembresia: membership.EstadoAlDia,
		Activo:          true,
	}
	insertSocioRow(t, db, socio)

	svc := newTestService(t, db, &stubSocios{socios: map[uuid.UUID]*membership.Socio{socio.ID: socio}})

	comercio, err := svc.CreateComercio(context.Background(), "Libreria Central", "libreria")
	require.NoError(t, err)
	beneficio := publishTestBeneficio(t, svc, comercio.ID, asociacionID, 10, 0)

	validacion, err := svc.Validate(context.Background(), ValidacionRequest{
		SocioID:     socio.ID,
		ComercioID:  comercio.ID,
		BeneficioID: beneficio.ID,
		Monto:       100,
	})
	require.NoError(t, err)

	assert.Equal(t, ResultadoHabilitado, validacion.Resultado)
	assert.InDelta(t, 20.0, validacion.MontoDescuento, 0.001)

	updated, err := svc.GetBeneficio(context.Background(), beneficio.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.UsosActuales)
}

func TestValidateRejectsVencido(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	asociacionID := uuid.New()
	socio := &membership.Socio{
		ID:              uuid.New(),
		AsociacionID:    asociacionID,
		EstadoMembresia: membership.EstadoVencido,
		Activo:          true,
	}
	insertSocioRow(t, db, socio)

	svc := newTestService(t, db, &stubSocios{socios: map[uuid.UUID]*membership.Socio{socio.ID: socio}})
	comercio, err := svc.CreateComercio(context.Background(), "Cafe Norte", "gastronomia")
	require.NoError(t, err)
	beneficio := publishTestBeneficio(t, svc, comercio.ID, asociacionID, 0, 0)

	validacion, err := svc.Validate(context.Background(), ValidacionRequest{
		SocioID:     socio.ID,
		ComercioID:  comercio.ID,
		BeneficioID: beneficio.ID,
		Monto:       50,
	})
	require.NoError(t, err)

	assert.Equal(t, ResultadoNoHabilitado, validacion.Resultado)
	assert.Equal(t, "membresia no al dia", validacion.Motivo)

	// The rejected attempt must not consume a use.
	updated, err := svc.GetBeneficio(context.Background(), beneficio.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.UsosActuales)
}

func TestValidateEnforcesLimitePorSocio(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	asociacionID := uuid.New()
	socio := &membership.Socio{
		ID:              uuid.New(),
		AsociacionID:    asociacionID,
		EstadoMembresia: membership.EstadoAlDia,
		Activo:          true,
	}
	insertSocioRow(t, db, socio)

	svc := newTestService(t, db, &stubSocios{socios: map[uuid.UUID]*membership.Socio{socio.ID: socio}})
	comercio, err := svc.CreateComercio(context.Background(), "Gimnasio Sur", "deporte")
	require.NoError(t, err)
	beneficio := publishTestBeneficio(t, svc, comercio.ID, asociacionID, 0, 1)

	req := ValidacionRequest{
		SocioID:     socio.ID,
		ComercioID:  comercio.ID,
		BeneficioID: beneficio.ID,
		Monto:       10,
	}

	first, err := svc.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ResultadoHabilitado, first.Resultado)

	second, err := svc.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ResultadoNoHabilitado, second.Resultado)
	assert.Equal(t, "limite por socio alcanzado", second.Motivo)
}

func TestValidateMarksAgotado(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	asociacionID := uuid.New()
	socio := &membership.Socio{
		ID:              uuid.New(),
		AsociacionID:    asociacionID,
		EstadoMembresia: membership.EstadoAlDia,
		Activo:          true,
	}
	insertSocioRow(t, db, socio)

	svc := newTestService(t, db, &stubSocios{socios: map[uuid.UUID]*membership.Socio{socio.ID: socio}})
	comercio, err := svc.CreateComercio(context.Background(), "Heladeria", "gastronomia")
	require.NoError(t, err)
	beneficio := publishTestBeneficio(t, svc, comercio.ID, asociacionID, 1, 0)

	req := ValidacionRequest{
		SocioID:     socio.ID,
		ComercioID:  comercio.ID,
		BeneficioID: beneficio.ID,
		Monto:       10,
	}

	first, err := svc.Validate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, ResultadoHabilitado, first.Resultado)

	updated, err := svc.GetBeneficio(context.Background(), beneficio.ID)
	require.NoError(t, err)
	assert.Equal(t, BeneficioAgotado, updated.Estado)

	second, err := svc.Validate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ResultadoNoHabilitado, second.Resultado)
}

func TestValidateRejectsForeignAsociacion(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	socio := &membership.Socio{
		ID:              uuid.New(),
		AsociacionID:    uuid.New(),
		EstadoMembresia: membership.EstadoAlDia,
		Activo:          true,
	}
	insertSocioRow(t, db, socio)

	svc := newTestService(t, db, &stubSocios{socios: map[uuid.UUID]*membership.Socio{socio.ID: socio}})
	comercio, err := svc.CreateComercio(context.Background(), "Farmacia", "salud")
	require.NoError(t, err)
	// Beneficio published for a different asociación.
	beneficio := publishTestBeneficio(t, svc, comercio.ID, uuid.New(), 0, 0)

	validacion, err := svc.Validate(context.Background(), ValidacionRequest{
		SocioID:     socio.ID,
		ComercioID:  comercio.ID,
		BeneficioID: beneficio.ID,
		Monto:       30,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultadoNoHabilitado, validacion.Resultado)
}

func TestUpdateBeneficioEstado(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	asociacionID := uuid.New()
	socio := &membership.Socio{
		ID:              uuid.New(),
		AsociacionID:    asociacionID,
		EstadoMembresia: membership.EstadoAlDia,
		Activo:          true,
	}
	insertSocioRow(t, db, socio)

	svc := newTestService(t, db, &stubSocios{socios: map[uuid.UUID]*membership.Socio{socio.ID: socio}})
	comercio, err := svc.CreateComercio(context.Background(), "Panaderia", "gastronomia")
	require.NoError(t, err)
	beneficio := publishTestBeneficio(t, svc, comercio.ID, asociacionID, 0, 0)

	retired, err := svc.UpdateBeneficioEstado(context.Background(), beneficio.ID, BeneficioInactivo)
	require.NoError(t, err)
	assert.Equal(t, BeneficioInactivo, retired.Estado)

	validacion, err := svc.Validate(context.Background(), ValidacionRequest{
		SocioID:     socio.ID,
		ComercioID:  comercio.ID,
		BeneficioID: beneficio.ID,
		Monto:       50,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultadoNoHabilitado, validacion.Resultado)
	assert.Equal(t, "beneficio no activo", validacion.Motivo)

	// Derived states cannot be forced.
	_, err = svc.UpdateBeneficioEstado(context.Background(), beneficio.ID, BeneficioAgotado)
	assert.Error(t, err)

	_, err = svc.UpdateBeneficioEstado(context.Background(), uuid.New(), BeneficioActivo)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListBeneficiosByComercio(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := newTestService(t, db, &stubSocios{})
	comercio, err := svc.CreateComercio(context.Background(), "Optica", "salud")
	require.NoError(t, err)
	otro, err := svc.CreateComercio(context.Background(), "Kiosco", "varios")
	require.NoError(t, err)

	publishTestBeneficio(t, svc, comercio.ID, uuid.New(), 0, 0)
	publishTestBeneficio(t, svc, comercio.ID, uuid.New(), 0, 0)
	publishTestBeneficio(t, svc, otro.ID, uuid.New(), 0, 0)

	beneficios, err := svc.ListBeneficiosByComercio(context.Background(), comercio.ID)
	require.NoError(t, err)
	assert.Len(t, beneficios, 2)

	comercios, err := svc.ListComercios(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(comercios), 2)
}

func TestListValidacionesHistory(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	asociacionID := uuid.New()
	socio := &membership.Socio{
		ID:              uuid.New(),
		AsociacionID:    asociacionID,
		EstadoMembresia: membership.EstadoAlDia,
		Activo:          true,
	}
	insertSocioRow(t, db, socio)

	svc := newTestService(t, db, &stubSocios{socios: map[uuid.UUID]*membership.Socio{socio.ID: socio}})
	comercio, err := svc.CreateComercio(context.Background(), "Cine", "entretenimiento")
	require.NoError(t, err)
	beneficio := publishTestBeneficio(t, svc, comercio.ID, asociacionID, 0, 0)

	for i := 0; i < 3; i++ {
		_, err := svc.Validate(context.Background(), ValidacionRequest{
			SocioID:     socio.ID,
			ComercioID:  comercio.ID,
			BeneficioID: beneficio.ID,
			Monto:       float64(10 * (i + 1)),
		})
		require.NoError(t, err)
	}

	history, err := svc.ListValidaciones(context.Background(), socio.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}
