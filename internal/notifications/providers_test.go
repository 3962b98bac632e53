package notifications

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeGateway(t *testing.T, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProviderStatusMapping(t *testing.T) {
	msg := Message{Destinatario: "+5491122334455", Mensaje: "hola"}

	t.Run("accepted", func(t *testing.T) {
		srv := fakeGateway(t, http.StatusAccepted, nil)
		p := NewHTTPProvider("twilio", srv.URL, "key")
		assert.NoError(t, p.Send(context.Background(), msg))
	})

	t.Run("rate limited maps to sentinel", func(t *testing.T) {
		srv := fakeGateway(t, http.StatusTooManyRequests, nil)
		p := NewHTTPProvider("twilio", srv.URL, "key")
		err := p.Send(context.Background(), msg)
		assert.ErrorIs(t, err, ErrProviderRateLimited)
	})

	t.Run("server error", func(t *testing.T) {
		srv := fakeGateway(t, http.StatusInternalServerError, nil)
		p := NewHTTPProvider("twilio", srv.URL, "key")
		assert.Error(t, p.Send(context.Background(), msg))
	})
}

func TestWhatsAppChainFallsBackToNextProvider(t *testing.T) {
	var primaryHits, backupHits atomic.Int32
	primary := fakeGateway(t, http.StatusBadGateway, &primaryHits)
	backup := fakeGateway(t, http.StatusOK, &backupHits)

	chain := NewWhatsAppChain(zerolog.Nop(),
		NewHTTPProvider("primary", primary.URL, ""),
		NewHTTPProvider("backup", backup.URL, ""),
	)

	proveedor, err := chain.Send(context.Background(), Message{Destinatario: "+54911", Mensaje: "hola"})
	require.NoError(t, err)
	assert.Equal(t, "backup", proveedor)
	assert.Equal(t, int32(1), primaryHits.Load())
	assert.Equal(t, int32(1), backupHits.Load())
}

func TestWhatsAppChainAllFail(t *testing.T) {
	primary := fakeGateway(t, http.StatusBadGateway, nil)
	backup := fakeGateway(t, http.StatusBadGateway, nil)

	chain := NewWhatsAppChain(zerolog.Nop(),
		NewHTTPProvider("primary", primary.URL, ""),
		NewHTTPProvider("backup", backup.URL, ""),
	)

	_, err := chain.Send(context.Background(), Message{Destinatario: "+54911", Mensaje: "hola"})
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestWhatsAppChainBreakerSkipsFlappingProvider(t *testing.T) {
	var primaryHits atomic.Int32
	primary := fakeGateway(t, http.StatusBadGateway, &primaryHits)
	backup := fakeGateway(t, http.StatusOK, nil)

	chain := NewWhatsAppChain(zerolog.Nop(),
		NewHTTPProvider("primary", primary.URL, ""),
		NewHTTPProvider("backup", backup.URL, ""),
	)

	msg := Message{Destinatario: "+54911", Mensaje: "hola"}
	for i := 0; i < 5; i++ {
		proveedor, err := chain.Send(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, "backup", proveedor)
	}

	// After three consecutive failures the breaker opens and the primary
	// gateway stops receiving traffic.
	assert.Equal(t, int32(3), primaryHits.Load())
}

type scriptedProvider struct {
	name    string
	results []error
	calls   int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Send(ctx context.Context, msg Message) error {
	i := p.calls
	p.calls++
	if i >= len(p.results) {
		return errors.New("script exhausted")
	}
	return p.results[i]
}

func TestEmailSenderRetriesTransientFailures(t *testing.T) {
	provider := &scriptedProvider{
		name:    "sendgrid",
		results: []error{errors.New("timeout"), errors.New("timeout"), nil},
	}
	sender := NewEmailSender(provider, 3, time.Millisecond, zerolog.Nop())

	attempts, err := sender.Send(context.Background(), Message{Destinatario: "a@b.com", Plantilla: "bienvenida"})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestEmailSenderGivesUpAfterMaxAttempts(t *testing.T) {
	provider := &scriptedProvider{
		name:    "sendgrid",
		results: []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout"), nil},
	}
	sender := NewEmailSender(provider, 3, time.Millisecond, zerolog.Nop())

	attempts, err := sender.Send(context.Background(), Message{Destinatario: "a@b.com", Plantilla: "bienvenida"})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestEmailSenderNeverRetriesRateLimit(t *testing.T) {
	provider := &scriptedProvider{
		name:    "sendgrid",
		results: []error{ErrProviderRateLimited, nil},
	}
	sender := NewEmailSender(provider, 3, time.Millisecond, zerolog.Nop())

	attempts, err := sender.Send(context.Background(), Message{Destinatario: "a@b.com", Plantilla: "bienvenida"})
	assert.ErrorIs(t, err, ErrProviderRateLimited)
	assert.Equal(t, 1, attempts)
}
