// internal/notifications/providers.go
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Message is a provider-agnostic outbound message. For templated email,
// Plantilla and Variables are passed through to the provider's own template
// engine; the wire format beyond this envelope is the provider's business.
type Message struct {
	Destinatario string            `json:"destinatario"`
	Mensaje      string            `json:"mensaje,omitempty"`
	Plantilla    string            `json:"plantilla,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// Provider delivers a message through one external gateway.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// HTTPProvider posts the message envelope as JSON to a gateway endpoint.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPProvider(name, baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("provider %s: %w", p.name, ErrProviderRateLimited)
	default:
		return fmt.Errorf("provider %s: unexpected status code %d", p.name, resp.StatusCode)
	}
}

// WhatsAppChain tries providers in order until one accepts the message.
// Each provider sits behind its own circuit breaker so a flapping gateway
// is skipped instead of slowing every send.
type WhatsAppChain struct {
	providers []Provider
	breakers  []*gobreaker.CircuitBreaker
	logger    zerolog.Logger
}

func NewWhatsAppChain(logger zerolog.Logger, providers ...Provider) *WhatsAppChain {
	breakers := make([]*gobreaker.CircuitBreaker, len(providers))
	for i, p := range providers {
		breakers[i] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return &WhatsAppChain{
		providers: providers,
		breakers:  breakers,
		logger:    logger.With().Str("component", "whatsapp-chain").Logger(),
	}
}

// Send returns the name of the provider that accepted the message.
func (c *WhatsAppChain) Send(ctx context.Context, msg Message) (string, error) {
	if len(c.providers) == 0 {
		return "", fmt.Errorf("no providers configured: %w", ErrAllProvidersFailed)
	}

	var errs []error
	for i, p := range c.providers {
		_, err := c.breakers[i].Execute(func() (interface{}, error) {
			return nil, p.Send(ctx, msg)
		})
		if err == nil {
			return p.Name(), nil
		}
		c.logger.Warn().Err(err).Str("provider", p.Name()).Msg("provider failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}

	return "", fmt.Errorf("%w: %v", ErrAllProvidersFailed, errs)
}

// EmailSender delivers templated email through a single provider with a
// bounded constant-backoff retry. Rate-limit responses are never retried.
type EmailSender struct {
	provider    Provider
	maxAttempts int
	delay       time.Duration
	logger      zerolog.Logger
}

func NewEmailSender(provider Provider, maxAttempts int, delay time.Duration, logger zerolog.Logger) *EmailSender {
	return &EmailSender{
		provider:    provider,
		maxAttempts: maxAttempts,
		delay:       delay,
		logger:      logger.With().Str("component", "email-sender").Logger(),
	}
}

// Send returns the number of attempts made alongside the final outcome.
func (s *EmailSender) Send(ctx context.Context, msg Message) (int, error) {
	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		err := s.provider.Send(ctx, msg)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrProviderRateLimited) {
			return struct{}{}, backoff.Permanent(err)
		}
		s.logger.Warn().Err(err).Int("attempt", attempts).Msg("email send failed")
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.delay)),
		backoff.WithMaxTries(uint(s.maxAttempts)),
	)
	return attempts, err
}
