// internal/notifications/implementation.go
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fidelya/pkg/eventstore"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type service struct {
	db         *sqlx.DB
	eventStore *eventstore.EventStore
	whatsapp   *WhatsAppChain
	email      *EmailSender
	logger     zerolog.Logger
}

func NewService(db *sqlx.DB, es *eventstore.EventStore, whatsapp *WhatsAppChain, email *EmailSender, logger zerolog.Logger) Service {
	return &service{
		db:         db,
		eventStore: es,
		whatsapp:   whatsapp,
		email:      email,
		logger:     logger.With().Str("component", "notifications").Logger(),
	}
}

// SendWhatsApp records the delivery as pendiente, walks the provider chain
// and updates the record with the outcome. The record survives either way.
func (s *service) SendWhatsApp(ctx context.Context, req WhatsAppRequest) (*Notificacion, error) {
	n, err := s.createRecord(ctx, req.AsociacionID, TipoWhatsApp, req.Destinatario, req.Mensaje, "")
	if err != nil {
		return nil, err
	}

	proveedor, sendErr := s.whatsapp.Send(ctx, Message{
		Destinatario: req.Destinatario,
		Mensaje:      req.Mensaje,
	})
	s.finishRecord(ctx, n, proveedor, 1, sendErr)

	if sendErr != nil {
		return n, sendErr
	}
	return n, nil
}

// SendEmail records the delivery as pendiente and hands off to the retrying
// email sender.
func (s *service) SendEmail(ctx context.Context, req EmailRequest) (*Notificacion, error) {
	n, err := s.createRecord(ctx, req.AsociacionID, TipoEmail, req.Destinatario, "", req.Plantilla)
	if err != nil {
		return nil, err
	}

	attempts, sendErr := s.email.Send(ctx, Message{
		Destinatario: req.Destinatario,
		Plantilla:    req.Plantilla,
		Variables:    req.Variables,
	})
	s.finishRecord(ctx, n, s.email.provider.Name(), attempts, sendErr)

	if sendErr != nil {
		return n, sendErr
	}
	return n, nil
}

func (s *service) ListNotificaciones(ctx context.Context, asociacionID uuid.UUID) ([]Notificacion, error) {
	notificaciones := []Notificacion{}
	err := s.db.SelectContext(ctx, &notificaciones, `
		SELECT id, asociacion_id, tipo, destinatario, mensaje, plantilla,
		       estado, proveedor, intentos, error, created_at, updated_at
		FROM notificaciones
		WHERE asociacion_id = $1
		ORDER BY created_at DESC
	`, asociacionID)
	if err != nil {
		return nil, fmt.Errorf("query notificaciones: %w", err)
	}
	return notificaciones, nil
}

func (s *service) createRecord(ctx context.Context, asociacionID uuid.UUID, tipo, destinatario, mensaje, plantilla string) (*Notificacion, error) {
	n := &Notificacion{
		ID:           uuid.New(),
		AsociacionID: asociacionID,
		Tipo:         tipo,
		Destinatario: destinatario,
		Mensaje:      mensaje,
		Plantilla:    plantilla,
		Estado:       EstadoPendiente,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notificaciones
			(id, asociacion_id, tipo, destinatario, mensaje, plantilla, estado, intentos, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
	`, n.ID, n.AsociacionID, n.Tipo, n.Destinatario, n.Mensaje, n.Plantilla, n.Estado, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert notificacion: %w", err)
	}
	return n, nil
}

// finishRecord writes the delivery outcome back onto the record and appends
// the activity event. The message already left (or definitively failed), so
// bookkeeping errors are logged, not propagated.
func (s *service) finishRecord(ctx context.Context, n *Notificacion, proveedor string, attempts int, sendErr error) {
	n.Intentos = attempts
	n.UpdatedAt = time.Now().UTC()
	if sendErr == nil {
		n.Estado = EstadoEnviada
		n.Proveedor = proveedor
	} else {
		n.Estado = EstadoFallida
		n.Error = sendErr.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE notificaciones
		SET estado = $1, proveedor = $2, intentos = $3, error = $4, updated_at = $5
		WHERE id = $6
	`, n.Estado, n.Proveedor, n.Intentos, n.Error, n.UpdatedAt, n.ID)
	if err != nil {
		s.logger.Error().Err(err).Stringer("notificacion_id", n.ID).Msg("update notificacion outcome")
	}

	s.appendDeliveryEvent(ctx, n)
}

func (s *service) appendDeliveryEvent(ctx context.Context, n *Notificacion) {
	eventData := NotificacionEnviadaEvent{
		NotificacionID: n.ID,
		Tipo:           n.Tipo,
		Estado:         n.Estado,
		Proveedor:      n.Proveedor,
		Intentos:       n.Intentos,
	}
	jsonData, err := json.Marshal(eventData)
	if err != nil {
		s.logger.Error().Err(err).Stringer("notificacion_id", n.ID).Msg("marshal delivery event")
		return
	}

	version, err := s.eventStore.GetCurrentVersion(ctx, n.ID)
	if err != nil {
		s.logger.Error().Err(err).Stringer("notificacion_id", n.ID).Msg("read activity version")
		return
	}

	event := eventstore.Event{
		AggregateID:   n.ID,
		AggregateType: "notificacion",
		EventType:     "NotificacionEntregada",
		EventData:     jsonData,
	}
	if err := s.eventStore.AppendEvents(ctx, n.ID, "notificacion", version, []eventstore.Event{event}); err != nil {
		s.logger.Error().Err(err).Stringer("notificacion_id", n.ID).Msg("append delivery event")
	}
}

// IsUnavailable reports whether the error means no provider could take the
// message; handlers map it to 503.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrAllProvidersFailed) || errors.Is(err, ErrProviderRateLimited)
}
