// internal/notifications/service.go
package notifications

import (
	"context"

	"github.com/google/uuid"
)

// WhatsAppRequest delivers a free-form message through the provider chain.
type WhatsAppRequest struct {
	AsociacionID uuid.UUID `json:"asociacion_id"`
	Destinatario string    `json:"destinatario"`
	Mensaje      string    `json:"mensaje"`
}

// EmailRequest delivers a templated email. Variables fill the provider-side
// template named by Plantilla.
type EmailRequest struct {
	AsociacionID uuid.UUID         `json:"asociacion_id"`
	Destinatario string            `json:"destinatario"`
	Plantilla    string            `json:"plantilla"`
	Variables    map[string]string `json:"variables"`
}

type Service interface {
	SendWhatsApp(ctx context.Context, req WhatsAppRequest) (*Notificacion, error)
	SendEmail(ctx context.Context, req EmailRequest) (*Notificacion, error)
	ListNotificaciones(ctx context.Context, asociacionID uuid.UUID) ([]Notificacion, error)
}
