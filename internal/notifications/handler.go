// internal/notifications/handler.go
package notifications

import (
	"encoding/json"
	"net/http"

	"fidelya/internal/httpapi"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/notificaciones/whatsapp", h.handleSendWhatsApp)
	r.Post("/notificaciones/email", h.handleSendEmail)
	r.Get("/asociaciones/{id}/notificaciones", h.handleList)
	r.Get("/health", h.handleHealth)
}

func (h *Handler) handleSendWhatsApp(w http.ResponseWriter, r *http.Request) {
	var req WhatsAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AsociacionID == uuid.Nil || req.Destinatario == "" || req.Mensaje == "" {
		httpapi.RespondError(w, http.StatusBadRequest, "asociacion_id, destinatario and mensaje are required")
		return
	}

	n, err := h.service.SendWhatsApp(r.Context(), req)
	if err != nil {
		if IsUnavailable(err) {
			httpapi.RespondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusCreated, n)
}

func (h *Handler) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AsociacionID == uuid.Nil || req.Destinatario == "" || req.Plantilla == "" {
		httpapi.RespondError(w, http.StatusBadRequest, "asociacion_id, destinatario and plantilla are required")
		return
	}

	n, err := h.service.SendEmail(r.Context(), req)
	if err != nil {
		if IsUnavailable(err) {
			httpapi.RespondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusCreated, n)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid asociacion id")
		return
	}
	notificaciones, err := h.service.ListNotificaciones(r.Context(), id)
	if err != nil {
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, notificaciones)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpapi.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
