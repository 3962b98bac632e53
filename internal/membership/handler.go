// internal/membership/handler.go
package membership

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"fidelya/internal/httpapi"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Syncer is the reconciliation surface the HTTP layer exposes.
type Syncer interface {
	Diagnose(ctx context.Context, asociacionID uuid.UUID) (*DiagnosisReport, error)
	SyncSocio(ctx context.Context, socioID uuid.UUID) (*SocioSyncResult, error)
	SyncAsociacion(ctx context.Context, asociacionID uuid.UUID) (*SyncReport, error)
}

// Trigger is the manual-trigger surface of the reconciler.
type Trigger interface {
	TriggerNow() bool
	InFlight() bool
}

type Handler struct {
	service    Service
	sync       Syncer
	reconciler Trigger
}

func NewHandler(service Service, sync Syncer, reconciler Trigger) *Handler {
	return &Handler{service: service, sync: sync, reconciler: reconciler}
}

// Routes mounts all membership endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/socios", h.handleRegisterSocio)
	r.Post("/login", h.handleLogin)
	r.Get("/socios/{id}", h.handleGetSocio)
	r.Put("/socios/{id}/vencimiento", h.handleUpdateVencimiento)
	r.Post("/socios/{id}/sync", h.handleSyncSocio)
	r.Post("/asociaciones", h.handleCreateAsociacion)
	r.Get("/asociaciones/{id}", h.handleGetAsociacion)
	r.Get("/asociaciones/{id}/socios", h.handleListSocios)
	r.Get("/asociaciones/{id}/stats", h.handleStats)
	r.Get("/asociaciones/{id}/diagnostico", h.handleDiagnose)
	r.Post("/asociaciones/{id}/sync", h.handleSyncAsociacion)
	r.Post("/sync/trigger", h.handleTrigger)
	r.Get("/health", h.handleHealth)
}

func urlUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

func (h *Handler) handleRegisterSocio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AsociacionID string `json:"asociacion_id"`
		Nombre       string `json:"nombre"`
		Email        string `json:"email"`
		Telefono     string `json:"telefono"`
		Password     string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	asociacionID, err := uuid.Parse(req.AsociacionID)
	if err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid asociacion_id")
		return
	}
	if req.Nombre == "" || req.Email == "" || req.Password == "" {
		httpapi.RespondError(w, http.StatusBadRequest, "nombre, email and password are required")
		return
	}

	socio, err := h.service.RegisterSocio(r.Context(), asociacionID, req.Nombre, req.Email, req.Telefono, req.Password)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			httpapi.RespondError(w, http.StatusForbidden, err.Error())
			return
		}
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusCreated, socio)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	socio, token, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			httpapi.RespondError(w, http.StatusForbidden, err.Error())
			return
		}
		httpapi.RespondError(w, http.StatusForbidden, "invalid credentials")
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"socio": socio,
		"token": token,
	})
}

func (h *Handler) handleGetSocio(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid socio id")
		return
	}
	socio, err := h.service.GetSocio(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, socio)
}

func (h *Handler) handleUpdateVencimiento(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid socio id")
		return
	}
	var req struct {
		FechaVencimiento *time.Time `json:"fecha_vencimiento"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.UpdateFechaVencimiento(r.Context(), id, req.FechaVencimiento); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, map[string]string{"socio_id": id.String()})
}

func (h *Handler) handleSyncSocio(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid socio id")
		return
	}
	result, err := h.sync.SyncSocio(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCreateAsociacion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nombre string `json:"nombre"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Nombre == "" {
		httpapi.RespondError(w, http.StatusBadRequest, "nombre is required")
		return
	}
	asociacion, err := h.service.CreateAsociacion(r.Context(), req.Nombre)
	if err != nil {
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusCreated, asociacion)
}

func (h *Handler) handleGetAsociacion(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid asociacion id")
		return
	}
	asociacion, err := h.service.GetAsociacion(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, asociacion)
}

func (h *Handler) handleListSocios(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid asociacion id")
		return
	}
	socios, err := h.service.ListSocios(r.Context(), id)
	if err != nil {
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, socios)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid asociacion id")
		return
	}
	stats, err := h.service.GetAsociacionStats(r.Context(), id)
	if err != nil {
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid asociacion id")
		return
	}
	report, err := h.sync.Diagnose(r.Context(), id)
	if err != nil {
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, report)
}

func (h *Handler) handleSyncAsociacion(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid asociacion id")
		return
	}
	report, err := h.sync.SyncAsociacion(r.Context(), id)
	if err != nil {
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, report)
}

// handleTrigger requests an immediate reconciliation pass. A trigger while a
// pass is in flight succeeds as a no-op, matching the single-flight guard.
func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	started := h.reconciler.TriggerNow()
	httpapi.RespondJSON(w, http.StatusOK, map[string]bool{
		"started":   started,
		"in_flight": h.reconciler.InFlight() || started,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpapi.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
