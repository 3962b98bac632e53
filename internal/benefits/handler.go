// internal/benefits/handler.go
package benefits

import (
	"encoding/json"
	"errors"
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

// Routes mounts all benefits endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/comercios", h.handleCreateComercio)
	r.Get("/comercios", h.handleListComercios)
	r.Get("/comercios/{id}", h.handleGetComercio)
	r.Get("/comercios/{id}/beneficios", h.handleListBeneficiosByComercio)
	r.Post("/beneficios", h.handleCreateBeneficio)
	r.Get("/beneficios/{id}", h.handleGetBeneficio)
	r.Put("/beneficios/{id}/estado", h.handleUpdateBeneficioEstado)
	r.Get("/asociaciones/{id}/beneficios", h.handleListBeneficios)
	r.Get("/asociaciones/{id}/beneficios/search", h.handleSearchBeneficios)
	r.Post("/validaciones", h.handleValidate)
	r.Get("/socios/{id}/validaciones", h.handleListValidaciones)
	r.Get("/health", h.handleHealth)
}

func urlUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

func (h *Handler) handleCreateComercio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nombre    string `json:"nombre"`
		Categoria string `json:"categoria"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Nombre == "" {
		httpapi.RespondError(w, http.StatusBadRequest, "nombre is required")
		return
	}
	comercio, err := h.service.CreateComercio(r.Context(), req.Nombre, req.Categoria)
	if err != nil {
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusCreated, comercio)
}

func (h *Handler) handleGetComercio(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid comercio id")
		return
	}
	comercio, err := h.service.GetComercio(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, comercio)
}

func (h *Handler) handleListComercios(w http.ResponseWriter, r *http.Request) {
	comercios, err := h.service.ListComercios(r.Context())
	if err != nil {
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, comercios)
}

func (h *Handler) handleListBeneficiosByComercio(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid comercio id")
		return
	}
	beneficios, err := h.service.ListBeneficiosByComercio(r.Context(), id)
	if err != nil {
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, beneficios)
}

func (h *Handler) handleUpdateBeneficioEstado(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid beneficio id")
		return
	}
	var req struct {
		Estado EstadoBeneficio `json:"estado"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Estado != BeneficioActivo && req.Estado != BeneficioInactivo {
		httpapi.RespondError(w, http.StatusBadRequest, "estado must be activo or inactivo")
		return
	}
	beneficio, err := h.service.UpdateBeneficioEstado(r.Context(), id, req.Estado)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, beneficio)
}

func (h *Handler) handleCreateBeneficio(w http.ResponseWriter, r *http.Request) {
	var nb NewBeneficio
	if err := json.NewDecoder(r.Body).Decode(&nb); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if nb.Titulo == "" || nb.ComercioID == uuid.Nil || nb.AsociacionID == uuid.Nil {
		httpapi.RespondError(w, http.StatusBadRequest, "titulo, comercio_id and asociacion_id are required")
		return
	}
	if nb.Descuento < 0 || nb.Descuento > 100 {
		httpapi.RespondError(w, http.StatusBadRequest, "descuento must be between 0 and 100")
		return
	}
	beneficio, err := h.service.CreateBeneficio(r.Context(), nb)
	if err != nil {
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusCreated, beneficio)
}

func (h *Handler) handleGetBeneficio(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid beneficio id")
		return
	}
	beneficio, err := h.service.GetBeneficio(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, beneficio)
}

func (h *Handler) handleListBeneficios(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid asociacion id")
		return
	}
	beneficios, err := h.service.ListBeneficios(r.Context(), id)
	if err != nil {
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, beneficios)
}

func (h *Handler) handleSearchBeneficios(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid asociacion id")
		return
	}
	query := r.URL.Query().Get("q")
	beneficios, err := h.service.SearchBeneficios(r.Context(), id, query)
	if err != nil {
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, beneficios)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidacionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SocioID == uuid.Nil || req.BeneficioID == uuid.Nil || req.ComercioID == uuid.Nil {
		httpapi.RespondError(w, http.StatusBadRequest, "socio_id, comercio_id and beneficio_id are required")
		return
	}
	if req.Monto < 0 {
		httpapi.RespondError(w, http.StatusBadRequest, "monto must not be negative")
		return
	}

	validacion, err := h.service.Validate(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusCreated, validacion)
}

func (h *Handler) handleListValidaciones(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid socio id")
		return
	}
	validaciones, err := h.service.ListValidaciones(r.Context(), id)
	if err != nil {
		httpapi.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, validaciones)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpapi.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
