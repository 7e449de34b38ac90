package profile

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/echoes/backend/internal/apperr"
	"github.com/zhouzirui/echoes/backend/internal/model/profile"
	"github.com/zhouzirui/echoes/backend/pkg/utils"
)

// Handler serves the remembered-relative profiles.
type Handler struct {
	profiles profile.Store
}

// New creates a profile handler.
func New(profiles profile.Store) *Handler {
	return &Handler{profiles: profiles}
}

// RegisterRoutes mounts /profiles on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/profiles", func(pr chi.Router) {
		pr.Get("/", h.handleList)
		pr.Post("/", h.handleCreate)
		pr.Get("/{profileID}", h.handleGet)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.profiles.List())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := h.profiles.FindByID(chi.URLParam(r, "profileID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "profile not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input profile.NewProfile
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.profiles.Create(input)
	if err != nil {
		if apperr.IsValidation(err) {
			utils.RespondValidation(w, err)
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, p)
}
