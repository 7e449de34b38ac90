package upload

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/echoes/backend/internal/apperr"
	uploadService "github.com/zhouzirui/echoes/backend/internal/service/upload"
	"github.com/zhouzirui/echoes/backend/pkg/utils"
)

const defaultMaxBytes = 32 << 20

// Handler accepts voice and text sample uploads.
type Handler struct {
	uploads  *uploadService.Controller
	maxBytes int64
}

// New creates an upload handler. maxBytes <= 0 means 32 MiB.
func New(uploads *uploadService.Controller, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Handler{uploads: uploads, maxBytes: maxBytes}
}

// RegisterRoutes mounts /uploads on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/uploads", func(ur chi.Router) {
		ur.Post("/", h.handleStart)
		ur.Get("/{jobID}", h.handleGet)
		ur.Delete("/{jobID}", h.handleCancel)
	})
}

// handleStart reads a multipart form: profileId, kind, any number of "files" and,
// for text uploads, an optional "text" field that counts as one more sample.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	kind, ok := uploadService.ParseKind(r.FormValue("kind"))
	if !ok {
		utils.RespondValidation(w, apperr.Validation("kind", "kind must be voice or text"))
		return
	}

	payloads, err := readFiles(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if text := strings.TrimSpace(r.FormValue("text")); text != "" && kind == uploadService.Text {
		payloads = append(payloads, uploadService.Payload{
			Name:        "text-sample.txt",
			ContentType: "text/plain",
			Data:        []byte(text),
		})
	}

	job, err := h.uploads.Start(r.Context(), uploadService.Request{
		ProfileID: r.FormValue("profileId"),
		Kind:      kind,
		Payloads:  payloads,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, job)
}

func readFiles(r *http.Request) ([]uploadService.Payload, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers := r.MultipartForm.File["files"]
	payloads := make([]uploadService.Payload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", fh.Filename)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", fh.Filename)
		}
		payloads = append(payloads, uploadService.Payload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return payloads, nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.uploads.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, job)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.uploads.Cancel(chi.URLParam(r, "jobID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, job)
}

func respondServiceError(w http.ResponseWriter, err error) {
	if apperr.IsValidation(err) {
		utils.RespondValidation(w, err)
		return
	}
	switch {
	case errors.Is(err, uploadService.ErrJobNotFound),
		errors.Is(err, uploadService.ErrProfileNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, uploadService.ErrFinished):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("upload request failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
