package session

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/echoes/backend/internal/apperr"
	"github.com/zhouzirui/echoes/backend/internal/service/media"
	sessionService "github.com/zhouzirui/echoes/backend/internal/service/session"
	"github.com/zhouzirui/echoes/backend/pkg/utils"
)

const maxAudioChunk = 1 << 20

// Handler exposes session control over REST.
type Handler struct {
	sessions *sessionService.Manager
}

// New creates a session handler.
func New(sessions *sessionService.Manager) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes mounts /sessions on r. Extra registers more routes under
// /sessions/{sessionID}, e.g. the event stream and the websocket.
func (h *Handler) RegisterRoutes(r chi.Router, extra ...func(chi.Router)) {
	r.Route("/sessions", func(sr chi.Router) {
		sr.Post("/", h.handleCreate)
		sr.Get("/", h.handleList)
		sr.Route("/{sessionID}", func(one chi.Router) {
			one.Get("/", h.handleGet)
			one.Delete("/", h.handleDelete)
			one.Post("/messages", h.handleSendMessage)
			one.Post("/messages/{messageID}/play", h.handlePlay)
			one.Post("/end", h.handleEnd)
			one.Post("/mute", h.handleMute)
			one.Post("/speaker", h.handleSpeaker)
			one.Post("/recording/start", h.handleRecordingStart)
			one.Post("/recording/audio", h.handleRecordingAudio)
			one.Post("/recording/stop", h.handleRecordingStop)
			for _, register := range extra {
				register(one)
			}
		})
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionService.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctrl, err := h.sessions.CreateSession(r.Context(), req)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, ctrl.Snapshot())
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.sessions.List())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Remove(chi.URLParam(r, "sessionID")); err != nil {
		RespondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var payload struct {
		Text    string `json:"text"`
		IsVoice bool   `json:"isVoice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	send := ctrl.SendUserMessage
	if payload.IsVoice {
		send = ctrl.SendVoiceMessage
	}
	msg, err := send(payload.Text)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handlePlay(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	playback, err := ctrl.PlayVoice(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, playback)
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.End(chi.URLParam(r, "sessionID"))
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleMute(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	muted, err := ctrl.ToggleMute()
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"muted": muted})
}

func (h *Handler) handleSpeaker(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	on, err := ctrl.ToggleSpeaker()
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"speakerOn": on})
}

func (h *Handler) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := ctrl.StartRecording(r.Context()); err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, ctrl.Snapshot())
}

func (h *Handler) handleRecordingAudio(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	chunk, err := io.ReadAll(io.LimitReader(r.Body, maxAudioChunk))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio chunk")
		return
	}
	if err := ctrl.AppendAudio(chunk); err != nil {
		RespondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	msg, err := ctrl.StopRecording(r.Context())
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*sessionService.Controller, bool) {
	ctrl, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		RespondServiceError(w, err)
		return nil, false
	}
	return ctrl, true
}

// RespondServiceError maps session and media errors onto HTTP statuses.
func RespondServiceError(w http.ResponseWriter, err error) {
	if apperr.IsValidation(err) {
		utils.RespondValidation(w, err)
		return
	}
	if denied, ok := apperr.AsPermissionDenied(err); ok {
		utils.RespondPermissionDenied(w, denied)
		return
	}
	switch {
	case errors.Is(err, sessionService.ErrSessionNotFound),
		errors.Is(err, sessionService.ErrProfileNotFound),
		errors.Is(err, sessionService.ErrMessageNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sessionService.ErrNotActive),
		errors.Is(err, sessionService.ErrNotPlayable),
		errors.Is(err, media.ErrAlreadyRecording),
		errors.Is(err, media.ErrNotRecording):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("session request failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
