package stream

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/echoes/backend/internal/model/session"
	sessionService "github.com/zhouzirui/echoes/backend/internal/service/session"
	"github.com/zhouzirui/echoes/backend/pkg/utils"
)

// Subscriber yields a session's events, typically the event bus.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan session.Event, error)
}

// Handler streams session events as Server-Sent Events. The first event is a snapshot;
// later events already folded into it are skipped.
type Handler struct {
	sessions  *sessionService.Manager
	events    Subscriber
	keepAlive time.Duration
}

// New creates a stream handler.
func New(sessions *sessionService.Manager, events Subscriber) *Handler {
	return &Handler{sessions: sessions, events: events, keepAlive: 15 * time.Second}
}

// RegisterRoutes mounts /events on a /sessions/{sessionID} router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleEvents)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctrl, err := h.sessions.Get(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, err := h.events.Subscribe(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("subscribe to session events")
		utils.RespondError(w, http.StatusInternalServerError, "event stream unavailable")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	snap := ctrl.Snapshot()
	if err := utils.SendSSEEvent(w, flusher, strconv.FormatUint(snap.Seq, 10), "snapshot", snap); err != nil {
		return
	}
	if snap.State == session.Ended {
		return
	}
	if err := h.forward(ctx, w, flusher, events, snap.Seq); err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("event stream closed")
	}
}

func (h *Handler) forward(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, events <-chan session.Event, after uint64) error {
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keep-alive"); err != nil {
				return err
			}
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Seq <= after {
				continue
			}
			if err := utils.SendSSEEvent(w, flusher, strconv.FormatUint(e.Seq, 10), string(e.Type), e); err != nil {
				return err
			}
			if e.Type == session.EventState && e.State == session.Ended {
				return nil
			}
		}
	}
}
