// Package live serves a session over a websocket: events out, controls in.
package live

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/echoes/backend/internal/apperr"
	"github.com/zhouzirui/echoes/backend/internal/model/session"
	sessionService "github.com/zhouzirui/echoes/backend/internal/service/session"
	"github.com/zhouzirui/echoes/backend/pkg/utils"
)

// Subscriber yields a session's events, typically the event bus.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan session.Event, error)
}

// Handler upgrades /sessions/{sessionID}/ws connections.
type Handler struct {
	sessions *sessionService.Manager
	events   Subscriber
	upgrader websocket.Upgrader

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// New creates a websocket handler.
func New(sessions *sessionService.Manager, events Subscriber) *Handler {
	return &Handler{
		sessions: sessions,
		events:   events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pingInterval: 54 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
	}
}

// RegisterRoutes mounts /ws on a /sessions/{sessionID} router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Data      []byte `json:"data,omitempty"`
	Action    string `json:"action,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Notice    string      `json:"notice,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type client struct {
	conn         *websocket.Conn
	sessionID    string
	writeTimeout time.Duration
	logger       zerolog.Logger

	mu sync.Mutex
}

func (c *client) send(msg outgoingMessage) error {
	msg.SessionID = c.sessionID
	msg.Timestamp = time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(msg)
}

func (c *client) control(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(messageType, data, time.Now().Add(c.writeTimeout))
}

func (c *client) sendError(err error) {
	msg := outgoingMessage{Type: "error", Error: err.Error()}
	if denied, ok := apperr.AsPermissionDenied(err); ok {
		msg.Notice = denied.Notice
	}
	if fields := apperr.Fields(err); len(fields) > 0 {
		msg.Error = fields[0].Message
	}
	if werr := c.send(msg); werr != nil {
		c.logger.Debug().Err(werr).Msg("write error frame")
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctrl, err := h.sessions.Get(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{
		conn:         conn,
		sessionID:    sessionID,
		writeTimeout: h.writeTimeout,
		logger:       log.With().Str("component", "live").Str("session_id", sessionID).Logger(),
	}
	c.logger.Info().Msg("websocket connected")

	events, err := h.events.Subscribe(ctx, sessionID)
	if err != nil {
		c.sendError(err)
		return
	}

	snap := ctrl.Snapshot()
	if err := c.send(outgoingMessage{Type: "snapshot", Data: snap}); err != nil {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go h.pingLoop(ctx, c)
	if snap.State == session.Ended {
		h.closeEnded(c)
	} else {
		go h.pump(ctx, c, events, snap.Seq)
	}

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			c.logger.Info().Msg("websocket disconnected")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		h.handleMessage(ctx, c, ctrl, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *client, ctrl *sessionService.Controller, msg inboundMessage) {
	var err error
	switch msg.Type {
	case "text":
		_, err = ctrl.SendUserMessage(msg.Text)
	case "audio":
		err = ctrl.AppendAudio(msg.Data)
	case "record":
		switch msg.Action {
		case "start":
			err = ctrl.StartRecording(ctx)
		case "stop":
			_, err = ctrl.StopRecording(ctx)
		default:
			err = apperr.Validation("action", "record action must be start or stop")
		}
	case "end":
		ctrl.EndSession()
	case "mute":
		_, err = ctrl.ToggleMute()
	case "speaker":
		_, err = ctrl.ToggleSpeaker()
	case "play":
		_, err = ctrl.PlayVoice(ctx, msg.MessageID)
	default:
		err = apperr.Validation("type", "unsupported message type: "+msg.Type)
	}
	if err != nil {
		c.sendError(err)
	}
}

// pump forwards bus events newer than the snapshot and closes the socket once the
// session has ended.
func (h *Handler) pump(ctx context.Context, c *client, events <-chan session.Event, after uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Seq <= after {
				continue
			}
			if err := c.send(outgoingMessage{Type: "event", Data: e}); err != nil {
				c.logger.Debug().Err(err).Msg("write event frame")
				return
			}
			if e.Type == session.EventState && e.State == session.Ended {
				h.closeEnded(c)
				return
			}
		}
	}
}

func (h *Handler) closeEnded(c *client) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
	if err := c.control(websocket.CloseMessage, msg); err != nil {
		c.logger.Debug().Err(err).Msg("write close frame")
	}
}

func (h *Handler) pingLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.control(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}
