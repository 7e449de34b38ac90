package session

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/echoes/backend/internal/apperr"
	"github.com/zhouzirui/echoes/backend/internal/logging"
	"github.com/zhouzirui/echoes/backend/internal/model/profile"
	"github.com/zhouzirui/echoes/backend/internal/model/session"
	"github.com/zhouzirui/echoes/backend/internal/scheduler"
	"github.com/zhouzirui/echoes/backend/internal/script"
	"github.com/zhouzirui/echoes/backend/internal/service/media"
	"github.com/zhouzirui/echoes/backend/internal/service/reply"
	"github.com/zhouzirui/echoes/backend/internal/service/voice"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrProfileNotFound = errors.New("profile not found")
)

// EventSink fans session events out to subscribers, e.g. the event bus.
type EventSink interface {
	Attach(sessionID string) (obs session.Observer, detach func())
}

// CreateRequest starts a session with a stored profile.
type CreateRequest struct {
	ProfileID string          `json:"profileId"`
	Variant   session.Variant `json:"variant"`
}

// ManagerOptions wires a Manager. Profiles is required.
type ManagerOptions struct {
	Profiles    profile.Store
	Scripts     *script.Catalog
	Timing      Timing
	Scheduler   scheduler.Scheduler
	Capture     media.Capture
	Synthesizer voice.Synthesizer
	Transcriber voice.Transcriber
	Events      EventSink
	Random      reply.Source
	// Retention is how long an ended session stays readable before Sweep drops it.
	Retention time.Duration
	SweepSpec string
	OnEnd     func(session.Snapshot)
}

type entry struct {
	ctrl   *Controller
	detach func()
}

// Manager is the in-memory registry of live sessions.
type Manager struct {
	opts   ManagerOptions
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*entry

	cron *cron.Cron
}

// NewManager bootstraps the in-memory session registry.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Scripts == nil {
		opts.Scripts = script.Default()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.Real()
	}
	if opts.Random == nil {
		opts.Random = NewLockedRand(time.Now().UnixNano())
	}
	if opts.Retention <= 0 {
		opts.Retention = 10 * time.Minute
	}
	if opts.SweepSpec == "" {
		opts.SweepSpec = "@every 1m"
	}
	return &Manager{
		opts:     opts,
		logger:   logging.Component("session-manager"),
		sessions: make(map[string]*entry),
	}
}

// CreateSession builds a controller for the profile and starts it.
func (m *Manager) CreateSession(ctx context.Context, req CreateRequest) (*Controller, error) {
	profileID := strings.TrimSpace(req.ProfileID)
	if profileID == "" {
		return nil, apperr.Validation("profileId", "Please select an ancestor profile")
	}
	variant, ok := session.ParseVariant(string(req.Variant))
	if !ok {
		return nil, apperr.Validation("variant", "variant must be call or chat")
	}

	p, ok := m.opts.Profiles.FindByID(profileID)
	if !ok {
		return nil, ErrProfileNotFound
	}

	scr := m.opts.Scripts.For(p.ID)
	var strategy reply.Strategy = reply.Filler(scr.Filler)
	var lines []string
	if variant == session.Chat {
		strategy = reply.NewRandom(scr.Pool, m.opts.Random)
	} else {
		lines = scr.Lines
	}

	chain, err := reply.NewChain(ctx, reply.BuildSystemPrompt(p), strategy)
	if err != nil {
		return nil, err
	}

	ctrl, err := NewController(Options{
		Variant: variant,
		Party: session.Party{
			ProfileID: p.ID,
			Name:      p.Name,
			AvatarURL: p.AvatarURL,
			VoiceID:   p.VoiceID,
		},
		Greeting:      p.Greeting,
		ScriptedLines: lines,
		Timing:        m.opts.Timing,
		Scheduler:     m.opts.Scheduler,
		Replies:       chain,
		Filler:        scr.Filler,
		Synthesizer:   m.opts.Synthesizer,
		Transcriber:   m.opts.Transcriber,
		Capture:       m.opts.Capture,
		OnEnd:         m.opts.OnEnd,
	})
	if err != nil {
		return nil, err
	}

	e := &entry{ctrl: ctrl, detach: func() {}}
	if m.opts.Events != nil {
		obs, detach := m.opts.Events.Attach(ctrl.ID())
		unsubscribe := ctrl.Subscribe(obs)
		e.detach = func() {
			unsubscribe()
			detach()
		}
	}

	m.mu.Lock()
	m.sessions[ctrl.ID()] = e
	m.mu.Unlock()

	ctrl.Start()
	m.logger.Info().Str("session_id", ctrl.ID()).Str("profile_id", p.ID).Str("variant", string(variant)).Msg("session created")
	return ctrl, nil
}

// Get returns the controller for id.
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.ctrl, nil
}

// List returns snapshots of every registered session, oldest first.
func (m *Manager) List() []session.Snapshot {
	m.mu.RLock()
	ctrls := make([]*Controller, 0, len(m.sessions))
	for _, e := range m.sessions {
		ctrls = append(ctrls, e.ctrl)
	}
	m.mu.RUnlock()

	out := make([]session.Snapshot, 0, len(ctrls))
	for _, c := range ctrls {
		out = append(out, c.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// End ends the session. Ending twice is not an error.
func (m *Manager) End(id string) (session.Snapshot, error) {
	ctrl, err := m.Get(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	snap, _ := ctrl.EndSession()
	return snap, nil
}

// Remove tears the session down and forgets it.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	e.close()
	return nil
}

// Sweep drops sessions that ended more than Retention before now and returns how many.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var expired []*entry
	for id, e := range m.sessions {
		snap := e.ctrl.Snapshot()
		if snap.EndedAt == nil || now.Sub(*snap.EndedAt) < m.opts.Retention {
			continue
		}
		expired = append(expired, e)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, e := range expired {
		e.close()
	}
	if len(expired) > 0 {
		m.logger.Info().Int("removed", len(expired)).Msg("swept ended sessions")
	}
	return len(expired)
}

// Start schedules the periodic sweep.
func (m *Manager) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(m.opts.SweepSpec, func() { m.Sweep(m.opts.Scheduler.Now()) }); err != nil {
		return errors.Wrapf(err, "invalid sweep spec %q", m.opts.SweepSpec)
	}
	m.cron = c
	c.Start()
	return nil
}

// Stop halts the sweep and tears down every session.
func (m *Manager) Stop(ctx context.Context) {
	if m.cron != nil {
		select {
		case <-m.cron.Stop().Done():
		case <-ctx.Done():
		}
	}

	m.mu.Lock()
	all := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		all = append(all, e)
	}
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range all {
		e.close()
	}
}

func (e *entry) close() {
	e.ctrl.Close()
	e.detach()
}

// LockedRand is a goroutine-safe reply.Source.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand seeds a LockedRand.
func NewLockedRand(seed int64) *LockedRand {
	return &LockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *LockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}
