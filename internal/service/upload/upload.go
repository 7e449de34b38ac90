// Package upload runs voice and text sample uploads as paced, cancellable jobs.
package upload

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/echoes/backend/internal/apperr"
	"github.com/zhouzirui/echoes/backend/internal/logging"
	"github.com/zhouzirui/echoes/backend/internal/model/profile"
	"github.com/zhouzirui/echoes/backend/internal/scheduler"
)

var (
	ErrJobNotFound     = errors.New("upload job not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrFinished        = errors.New("upload job already finished")
)

// Kind is the sample type being uploaded.
type Kind string

const (
	Voice Kind = "voice"
	Text  Kind = "text"
)

// ParseKind accepts "voice" or "text"; empty means voice.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", Voice:
		return Voice, true
	case Text:
		return Text, true
	default:
		return "", false
	}
}

// Status is where a job is in its lifecycle.
type Status string

const (
	Pending   Status = "pending"
	Uploading Status = "uploading"
	// Finishing means progress hit 100 and the sink is accepting the payloads.
	Finishing Status = "finishing"
	Completed Status = "completed"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// Terminal reports whether the job can no longer change.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Payload is one uploaded item. Its contents are carried, never interpreted.
type Payload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Request starts an upload.
type Request struct {
	ProfileID string
	Kind      Kind
	Payloads  []Payload
}

// Job is the externally visible state of an upload.
type Job struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profileId"`
	Kind      Kind      `json:"kind"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Items     int       `json:"items"`
	Bytes     int64     `json:"bytes"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Pace is how fast simulated progress advances.
type Pace struct {
	Step     int
	Interval time.Duration
}

// Sink receives the payloads of a job that reached 100%.
type Sink interface {
	Accept(ctx context.Context, job Job, payloads []Payload) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, job Job, payloads []Payload) error

func (f SinkFunc) Accept(ctx context.Context, job Job, payloads []Payload) error {
	return f(ctx, job, payloads)
}

// ProfileSink counts accepted payloads as samples on the profile.
type ProfileSink struct {
	Store profile.Store
}

func (s ProfileSink) Accept(_ context.Context, job Job, payloads []Payload) error {
	kind := profile.VoiceSamples
	if job.Kind == Text {
		kind = profile.TextSamples
	}
	return s.Store.AddSamples(job.ProfileID, kind, len(payloads))
}

// Options wires a Controller.
type Options struct {
	Profiles  profile.Store
	Sink      Sink
	Scheduler scheduler.Scheduler
	VoicePace Pace
	TextPace  Pace
	// Retention is how long a finished job stays readable before Sweep drops it.
	Retention time.Duration
	SweepSpec string
	// OnUpdate, if set, sees every progress or status change.
	OnUpdate func(Job)
}

type job struct {
	Job
	payloads []Payload
	tasks    *scheduler.Group
	ctx      context.Context
	cancel   context.CancelFunc
}

// Controller owns all upload jobs.
type Controller struct {
	opts   Options
	logger zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*job

	cron *cron.Cron
}

// NewController returns a Controller with the default paces where unset.
func NewController(opts Options) *Controller {
	if opts.VoicePace.Step <= 0 {
		opts.VoicePace.Step = 5
	}
	if opts.VoicePace.Interval <= 0 {
		opts.VoicePace.Interval = 200 * time.Millisecond
	}
	if opts.TextPace.Step <= 0 {
		opts.TextPace.Step = 10
	}
	if opts.TextPace.Interval <= 0 {
		opts.TextPace.Interval = 300 * time.Millisecond
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.Real()
	}
	if opts.Retention <= 0 {
		opts.Retention = 10 * time.Minute
	}
	if opts.SweepSpec == "" {
		opts.SweepSpec = "@every 1m"
	}
	if opts.Sink == nil {
		opts.Sink = ProfileSink{Store: opts.Profiles}
	}
	return &Controller{
		opts:   opts,
		logger: logging.Component("upload"),
		jobs:   make(map[string]*job),
	}
}

// Start validates req and begins a job.
func (c *Controller) Start(_ context.Context, req Request) (Job, error) {
	kind, ok := ParseKind(string(req.Kind))
	if !ok {
		return Job{}, apperr.Validation("kind", "kind must be voice or text")
	}
	if len(req.Payloads) == 0 {
		if kind == Voice {
			return Job{}, apperr.Validation("files", "Please record or upload at least one audio file")
		}
		return Job{}, apperr.Validation("files", "Please provide at least one text sample")
	}
	profileID := strings.TrimSpace(req.ProfileID)
	if profileID == "" {
		return Job{}, apperr.Validation("profileId", "Please select an ancestor profile")
	}
	if _, ok := c.opts.Profiles.FindByID(profileID); !ok {
		return Job{}, ErrProfileNotFound
	}

	now := c.opts.Scheduler.Now().UTC()
	var size int64
	for _, p := range req.Payloads {
		size += int64(len(p.Data))
	}
	j := &job{
		Job: Job{
			ID:        uuid.NewString(),
			ProfileID: profileID,
			Kind:      kind,
			Status:    Uploading,
			Items:     len(req.Payloads),
			Bytes:     size,
			CreatedAt: now,
			UpdatedAt: now,
		},
		payloads: append([]Payload(nil), req.Payloads...),
		tasks:    scheduler.NewGroup(),
	}
	j.ctx, j.cancel = context.WithCancel(context.Background())

	pace := c.pace(kind)
	c.mu.Lock()
	c.jobs[j.ID] = j
	j.tasks.Add(c.opts.Scheduler.Every(pace.Interval, func() { c.step(j.ID, pace.Step) }))
	snap := j.Job
	c.mu.Unlock()

	c.logger.Info().Str("job_id", snap.ID).Str("profile_id", profileID).Str("kind", string(kind)).Int("items", snap.Items).Msg("upload started")
	c.notify(snap)
	return snap, nil
}

func (c *Controller) pace(kind Kind) Pace {
	if kind == Text {
		return c.opts.TextPace
	}
	return c.opts.VoicePace
}

func (c *Controller) step(id string, delta int) {
	c.mu.Lock()
	j, ok := c.jobs[id]
	if !ok || j.Status != Uploading {
		c.mu.Unlock()
		return
	}
	j.Progress = clamp(j.Progress + delta)
	j.UpdatedAt = c.opts.Scheduler.Now().UTC()
	done := j.Progress >= 100
	var payloads []Payload
	if done {
		j.tasks.CancelAll()
		j.Status = Finishing
		payloads = append([]Payload(nil), j.payloads...)
	}
	snap := j.Job
	ctx := j.ctx
	c.mu.Unlock()

	c.notify(snap)
	if done {
		c.finish(ctx, j, snap, payloads)
	}
}

// finish hands the payloads to the sink. The job is Finishing meanwhile, so Cancel
// cannot race the commit.
func (c *Controller) finish(ctx context.Context, j *job, snap Job, payloads []Payload) {
	err := c.opts.Sink.Accept(ctx, snap, payloads)

	c.mu.Lock()
	if j.Status != Finishing {
		c.mu.Unlock()
		return
	}
	if err != nil {
		j.Status = Failed
		j.Error = err.Error()
	} else {
		j.Status = Completed
	}
	j.UpdatedAt = c.opts.Scheduler.Now().UTC()
	j.payloads = nil
	snap = j.Job
	c.mu.Unlock()

	if err != nil {
		c.logger.Error().Err(err).Str("job_id", snap.ID).Msg("upload failed")
	} else {
		c.logger.Info().Str("job_id", snap.ID).Int("items", snap.Items).Msg("upload completed")
	}
	c.notify(snap)
}

// Cancel stops a running job.
func (c *Controller) Cancel(id string) (Job, error) {
	c.mu.Lock()
	j, ok := c.jobs[id]
	if !ok {
		c.mu.Unlock()
		return Job{}, ErrJobNotFound
	}
	if j.Status.Terminal() || j.Status == Finishing {
		snap := j.Job
		c.mu.Unlock()
		return snap, ErrFinished
	}
	j.tasks.CancelAll()
	j.cancel()
	j.Status = Cancelled
	j.UpdatedAt = c.opts.Scheduler.Now().UTC()
	j.payloads = nil
	snap := j.Job
	c.mu.Unlock()

	c.notify(snap)
	return snap, nil
}

// Get returns a job by id.
func (c *Controller) Get(id string) (Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j.Job, nil
}

// Sweep drops jobs that finished more than Retention before now and returns how many.
func (c *Controller) Sweep(now time.Time) int {
	c.mu.Lock()
	removed := 0
	for id, j := range c.jobs {
		if !j.Status.Terminal() || now.Sub(j.UpdatedAt) < c.opts.Retention {
			continue
		}
		j.cancel()
		delete(c.jobs, id)
		removed++
	}
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Info().Int("removed", removed).Msg("swept finished uploads")
	}
	return removed
}

// StartSweep schedules the periodic sweep.
func (c *Controller) StartSweep() error {
	cr := cron.New()
	if _, err := cr.AddFunc(c.opts.SweepSpec, func() { c.Sweep(c.opts.Scheduler.Now()) }); err != nil {
		return errors.Wrapf(err, "invalid sweep spec %q", c.opts.SweepSpec)
	}
	c.mu.Lock()
	c.cron = cr
	c.mu.Unlock()
	cr.Start()
	return nil
}

// Close stops the sweep and cancels every running job.
func (c *Controller) Close() {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr != nil {
		<-cr.Stop().Done()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, j := range c.jobs {
		j.tasks.CancelAll()
		j.cancel()
		if !j.Status.Terminal() {
			j.Status = Cancelled
		}
	}
}

func (c *Controller) notify(j Job) {
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(j)
	}
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
