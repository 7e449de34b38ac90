package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/echoes/backend/internal/apperr"
	"github.com/zhouzirui/echoes/backend/internal/logging"
	"github.com/zhouzirui/echoes/backend/internal/model/session"
	"github.com/zhouzirui/echoes/backend/internal/scheduler"
	"github.com/zhouzirui/echoes/backend/internal/service/media"
	"github.com/zhouzirui/echoes/backend/internal/service/reply"
	"github.com/zhouzirui/echoes/backend/internal/service/voice"
)

var (
	ErrEmptyMessage    = apperr.Validation("text", "message text must not be empty")
	ErrNotActive       = errors.New("session is not active")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotPlayable     = errors.New("only remote messages can be played")
)

// Timing holds the delays that drive a session.
type Timing struct {
	ConnectDelay   time.Duration
	TickInterval   time.Duration
	ScriptInterval time.Duration
	ReplyDelay     time.Duration
}

// DefaultTiming returns the production delays.
func DefaultTiming() Timing {
	return Timing{
		ConnectDelay:   2 * time.Second,
		TickInterval:   time.Second,
		ScriptInterval: 12 * time.Second,
		ReplyDelay:     2 * time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.ConnectDelay <= 0 {
		t.ConnectDelay = d.ConnectDelay
	}
	if t.TickInterval <= 0 {
		t.TickInterval = d.TickInterval
	}
	if t.ScriptInterval <= 0 {
		t.ScriptInterval = d.ScriptInterval
	}
	if t.ReplyDelay <= 0 {
		t.ReplyDelay = d.ReplyDelay
	}
	return t
}

// Options configures a Controller. Only Party is required.
type Options struct {
	ID            string
	Variant       session.Variant
	Party         session.Party
	Greeting      string
	ScriptedLines []string
	Timing        Timing
	Scheduler     scheduler.Scheduler
	Replies       reply.Strategy
	Filler        string
	Synthesizer   voice.Synthesizer
	Transcriber   voice.Transcriber
	Capture       media.Capture
	// OnEnd is called once, outside any lock, when EndSession ends the session.
	OnEnd func(session.Snapshot)
	NewID func() string
}

// Controller runs one call or chat. All state lives behind mu; every scheduled
// callback re-checks the state before touching it, so nothing is appended once the
// session has ended.
type Controller struct {
	id          string
	variant     session.Variant
	party       session.Party
	greeting    string
	lines       []string
	timing      Timing
	sched       scheduler.Scheduler
	replies     reply.Strategy
	filler      string
	synth       voice.Synthesizer
	transcriber voice.Transcriber
	recorder    *media.Recorder
	onEnd       func(session.Snapshot)
	newID       func() string
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  *scheduler.Group

	mu               sync.Mutex
	started          bool
	closed           bool
	state            session.State
	createdAt        time.Time
	startedAt        time.Time
	endedAt          time.Time
	elapsed          int
	transcript       []session.Message
	muted            bool
	speakerOn        bool
	playing          string
	recording        bool
	recordingSeconds int
	seq              uint64
	observers        map[int]session.Observer
	nextObserver     int

	// dispatchMu is taken before mu is released so observers see events in commit order.
	dispatchMu sync.Mutex
}

// NewController builds an idle controller. Call Start to begin connecting.
func NewController(opts Options) (*Controller, error) {
	if strings.TrimSpace(opts.Party.Name) == "" {
		return nil, apperr.Validation("party", "remote party name is required")
	}
	variant, ok := session.ParseVariant(string(opts.Variant))
	if !ok {
		return nil, apperr.Validation("variant", "variant must be call or chat")
	}

	c := &Controller{
		id:          opts.ID,
		variant:     variant,
		party:       opts.Party,
		greeting:    opts.Greeting,
		lines:       append([]string(nil), opts.ScriptedLines...),
		timing:      opts.Timing.withDefaults(),
		sched:       opts.Scheduler,
		replies:     opts.Replies,
		filler:      opts.Filler,
		synth:       opts.Synthesizer,
		transcriber: opts.Transcriber,
		onEnd:       opts.OnEnd,
		newID:       opts.NewID,
		tasks:       scheduler.NewGroup(),
		state:       session.Connecting,
		speakerOn:   true,
		observers:   make(map[int]session.Observer),
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if c.sched == nil {
		c.sched = scheduler.Real()
	}
	if c.filler == "" {
		c.filler = "That's interesting. Tell me more about that."
	}
	if c.replies == nil {
		c.replies = reply.Filler(c.filler)
	}
	if c.synth == nil {
		c.synth = voice.NewMockSynthesizer(0)
	}
	if c.transcriber == nil {
		c.transcriber = voice.PlaceholderTranscriber{}
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	capture := opts.Capture
	if capture == nil {
		capture = media.NewSimulatedCapture()
	}
	c.recorder = media.NewRecorder(capture, c.sched, c.recordingTick)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.createdAt = c.sched.Now().UTC()
	c.logger = logging.Component("session").With().
		Str("session_id", c.id).
		Str("variant", string(c.variant)).
		Str("profile_id", c.party.ProfileID).
		Logger()
	return c, nil
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Done is closed once the session has ended or been torn down.
func (c *Controller) Done() <-chan struct{} { return c.ctx.Done() }

// State returns the current lifecycle state.
func (c *Controller) State() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins the session. A call connects after Timing.ConnectDelay; a chat is
// active immediately. Later calls do nothing.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started || c.state != session.Connecting {
		c.mu.Unlock()
		return
	}
	c.started = true

	if c.variant == session.Chat {
		events := c.activateLocked()
		c.unlockAndDispatch(events)
		return
	}

	c.tasks.Add(c.sched.AfterFunc(c.timing.ConnectDelay, c.connect))
	events := []session.Event{c.eventLocked(session.EventState)}
	c.unlockAndDispatch(events)
	c.logger.Info().Dur("connect_delay", c.timing.ConnectDelay).Msg("session connecting")
}

func (c *Controller) connect() {
	c.mu.Lock()
	if c.state != session.Connecting {
		c.mu.Unlock()
		return
	}
	events := c.activateLocked()
	c.unlockAndDispatch(events)
	c.logger.Info().Msg("session active")
}

func (c *Controller) activateLocked() []session.Event {
	if !c.transitionLocked(session.Active) {
		return nil
	}
	c.startedAt = c.sched.Now().UTC()
	events := []session.Event{c.eventLocked(session.EventState)}

	if strings.TrimSpace(c.greeting) != "" {
		msg := c.appendLocked(session.Remote, c.greeting, false)
		events = append(events, c.messageEventLocked(msg))
	}

	c.tasks.Add(c.sched.Every(c.timing.TickInterval, c.tick))

	if c.variant == session.Call {
		for i, line := range c.lines {
			line := line
			offset := time.Duration(i+1) * c.timing.ScriptInterval
			c.tasks.Add(c.sched.AfterFunc(offset, func() { c.appendScripted(line) }))
		}
	}
	return events
}

func (c *Controller) tick() {
	c.mu.Lock()
	if c.state != session.Active {
		c.mu.Unlock()
		return
	}
	c.elapsed++
	events := []session.Event{c.eventLocked(session.EventTick)}
	c.unlockAndDispatch(events)
}

func (c *Controller) appendScripted(text string) {
	c.mu.Lock()
	if c.state != session.Active {
		c.mu.Unlock()
		return
	}
	msg := c.appendLocked(session.Remote, text, false)
	events := []session.Event{c.messageEventLocked(msg)}
	c.unlockAndDispatch(events)
}

// SendUserMessage appends a typed user message and schedules one reply.
func (c *Controller) SendUserMessage(text string) (session.Message, error) {
	return c.send(text, false)
}

// SendVoiceMessage is SendUserMessage for transcribed speech; the reply is spoken too.
func (c *Controller) SendVoiceMessage(text string) (session.Message, error) {
	return c.send(text, true)
}

func (c *Controller) send(text string, isVoice bool) (session.Message, error) {
	if strings.TrimSpace(text) == "" {
		return session.Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state != session.Active {
		c.mu.Unlock()
		return session.Message{}, ErrNotActive
	}
	msg := c.appendLocked(session.User, text, isVoice)
	history := append([]session.Message(nil), c.transcript...)
	events := []session.Event{c.messageEventLocked(msg)}
	c.tasks.Add(c.sched.AfterFunc(c.timing.ReplyDelay, func() {
		c.respond(text, isVoice, history)
	}))
	c.unlockAndDispatch(events)
	return msg, nil
}

func (c *Controller) respond(userText string, isVoice bool, history []session.Message) {
	if c.State() != session.Active {
		return
	}

	text, err := c.replies.Reply(c.ctx, reply.Request{
		SessionID: c.id,
		Party:     c.party,
		UserText:  userText,
		IsVoice:   isVoice,
		History:   history,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil && c.ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("reply strategy failed, using filler")
		}
		text = c.filler
	}

	c.mu.Lock()
	if c.state != session.Active {
		c.mu.Unlock()
		return
	}
	msg := c.appendLocked(session.Remote, text, isVoice)
	events := []session.Event{c.messageEventLocked(msg)}
	c.unlockAndDispatch(events)
}

// EndSession ends the session, cancels everything it scheduled and releases the
// microphone. It reports false, and does nothing, if the session was already over.
func (c *Controller) EndSession() (session.Snapshot, bool) {
	c.mu.Lock()
	if c.state == session.Ended {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, false
	}
	c.finishLocked()
	events := []session.Event{c.eventLocked(session.EventState)}
	snap := c.snapshotLocked()
	c.unlockAndDispatch(events)

	c.teardown()
	c.logger.Info().Int("elapsed_seconds", snap.ElapsedSeconds).Int("messages", len(snap.Transcript)).Msg("session ended")
	if c.onEnd != nil {
		c.onEnd(snap)
	}
	return snap, true
}

// Close tears the session down without notifying OnEnd and drops all observers.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var events []session.Event
	if c.state != session.Ended {
		c.finishLocked()
		events = append(events, c.eventLocked(session.EventState))
	}
	c.unlockAndDispatch(events)
	c.teardown()

	c.mu.Lock()
	c.observers = make(map[int]session.Observer)
	c.mu.Unlock()
}

func (c *Controller) finishLocked() {
	if !c.transitionLocked(session.Ended) {
		return
	}
	c.endedAt = c.sched.Now().UTC()
	c.playing = ""
	c.recording = false
	c.recordingSeconds = 0
}

// transitionLocked moves to next unless that would step the lifecycle backwards.
func (c *Controller) transitionLocked(next session.State) bool {
	if !c.state.CanTransition(next) {
		c.logger.Warn().Str("from", string(c.state)).Str("to", string(next)).Msg("rejected state transition")
		return false
	}
	c.state = next
	return true
}

func (c *Controller) teardown() {
	if n := c.tasks.CancelAll(); n > 0 {
		c.logger.Debug().Int("cancelled", n).Msg("cancelled pending tasks")
	}
	c.cancel()
	c.recorder.Release()
}

// ToggleMute flips the mute flag. It only works while the session is active.
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	if c.state != session.Active {
		c.mu.Unlock()
		return false, ErrNotActive
	}
	c.muted = !c.muted
	muted := c.muted
	events := []session.Event{c.eventLocked(session.EventControls)}
	c.unlockAndDispatch(events)
	return muted, nil
}

// ToggleSpeaker flips the speaker flag. It only works while the session is active.
func (c *Controller) ToggleSpeaker() (bool, error) {
	c.mu.Lock()
	if c.state != session.Active {
		c.mu.Unlock()
		return false, ErrNotActive
	}
	c.speakerOn = !c.speakerOn
	on := c.speakerOn
	events := []session.Event{c.eventLocked(session.EventControls)}
	c.unlockAndDispatch(events)
	return on, nil
}

// PlayVoice "plays" a remote message through the synthesizer. Playing is cleared when
// the playback duration runs out.
func (c *Controller) PlayVoice(ctx context.Context, messageID string) (voice.Playback, error) {
	c.mu.Lock()
	if c.state != session.Active {
		c.mu.Unlock()
		return voice.Playback{}, ErrNotActive
	}
	idx := c.indexLocked(messageID)
	if idx < 0 {
		c.mu.Unlock()
		return voice.Playback{}, ErrMessageNotFound
	}
	msg := c.transcript[idx]
	if msg.Sender != session.Remote {
		c.mu.Unlock()
		return voice.Playback{}, ErrNotPlayable
	}
	userText := ""
	for i := idx - 1; i >= 0; i-- {
		if c.transcript[i].Sender == session.User {
			userText = c.transcript[i].Text
			break
		}
	}
	c.mu.Unlock()

	playback, err := c.synth.Synthesize(ctx, voice.SynthesisRequest{
		SessionID: c.id,
		MessageID: msg.ID,
		Text:      msg.Text,
		VoiceID:   c.party.VoiceID,
		UserText:  userText,
	})
	if err != nil {
		return voice.Playback{}, errors.Wrap(err, "synthesize message")
	}

	c.mu.Lock()
	if c.state != session.Active {
		c.mu.Unlock()
		return voice.Playback{}, ErrNotActive
	}
	c.playing = msg.ID
	events := []session.Event{c.eventLocked(session.EventPlayback)}
	c.tasks.Add(c.sched.AfterFunc(playback.Duration, func() { c.finishPlayback(msg.ID) }))
	c.unlockAndDispatch(events)
	return playback, nil
}

func (c *Controller) finishPlayback(messageID string) {
	c.mu.Lock()
	if c.state != session.Active || c.playing != messageID {
		c.mu.Unlock()
		return
	}
	c.playing = ""
	events := []session.Event{c.eventLocked(session.EventPlayback)}
	c.unlockAndDispatch(events)
}

// StartRecording opens the microphone. A refusal is returned as a PermissionDeniedError,
// announced as a notice event and leaves the session untouched.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != session.Active {
		c.mu.Unlock()
		return ErrNotActive
	}
	if c.recording {
		c.mu.Unlock()
		return media.ErrAlreadyRecording
	}
	c.mu.Unlock()

	if err := c.recorder.Start(ctx); err != nil {
		if denied, ok := apperr.AsPermissionDenied(err); ok {
			c.notice(denied.Notice)
		}
		return err
	}

	c.mu.Lock()
	if c.state != session.Active {
		c.mu.Unlock()
		c.recorder.Release()
		return ErrNotActive
	}
	c.recording = true
	c.recordingSeconds = 0
	events := []session.Event{c.eventLocked(session.EventRecording)}
	c.unlockAndDispatch(events)
	return nil
}

// AppendAudio feeds a chunk into the open recording.
func (c *Controller) AppendAudio(chunk []byte) error {
	if c.State() != session.Active {
		return ErrNotActive
	}
	return c.recorder.Append(chunk)
}

// StopRecording closes the microphone, transcribes the recording and sends the result
// as a voice message.
func (c *Controller) StopRecording(ctx context.Context) (session.Message, error) {
	if c.State() != session.Active {
		return session.Message{}, ErrNotActive
	}
	rec, err := c.recorder.Stop()
	if err != nil {
		return session.Message{}, err
	}

	c.mu.Lock()
	c.recording = false
	c.recordingSeconds = 0
	var events []session.Event
	if c.state == session.Active {
		events = append(events, c.eventLocked(session.EventRecording))
	}
	c.unlockAndDispatch(events)

	transcript, err := c.transcriber.Transcribe(ctx, rec)
	if err != nil {
		return session.Message{}, errors.Wrapf(err, "transcribe %s", rec.Name)
	}
	c.logger.Debug().Str("recording", rec.Name).Dur("duration", rec.Duration).Msg("recording transcribed")
	return c.send(transcript.Text, true)
}

func (c *Controller) recordingTick(seconds int) {
	c.mu.Lock()
	if c.state != session.Active || !c.recording {
		c.mu.Unlock()
		return
	}
	c.recordingSeconds = seconds
	events := []session.Event{c.eventLocked(session.EventRecording)}
	c.unlockAndDispatch(events)
}

func (c *Controller) notice(text string) {
	c.mu.Lock()
	if c.state == session.Ended {
		c.mu.Unlock()
		return
	}
	e := c.eventLocked(session.EventNotice)
	e.Notice = text
	c.unlockAndDispatch([]session.Event{e})
	c.logger.Warn().Str("notice", text).Msg("session notice")
}

// Subscribe registers an observer and returns a function that removes it.
func (c *Controller) Subscribe(obs session.Observer) func() {
	c.mu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = obs
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() session.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() session.Snapshot {
	snap := session.Snapshot{
		ID:               c.id,
		Seq:              c.seq,
		Variant:          c.variant,
		State:            c.state,
		Party:            c.party,
		CreatedAt:        c.createdAt,
		ElapsedSeconds:   c.elapsed,
		Transcript:       append([]session.Message{}, c.transcript...),
		Muted:            c.muted,
		SpeakerOn:        c.speakerOn,
		Recording:        c.recording,
		RecordingSeconds: c.recordingSeconds,
		Playing:          c.playing,
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		snap.StartedAt = &started
	}
	if !c.endedAt.IsZero() {
		ended := c.endedAt
		snap.EndedAt = &ended
	}
	return snap
}

func (c *Controller) appendLocked(sender session.Sender, text string, isVoice bool) session.Message {
	msg := session.Message{
		ID:        c.newID(),
		Sender:    sender,
		Text:      text,
		Timestamp: c.sched.Now().UTC(),
		IsVoice:   isVoice,
	}
	c.transcript = append(c.transcript, msg)
	return msg
}

func (c *Controller) indexLocked(messageID string) int {
	for i := range c.transcript {
		if c.transcript[i].ID == messageID {
			return i
		}
	}
	return -1
}

func (c *Controller) eventLocked(kind session.EventType) session.Event {
	c.seq++
	return session.Event{
		Seq:              c.seq,
		Type:             kind,
		SessionID:        c.id,
		State:            c.state,
		ElapsedSeconds:   c.elapsed,
		Muted:            c.muted,
		SpeakerOn:        c.speakerOn,
		Playing:          c.playing,
		Recording:        c.recording,
		RecordingSeconds: c.recordingSeconds,
		At:               c.sched.Now().UTC(),
	}
}

func (c *Controller) messageEventLocked(msg session.Message) session.Event {
	e := c.eventLocked(session.EventMessage)
	e.Message = &msg
	return e
}

// unlockAndDispatch must be called with mu held. It releases mu and delivers events.
func (c *Controller) unlockAndDispatch(events []session.Event) {
	if len(events) == 0 || len(c.observers) == 0 {
		c.mu.Unlock()
		return
	}
	observers := make([]session.Observer, 0, len(c.observers))
	for i := 0; i < c.nextObserver; i++ {
		if obs, ok := c.observers[i]; ok {
			observers = append(observers, obs)
		}
	}

	c.dispatchMu.Lock()
	c.mu.Unlock()
	defer c.dispatchMu.Unlock()

	for _, e := range events {
		for _, obs := range observers {
			obs.OnEvent(e)
		}
	}
}
