package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zhouzirui/echoes/backend/internal/scheduler"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Recording is one finished capture.
type Recording struct {
	Name     string        `json:"name"`
	Format   string        `json:"format"`
	Duration time.Duration `json:"duration"`
	Data     []byte        `json:"-"`
}

// Recorder owns at most one open stream at a time and counts recorded seconds.
type Recorder struct {
	capture Capture
	sched   scheduler.Scheduler
	onTick  func(seconds int)

	mu        sync.Mutex
	stream    Stream
	tasks     *scheduler.Group
	startedAt time.Time
	seconds   int
	buf       bytes.Buffer
	produced  int
}

// NewRecorder returns a Recorder. onTick, if set, is called once per recorded second.
func NewRecorder(capture Capture, sched scheduler.Scheduler, onTick func(seconds int)) *Recorder {
	return &Recorder{capture: capture, sched: sched, onTick: onTick}
}

// Start opens the microphone. A refusal is returned as is and leaves the recorder idle.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stream != nil {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.mu.Unlock()

	stream, err := r.capture.Open(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		stream.Stop()
		return ErrAlreadyRecording
	}
	r.stream = stream
	r.startedAt = r.sched.Now()
	r.seconds = 0
	r.buf.Reset()
	r.tasks = scheduler.NewGroup()
	r.tasks.Add(r.sched.Every(time.Second, r.tick))
	return nil
}

func (r *Recorder) tick() {
	r.mu.Lock()
	if r.stream == nil {
		r.mu.Unlock()
		return
	}
	r.seconds++
	seconds := r.seconds
	onTick := r.onTick
	r.mu.Unlock()

	if onTick != nil {
		onTick(seconds)
	}
}

// Append feeds an audio chunk into the open stream.
func (r *Recorder) Append(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil {
		return ErrNotRecording
	}
	if err := r.stream.Write(chunk); err != nil {
		return err
	}
	r.buf.Write(chunk)
	return nil
}

// Stop closes the stream and returns the recording.
func (r *Recorder) Stop() (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil {
		return Recording{}, ErrNotRecording
	}

	now := r.sched.Now()
	r.releaseLocked()
	r.produced++

	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.UTC().Format("2006-01-02T15:04:05.000Z"))
	rec := Recording{
		Name:     fmt.Sprintf("Recording %d (%s)", r.produced, stamp),
		Format:   "wav",
		Duration: now.Sub(r.startedAt),
		Data:     append([]byte(nil), r.buf.Bytes()...),
	}
	r.buf.Reset()
	return rec, nil
}

// Release drops any open stream without producing a recording. Safe to call repeatedly.
func (r *Recorder) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil {
		return
	}
	r.releaseLocked()
	r.buf.Reset()
}

func (r *Recorder) releaseLocked() {
	r.tasks.CancelAll()
	r.stream.Stop()
	r.stream = nil
}

// Recording reports whether a stream is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

// Seconds returns the seconds counted for the current recording.
func (r *Recorder) Seconds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seconds
}
