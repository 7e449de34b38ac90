// Package media models the microphone: a capture collaborator that may refuse access,
// and a Recorder that owns the stream for the length of one recording.
package media

import (
	"bytes"
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhouzirui/echoes/backend/internal/apperr"
)

// DefaultDeniedNotice is the notice shown when the microphone is refused.
const DefaultDeniedNotice = "Could not access your microphone. Please check your permissions."

// ErrStreamStopped is returned when writing to a released stream.
var ErrStreamStopped = errors.New("media stream stopped")

// Stream is an open audio input. Stop releases the device and is idempotent.
type Stream interface {
	Write(chunk []byte) error
	Stop()
}

// Capture grants audio input streams.
type Capture interface {
	Open(ctx context.Context) (Stream, error)
}

// DeniedCapture refuses every request, as a browser does after the user blocks the mic.
type DeniedCapture struct {
	Notice string
}

func (d DeniedCapture) Open(context.Context) (Stream, error) {
	notice := d.Notice
	if notice == "" {
		notice = DefaultDeniedNotice
	}
	return nil, &apperr.PermissionDeniedError{Notice: notice}
}

// SimulatedCapture grants in-memory streams and counts how many are still held.
type SimulatedCapture struct {
	mu     sync.Mutex
	opened int
	active int
}

// NewSimulatedCapture returns a capture that always grants access.
func NewSimulatedCapture() *SimulatedCapture {
	return &SimulatedCapture{}
}

func (c *SimulatedCapture) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "open microphone")
	}
	c.mu.Lock()
	c.opened++
	c.active++
	c.mu.Unlock()
	return &memoryStream{capture: c}, nil
}

// Active returns how many streams have not been stopped.
func (c *SimulatedCapture) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Opened returns how many streams were ever granted.
func (c *SimulatedCapture) Opened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

type memoryStream struct {
	capture *SimulatedCapture
	mu      sync.Mutex
	buf     bytes.Buffer
	stopped bool
}

func (s *memoryStream) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStreamStopped
	}
	s.buf.Write(chunk)
	return nil
}

func (s *memoryStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.capture.mu.Lock()
	s.capture.active--
	s.capture.mu.Unlock()
}
