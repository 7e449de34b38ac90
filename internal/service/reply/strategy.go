// Package reply chooses the remote party's answer to a user message. Nothing here
// generates text: every strategy draws from literal lines supplied by the script catalog.
package reply

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhouzirui/echoes/backend/internal/model/session"
)

// ErrNoReply is returned when a strategy has nothing left to say.
var ErrNoReply = errors.New("no reply available")

// Request is the context a strategy may look at when picking a reply.
type Request struct {
	SessionID string
	Party     session.Party
	UserText  string
	IsVoice   bool
	History   []session.Message
}

// Strategy picks the text of one remote-party reply.
type Strategy interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, req Request) (string, error)

func (f StrategyFunc) Reply(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Filler always answers with the same phrase.
type Filler string

func (f Filler) Reply(context.Context, Request) (string, error) {
	if strings.TrimSpace(string(f)) == "" {
		return "", ErrNoReply
	}
	return string(f), nil
}

// Sequential walks a fixed list of lines in order, then falls back.
type Sequential struct {
	mu       sync.Mutex
	lines    []string
	next     int
	fallback Strategy
}

// NewSequential returns a Sequential over lines. fallback may be nil.
func NewSequential(lines []string, fallback Strategy) *Sequential {
	return &Sequential{lines: append([]string(nil), lines...), fallback: fallback}
}

func (s *Sequential) Reply(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	if s.next < len(s.lines) {
		line := s.lines[s.next]
		s.next++
		s.mu.Unlock()
		return line, nil
	}
	s.mu.Unlock()

	if s.fallback == nil {
		return "", ErrNoReply
	}
	return s.fallback.Reply(ctx, req)
}

// Source is the random number source Random draws from; *rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
}

// Random picks uniformly from a fixed pool.
type Random struct {
	mu   sync.Mutex
	pool []string
	src  Source
}

// NewRandom returns a Random over pool using src.
func NewRandom(pool []string, src Source) *Random {
	return &Random{pool: append([]string(nil), pool...), src: src}
}

func (r *Random) Reply(context.Context, Request) (string, error) {
	if len(r.pool) == 0 {
		return "", ErrNoReply
	}
	r.mu.Lock()
	i := r.src.Intn(len(r.pool))
	r.mu.Unlock()
	return r.pool[i], nil
}

// Pool returns a copy of the lines Random draws from.
func (r *Random) Pool() []string {
	return append([]string(nil), r.pool...)
}
