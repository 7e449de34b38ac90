// Package events carries session events from controllers to stream subscribers over
// watermill. Each session publishes on its own topic.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/echoes/backend/internal/logging"
	"github.com/zhouzirui/echoes/backend/internal/model/session"
)

// Topic returns the topic a session publishes on.
func Topic(sessionID string) string {
	return "session." + sessionID
}

// Bus publishes session events and hands out per-session subscriptions.
type Bus struct {
	pub    message.Publisher
	logger zerolog.Logger

	// subscriber returns a subscriber for one consumer of topic and a function that
	// releases it.
	subscriber func(topic string) (message.Subscriber, func(), error)
	closers    []func() error

	wg sync.WaitGroup
}

// NewMemoryBus returns an in-process bus. Publishing waits for every subscriber to ack,
// which keeps each subscriber's stream in publish order.
func NewMemoryBus() *Bus {
	logger := logging.Component("events")
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, logging.NewWatermill(logger))

	return &Bus{
		pub:    ps,
		logger: logger,
		subscriber: func(string) (message.Subscriber, func(), error) {
			return ps, func() {}, nil
		},
		closers: []func() error{ps.Close},
	}
}

// Publish sends one event on its session topic.
func (b *Bus) Publish(e session.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal session event")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("type", string(e.Type))
	msg.Metadata.Set("session_id", e.SessionID)
	if err := b.pub.Publish(Topic(e.SessionID), msg); err != nil {
		return errors.Wrapf(err, "publish %s event", e.Type)
	}
	return nil
}

// Attach returns an observer that forwards a session's events to the bus without
// blocking the session, and a function that detaches it. Queued events are still
// published after detach.
func (b *Bus) Attach(sessionID string) (session.Observer, func()) {
	q := &queue{
		bus:    b,
		logger: b.logger.With().Str("session_id", sessionID).Logger(),
		wake:   make(chan struct{}, 1),
	}
	b.wg.Add(1)
	go q.run()
	return q, q.close
}

// Subscribe streams a session's events until ctx is cancelled. Each message is acked
// once it has been handed to the caller.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan session.Event, error) {
	sub, release, err := b.subscriber(Topic(sessionID))
	if err != nil {
		return nil, errors.Wrap(err, "create subscriber")
	}
	msgs, err := sub.Subscribe(ctx, Topic(sessionID))
	if err != nil {
		release()
		return nil, errors.Wrapf(err, "subscribe to %s", Topic(sessionID))
	}

	out := make(chan session.Event, 16)
	go func() {
		defer close(out)
		defer release()
		for msg := range msgs {
			var e session.Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				b.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping undecodable event")
				msg.Ack()
				continue
			}
			select {
			case out <- e:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close waits for attached queues to drain and closes the transport. Every Attach must
// have been detached first.
func (b *Bus) Close() error {
	b.wg.Wait()
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// queue is an unbounded FIFO between a session and the bus.
type queue struct {
	bus    *Bus
	logger zerolog.Logger
	wake   chan struct{}

	mu     sync.Mutex
	items  []session.Event
	closed bool
}

func (q *queue) OnEvent(e session.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) run() {
	defer q.bus.wg.Done()
	for range q.wake {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, e := range batch {
			if err := q.bus.Publish(e); err != nil {
				q.logger.Error().Err(err).Uint64("seq", e.Seq).Msg("publish session event")
			}
		}
		if closed {
			return
		}
	}
}
