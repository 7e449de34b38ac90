package events

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDestroyer struct {
	stream, group string
	err           error
}

func (f *fakeDestroyer) XGroupDestroy(_ context.Context, stream, group string) *redis.IntCmd {
	f.stream, f.group = stream, group
	cmd := redis.NewIntCmd(context.Background())
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

type fakeCloser struct{ closed int }

func (f *fakeCloser) Close() error {
	f.closed++
	return nil
}

func TestReleaseGroupDestroysConsumerGroup(t *testing.T) {
	d := &fakeDestroyer{}
	sub := &fakeCloser{}
	releaseGroup(d, sub, Topic("s-1"), "echoes:abc", zerolog.Nop())

	assert.Equal(t, 1, sub.closed)
	assert.Equal(t, "session.s-1", d.stream)
	assert.Equal(t, "echoes:abc", d.group)
}

func TestReleaseGroupToleratesRedisErrors(t *testing.T) {
	d := &fakeDestroyer{err: errors.New("NOGROUP")}
	sub := &fakeCloser{}
	releaseGroup(d, sub, Topic("s-1"), "echoes:abc", zerolog.Nop())
	assert.Equal(t, 1, sub.closed)
}

func TestSubscribeReleasesOnContextEnd(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })

	var topic string
	released := make(chan struct{})
	b := &Bus{
		pub:    ps,
		logger: zerolog.Nop(),
		subscriber: func(tp string) (message.Subscriber, func(), error) {
			topic = tp
			return ps, func() { close(released) }, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	_, err := b.Subscribe(ctx, "s-9")
	require.NoError(t, err)
	assert.Equal(t, "session.s-9", topic)

	cancel()
	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription was not released")
	}
}
