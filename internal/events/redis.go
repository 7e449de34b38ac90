package events

import (
	"context"
	"io"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/echoes/backend/internal/logging"
)

// RedisConfig selects the Redis Streams transport.
type RedisConfig struct {
	Addr string
	// Group prefixes the consumer group of every subscription. Each subscription gets
	// its own group so every stream client sees every event.
	Group string
}

// NewRedisBus returns a bus that publishes to Redis Streams, so API replicas can serve
// each other's sessions.
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*Bus, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Group == "" {
		cfg.Group = "echoes"
	}

	logger := logging.Component("events")
	wmLog := logging.NewWatermill(logger)
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", cfg.Addr)
	}

	marshaler := redisstream.DefaultMarshallerUnmarshaller{}
	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wmLog)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis publisher")
	}

	b := &Bus{
		pub:    pub,
		logger: logger,
		closers: []func() error{
			pub.Close,
			client.Close,
		},
	}
	b.subscriber = func(topic string) (message.Subscriber, func(), error) {
		group := cfg.Group + ":" + uuid.NewString()
		sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        client,
			Unmarshaller:  marshaler,
			ConsumerGroup: group,
			Consumer:      "stream",
			OldestId:      "$",
		}, wmLog)
		if err != nil {
			return nil, nil, err
		}
		return sub, func() { releaseGroup(client, sub, topic, group, logger) }, nil
	}
	return b, nil
}

type groupDestroyer interface {
	XGroupDestroy(ctx context.Context, stream, group string) *redis.IntCmd
}

// releaseGroup closes a subscription and drops its consumer group from the stream.
func releaseGroup(client groupDestroyer, sub io.Closer, topic, group string, logger zerolog.Logger) {
	if err := sub.Close(); err != nil {
		logger.Warn().Err(err).Str("group", group).Msg("close redis subscriber")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.XGroupDestroy(ctx, topic, group).Err(); err != nil {
		logger.Warn().Err(err).Str("topic", topic).Str("group", group).Msg("destroy consumer group")
	}
}
