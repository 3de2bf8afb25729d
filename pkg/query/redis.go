package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultChannel is the Pub/Sub channel used for invalidations.
	DefaultChannel = "formflow:query:invalidate"

	redisCloseTimeout = 5 * time.Second
)

// RedisConfig locates the Redis server used for invalidation fan-out.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisOption customises a RedisBroadcaster.
type RedisOption func(*RedisBroadcaster)

// WithRedisChannel sets the Pub/Sub channel.
func WithRedisChannel(channel string) RedisOption {
	return func(b *RedisBroadcaster) {
		if channel != "" {
			b.channel = channel
		}
	}
}

// WithRedisLogger attaches a zap logger.
func WithRedisLogger(logger *zap.Logger) RedisOption {
	return func(b *RedisBroadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// RedisBroadcaster publishes invalidations over Redis Pub/Sub.
type RedisBroadcaster struct {
	client     redis.UniversalClient
	ownsClient bool
	channel    string
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRedisBroadcaster connects to cfg.Addr and verifies the connection.
func NewRedisBroadcaster(ctx context.Context, cfg RedisConfig, opts ...RedisOption) (*RedisBroadcaster, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("query: connect redis %s: %w", cfg.Addr, err)
	}

	b := NewRedisBroadcasterWithClient(client, append([]RedisOption{WithRedisChannel(cfg.Channel)}, opts...)...)
	b.ownsClient = true
	return b, nil
}

// NewRedisBroadcasterWithClient reuses an existing client. The caller keeps
// ownership of it.
func NewRedisBroadcasterWithClient(client redis.UniversalClient, opts ...RedisOption) *RedisBroadcaster {
	b := &RedisBroadcaster{
		client:  client,
		channel: DefaultChannel,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Publish sends inv to every subscriber, this process included.
func (b *RedisBroadcaster) Publish(ctx context.Context, inv Invalidation) error {
	if inv.Timestamp == 0 {
		inv.Timestamp = time.Now().UnixNano()
	}
	data, err := encodeInvalidation(inv)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("query: publish invalidation: %w", err)
	}
	b.logger.Debug("query: published invalidation",
		zap.String("channel", b.channel),
		zap.String("key", inv.Key.String()),
		zap.Bool("prefix", inv.Prefix))
	return nil
}

// Subscribe listens until ctx is cancelled or Close is called. Each message
// is decoded and handed to fn; a panicking fn is logged and skipped.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, fn func(Invalidation)) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("query: subscription already running")
	}
	subCtx, cancel := context.WithCancel(ctx)
	b.running = true
	b.cancel = cancel
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	defer func() {
		cancel()
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		close(done)
	}()

	pubsub := b.client.Subscribe(subCtx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("query: subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("query: subscribed to invalidations", zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			return subCtx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			inv, err := decodeInvalidation([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("query: dropping malformed invalidation", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			b.dispatch(fn, inv)
		}
	}
}

func (b *RedisBroadcaster) dispatch(fn func(Invalidation), inv Invalidation) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("query: invalidation handler panicked", zap.Any("panic", r))
		}
	}()
	fn(inv)
}

// Close stops a running subscription and releases the client when this
// broadcaster created it.
func (b *RedisBroadcaster) Close() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(redisCloseTimeout):
			b.logger.Warn("query: timed out waiting for subscription to stop")
		}
	}
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}

func encodeInvalidation(inv Invalidation) ([]byte, error) {
	data, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("query: encode invalidation: %w", err)
	}
	return data, nil
}

func decodeInvalidation(data []byte) (Invalidation, error) {
	var inv Invalidation
	if err := json.Unmarshal(data, &inv); err != nil {
		return Invalidation{}, fmt.Errorf("query: decode invalidation: %w", err)
	}
	return inv, nil
}

var _ Broadcaster = (*RedisBroadcaster)(nil)
