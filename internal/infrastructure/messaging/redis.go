package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sudokuhub/power-index/internal/domain/shared"
	"github.com/sudokuhub/power-index/pkg/logger"
)

// DefaultChannel is used when RedisConfig.Channel is empty.
const DefaultChannel = "power-index:events"

// PubSubClient is the transport under RedisBus.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, message string) error
	Subscribe(ctx context.Context, channel string) (<-chan PubSubMessage, error)
}

// PubSubMessage is one received payload, or a transport error.
type PubSubMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisConfig configures NewRedisBus.
type RedisConfig struct {
	Client  PubSubClient
	Channel string
	// InstanceID tags outgoing envelopes so a bus can skip its own echoes.
	// A random one is generated when empty.
	InstanceID string
	Local      LocalConfig
	Logger     *logger.Logger
}

// RedisBus publishes every event to a Pub/Sub channel and delivers events
// from other instances to its local handlers. Own events are delivered
// locally at publish time and ignored when they come back.
type RedisBus struct {
	client   PubSubClient
	local    *LocalBus
	channel  string
	instance string
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

// NewRedisBus subscribes before returning so no event published after
// construction is missed.
func NewRedisBus(cfg RedisConfig) (*RedisBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("pub/sub client is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Local.Logger == nil {
		cfg.Local.Logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := cfg.Client.Subscribe(ctx, cfg.Channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Channel, err)
	}

	b := &RedisBus{
		client:   cfg.Client,
		local:    NewLocalBus(cfg.Local),
		channel:  cfg.Channel,
		instance: cfg.InstanceID,
		log:      cfg.Logger.With(logger.Component("redis_event_bus"), logger.String("instance", cfg.InstanceID)),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go b.receive(messages)
	return b, nil
}

func (b *RedisBus) Subscribe(t shared.EventType, h shared.EventHandler) error {
	return b.local.Subscribe(t, h)
}

func (b *RedisBus) SubscribeAll(h shared.EventHandler) error {
	return b.local.SubscribeAll(h)
}

// Publish delivers locally even when the Redis publish fails.
func (b *RedisBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	if b.ctx.Err() != nil {
		return ErrEventBusClosed
	}

	data, err := encodeEnvelope(b.instance, event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(b.ctx, b.channel, string(data)); err != nil {
		b.log.Error("failed to publish to redis",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
	return b.local.Publish(event)
}

func (b *RedisBus) receive(messages <-chan PubSubMessage) {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.handle(msg)
		}
	}
}

func (b *RedisBus) handle(msg PubSubMessage) {
	if msg.Err != nil {
		b.log.Error("redis subscription error", logger.Err(msg.Err))
		return
	}
	origin, event, err := decodeEnvelope([]byte(msg.Payload))
	if err != nil {
		b.log.Warn("dropping undecodable event", logger.Err(err))
		return
	}
	if origin == b.instance {
		return
	}
	if err := b.local.Publish(event); err != nil {
		b.log.Error("failed to deliver remote event", logger.Err(err))
	}
}

// Close stops the subscription and then the local bus.
func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		<-b.done
		err = b.local.Close()
	})
	return err
}

func (b *RedisBus) Stats() StatsSnapshot { return b.local.Stats() }
