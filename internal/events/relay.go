package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayBuffer = 16

// Relay shares events between server instances over a redis channel. Events
// are tagged with the instance id so an instance ignores its own echoes.
type Relay struct {
	rdb      *redis.Client
	channel  string
	instance string
	hub      *Hub
	logger   *zap.Logger
	out      chan DatabaseEvent
}

func NewRelay(rdb *redis.Client, channel string, hub *Hub, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		rdb:      rdb,
		channel:  channel,
		instance: uuid.NewString(),
		hub:      hub,
		logger:   logger,
		out:      make(chan DatabaseEvent, relayBuffer),
	}
}

func (r *Relay) Instance() string { return r.instance }

// Publish queues ev for the other instances. It never blocks; events are
// dropped while the queue is full.
func (r *Relay) Publish(ev DatabaseEvent) {
	select {
	case r.out <- ev:
	default:
		r.logger.Warn("relay queue full, dropping event", zap.String("type", ev.Type))
	}
}

// Run subscribes to the channel and forwards events both ways until ctx is
// done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe "+r.channel)
	}
	r.logger.Info("event relay subscribed", zap.String("channel", r.channel), zap.String("instance", r.instance))

	in := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.out:
			if err := r.send(ctx, ev); err != nil {
				r.logger.Warn("relay publish failed", zap.Error(err))
			}
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			var ev DatabaseEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("relay decode failed", zap.Error(err))
				continue
			}
			if ev.Origin == r.instance {
				continue
			}
			r.hub.Publish(ev)
		}
	}
}

func (r *Relay) send(ctx context.Context, ev DatabaseEvent) error {
	ev.Origin = r.instance
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return errors.Wrap(r.rdb.Publish(ctx, r.channel, b).Err(), "publish")
}
