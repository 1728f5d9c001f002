package main

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Backplane fans room-scoped events out to connections held by other server
// processes. It relays broadcasts only; room state stays process-local, owned
// by whichever process created the room.
type Backplane interface {
	// Start registers the callback invoked for events published by other
	// processes. Must be called exactly once, before any Publish.
	Start(relay func(roomID string, event json.RawMessage))

	// Publish forwards a room event to the other processes. Never blocks the
	// caller; events are dropped rather than queued unboundedly.
	Publish(roomID string, event any)
}

// backplaneEnvelope wraps an event for transit, tagged with the publishing
// process so it can skip its own messages on the way back in.
type backplaneEnvelope struct {
	Origin string          `json:"origin"`
	RoomID string          `json:"roomId"`
	Event  json.RawMessage `json:"event"`
}

func newBackplane(ctx context.Context, cfg *Config) (Backplane, error) {
	if cfg.redisURL == "" {
		return noopBackplane{}, nil
	}

	opts, err := redis.ParseURL(cfg.redisURL)
	if err != nil {
		return nil, err
	}

	b := &redisBackplane{
		cfg:     cfg,
		client:  redis.NewClient(opts),
		channel: cfg.redisChannel,
		origin:  uuid.NewString(),
		outbox:  make(chan backplaneEnvelope, 256),
	}

	logf(cfg, "START: Redis backplane on channel %q as instance %s", b.channel, b.origin)

	return b, nil
}

// noopBackplane is the single-process deployment: local fan-out only.
type noopBackplane struct{}

func (noopBackplane) Start(func(string, json.RawMessage)) {}
func (noopBackplane) Publish(string, any)                 {}

type redisBackplane struct {
	cfg     *Config
	client  *redis.Client
	channel string
	origin  string
	outbox  chan backplaneEnvelope
}

func (b *redisBackplane) Start(relay func(roomID string, event json.RawMessage)) {
	go b.publishLoop()
	go b.subscribeLoop(relay)
}

func (b *redisBackplane) Publish(roomID string, event any) {
	raw, err := json.Marshal(event)
	if err != nil {
		logf(b.cfg, "ERROR: Backplane marshal: %v", err)
		return
	}

	// Drop rather than block a room mutation on Redis I/O.
	select {
	case b.outbox <- backplaneEnvelope{Origin: b.origin, RoomID: roomID, Event: raw}:
	default:
		logf(b.cfg, "ERROR: Backplane outbox full, dropping event for %q", roomID)
	}
}

func (b *redisBackplane) publishLoop() {
	ctx := context.Background()

	for envelope := range b.outbox {
		payload, err := json.Marshal(envelope)
		if err != nil {
			continue
		}
		if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
			logf(b.cfg, "ERROR: Backplane publish: %v", err)
		}
	}
}

func (b *redisBackplane) subscribeLoop(relay func(roomID string, event json.RawMessage)) {
	ctx := context.Background()
	pubsub := b.client.Subscribe(ctx, b.channel)

	for msg := range pubsub.Channel() {
		var envelope backplaneEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			logf(b.cfg, "ERROR: Backplane unmarshal: %v", err)
			continue
		}
		if envelope.Origin == b.origin {
			continue
		}
		relay(envelope.RoomID, envelope.Event)
	}
}
