// Package redis fans board events out across server instances through Redis
// pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/eventbus"
)

const (
	channelPrefix  = "board:"
	publishTimeout = 2 * time.Second

	resubscribeBase = 500 * time.Millisecond
	resubscribeMax  = 30 * time.Second
)

// LocalBus delivers an already-encoded event to this instance's subscribers.
type LocalBus interface {
	Publish(boardID, senderClientID string, ev eventbus.Event)
}

// Envelope is the message published on a board channel.
type Envelope struct {
	Origin  string          `json:"origin"`
	BoardID string          `json:"boardId"`
	Sender  string          `json:"sender"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Frame returns the event carried by the envelope.
func (e Envelope) Frame() eventbus.Event {
	return eventbus.Event{Name: e.Event, Data: e.Data}
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("redis.DecodeEnvelope: %w", err)
	}
	if env.BoardID == "" || env.Event == "" {
		return Envelope{}, errors.New("redis.DecodeEnvelope: missing board id or event name")
	}
	return env, nil
}

// Relay publishes board events to Redis and re-delivers everything it
// receives, including its own messages, to the local bus. While Run holds no
// subscription, Broadcast also delivers to the local bus directly.
type Relay struct {
	client *redis.Client
	local  LocalBus
	origin string

	subscribed atomic.Bool
	retryBase  time.Duration
	retryMax   time.Duration
}

// New connects to Redis and returns a relay feeding local.
func New(ctx context.Context, addr, password string, db int, local LocalBus) (*Relay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return NewRelay(client, local), nil
}

func NewRelay(client *redis.Client, local LocalBus) *Relay {
	return &Relay{
		client:    client,
		local:     local,
		origin:    uuid.NewString(),
		retryBase: resubscribeBase,
		retryMax:  resubscribeMax,
	}
}

// Subscribed reports whether Run currently holds the board subscription.
func (r *Relay) Subscribed() bool { return r.subscribed.Load() }

// Origin identifies this instance in published envelopes.
func (r *Relay) Origin() string { return r.origin }

func (r *Relay) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("redis.Relay.Close: %w", err)
	}
	return nil
}

// Broadcast publishes the event on the board's channel. When Redis is
// unreachable the event is delivered to local subscribers only.
func (r *Relay) Broadcast(boardID, senderClientID, name string, payload any) error {
	ev, err := eventbus.NewEvent(name, payload)
	if err != nil {
		return fmt.Errorf("redis.Relay.Broadcast: %w", err)
	}

	data, err := json.Marshal(Envelope{
		Origin:  r.origin,
		BoardID: boardID,
		Sender:  senderClientID,
		Event:   name,
		Data:    ev.Data,
	})
	if err != nil {
		return fmt.Errorf("redis.Relay.Broadcast: encode: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err = r.client.Publish(ctx, BoardChannel(boardID), data).Err()
	switch {
	case err != nil:
		log.Warn().Err(err).Str("board_id", boardID).Str("event", name).Msg("redis: publish failed, delivering locally")
		r.local.Publish(boardID, senderClientID, ev)
	case !r.subscribed.Load():
		r.local.Publish(boardID, senderClientID, ev)
	}
	return nil
}

// Run pattern-subscribes to every board channel and forwards messages to the
// local bus until ctx is done. A failed or lost subscription is retried with
// exponential backoff for as long as ctx lives.
func (r *Relay) Run(ctx context.Context) error {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     r.retryBase,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         r.retryMax,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()

	err := backoff.RetryNotify(func() error {
		return r.subscribe(ctx, exp)
	}, backoff.WithContext(exp, ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("redis: relay unsubscribed, delivering locally")
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis.Relay.Run: %w", err)
	}
	return nil
}

// subscribe holds one subscription. It returns nil only when ctx is done.
func (r *Relay) subscribe(ctx context.Context, exp backoff.BackOff) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close() //nolint:errcheck // best-effort on shutdown

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("receive confirmation: %w", err)
	}

	r.subscribed.Store(true)
	defer r.subscribed.Store(false)
	exp.Reset()

	log.Info().Str("origin", r.origin).Msg("redis: relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			r.deliver(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (r *Relay) deliver(channel string, payload []byte) {
	env, err := DecodeEnvelope(payload)
	if err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("redis: dropping malformed message")
		return
	}
	if BoardFromChannel(channel) != env.BoardID {
		log.Warn().Str("channel", channel).Str("board_id", env.BoardID).Msg("redis: envelope board does not match channel")
		return
	}
	r.local.Publish(env.BoardID, env.Sender, env.Frame())
}

// BoardChannel returns the Redis channel name for a board.
func BoardChannel(boardID string) string {
	return channelPrefix + boardID
}

// BoardFromChannel is the inverse of BoardChannel. It returns "" for channels
// outside the board namespace.
func BoardFromChannel(channel string) string {
	id, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return ""
	}
	return id
}
