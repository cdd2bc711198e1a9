package broadcast

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/whisperexam/whisper-backend/internal/config"
)

// RedisBridge fans session events out through Redis PubSub so
// live-proctoring views connected to other nodes observe the same stream.
// Publish goes to Redis only; Run relays every message (including our own)
// into the local Hub, which keeps single-node and multi-node delivery
// identical.
type RedisBridge struct {
	hub *Hub
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisBridge wires the hub to a Redis client.
func NewRedisBridge(hub *Hub, rdb *redis.Client, log zerolog.Logger) *RedisBridge {
	return &RedisBridge{
		hub: hub,
		rdb: rdb,
		log: log.With().Str("component", "broadcast_bridge").Logger(),
	}
}

// Publish sends the event to the session's Redis channel. On Redis
// failure the event is delivered locally so a student's own live view
// keeps working through an outage.
func (b *RedisBridge) Publish(ctx context.Context, sessionID uuid.UUID, ev Event) {
	ev.SessionID = sessionID
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Msg("Marshal event failed")
		return
	}

	channel := config.CacheKey.SessionEventsChannel(sessionID.String())
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		b.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Redis publish failed, delivering locally")
		b.hub.Publish(ctx, sessionID, ev)
	}
}

// Run subscribes to all session event channels and relays messages into
// the local hub until the context is cancelled. Call in a goroutine.
func (b *RedisBridge) Run(ctx context.Context) {
	sub := b.rdb.PSubscribe(ctx, config.CacheKey.SessionEventsPattern())
	defer sub.Close()

	b.log.Info().Msg("Broadcast bridge started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("Broadcast bridge stopping")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Error().Err(err).Msg("Invalid event payload")
				continue
			}
			if ev.SessionID == uuid.Nil {
				continue
			}
			b.hub.Publish(ctx, ev.SessionID, ev)
		}
	}
}
