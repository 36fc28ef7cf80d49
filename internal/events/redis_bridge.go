package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"claims-orchestrator/internal/logging"
)

// Redis pub/sub channels external consumers (websocket bridge, dashboards)
// subscribe to.
const (
	ChannelState    = "events.claims.state"
	ChannelWorkflow = "events.claims.workflow"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type envelope struct {
	EventID string          `json:"event_id"`
	Type    EventType       `json:"type"`
	ClaimID string          `json:"claim_id"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBridge forwards bus events to Redis pub/sub.
type RedisBridge struct {
	client redisPublisher
	log    logging.Logger
	buffer int
}

func NewRedisBridge(client redisPublisher, log logging.Logger) *RedisBridge {
	return &RedisBridge{client: client, log: log, buffer: 256}
}

// Run subscribes to both topics and forwards until ctx is done.
func (b *RedisBridge) Run(ctx context.Context, bus *Bus) error {
	state := bus.State.Subscribe(b.buffer)
	defer state.Close()
	workflow := bus.Workflow.Subscribe(b.buffer)
	defer workflow.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-state.C():
			if !ok {
				return fmt.Errorf("state subscription closed")
			}
			b.forward(ctx, ChannelState, ev.Type, ev.ClaimID, ev)
		case ev, ok := <-workflow.C():
			if !ok {
				return fmt.Errorf("workflow subscription closed")
			}
			b.forward(ctx, ChannelWorkflow, ev.Type, ev.ClaimID, ev)
		}
	}
}

func (b *RedisBridge) forward(ctx context.Context, channel string, typ EventType, claimID string, ev any) {
	msg, err := encodeEnvelope(typ, claimID, ev)
	if err != nil {
		b.log.Warn("encode event", logging.F("type", string(typ)), logging.Err(err))
		return
	}
	if err := b.client.Publish(ctx, channel, msg).Err(); err != nil {
		b.log.Warn("publish event", logging.F("channel", channel), logging.F("claim_id", claimID), logging.Err(err))
	}
}

func encodeEnvelope(typ EventType, claimID string, ev any) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		EventID: uuid.NewString(),
		Type:    typ,
		ClaimID: claimID,
		Payload: payload,
	})
}
