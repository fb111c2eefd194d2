package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Consumer reads emergency envelopes through a consumer group.
type Consumer struct {
	client *redis.Client
	stream string
	group  string
	name   string
}

// Message is one consumed alert.
type Message struct {
	ID    string
	Event EmergencyEvent
	Envelope
}

func NewConsumer(client *redis.Client, stream, group, name string) *Consumer {
	return &Consumer{client: client, stream: stream, group: group, name: name}
}

// EnsureGroup creates the consumer group if it does not exist.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	if c.stream == "" || c.group == "" {
		return fmt.Errorf("stream and group must be provided")
	}
	if err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Read blocks up to block for new alerts. Entries that cannot be decoded are
// acknowledged and skipped.
func (c *Consumer) Read(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	if c.group == "" || c.name == "" {
		return nil, fmt.Errorf("consumer group and name must be configured")
	}
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}
	streams, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	var out []Message
	for _, st := range streams {
		for _, msg := range st.Messages {
			decoded, err := decodeMessage(msg)
			if err != nil {
				_ = c.client.XAck(ctx, c.stream, c.group, msg.ID).Err()
				continue
			}
			out = append(out, decoded)
		}
	}
	return out, nil
}

// Ack acknowledges processed alerts.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func decodeMessage(msg redis.XMessage) (Message, error) {
	raw, ok := msg.Values["envelope"]
	if !ok {
		return Message{}, fmt.Errorf("entry %s has no envelope", msg.ID)
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Message{}, err
		}
		data = b
	}
	env, err := UnmarshalEnvelope(data)
	if err != nil {
		return Message{}, err
	}
	ev, err := env.Emergency()
	if err != nil {
		return Message{}, err
	}
	return Message{ID: msg.ID, Event: ev, Envelope: env}, nil
}
