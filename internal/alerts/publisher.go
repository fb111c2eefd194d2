package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/medtriage/internal/patient"
	"github.com/mohammad-safakhou/medtriage/internal/triage"
)

// Publisher appends emergency envelopes to a Redis Stream.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
	now    func() time.Time
	logger *log.Logger
}

func NewPublisher(client *redis.Client, stream string, maxLen int64, logger *log.Logger) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("alerts: redis client is required")
	}
	if stream == "" {
		return nil, fmt.Errorf("alerts: stream name is required")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ALERTS] ", log.LstdFlags)
	}
	return &Publisher{client: client, stream: stream, maxLen: maxLen, now: time.Now, logger: logger}, nil
}

// PublishEmergency wraps rec in a v1 envelope and appends it to the stream.
func (p *Publisher) PublishEmergency(ctx context.Context, sessionID string, rec triage.EmergencyRecord) error {
	env, err := NewEmergencyEnvelope(ctx, sessionID, rec, p.now())
	if err != nil {
		return err
	}
	args, err := xaddArgs(p.stream, p.maxLen, env)
	if err != nil {
		return err
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	p.logger.Printf("emergency alert %s published to %s as %s", env.EventID, p.stream, id)
	return nil
}

// NewEmergencyEnvelope builds the envelope for rec, carrying the trace id of
// the active span when there is one.
func NewEmergencyEnvelope(ctx context.Context, sessionID string, rec triage.EmergencyRecord, now time.Time) (Envelope, error) {
	data, err := json.Marshal(EmergencyEvent{SessionDigest: patient.Pseudonym(sessionID), Record: rec})
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventID:        uuid.NewString(),
		EventType:      EventEmergency,
		OccurredAt:     now.UTC(),
		PayloadVersion: PayloadV1,
		Data:           data,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env, env.ValidateBasic()
}

func xaddArgs(stream string, maxLen int64, env Envelope) (*redis.XAddArgs, error) {
	raw, err := env.Marshal()
	if err != nil {
		return nil, err
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return args, nil
}
