// Package alerts publishes emergency records to a Redis Stream so that an
// on-call consumer can escalate them.
package alerts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/medtriage/internal/triage"
)

const (
	EventEmergency = "triage.emergency"
	PayloadV1      = "v1"
)

// Envelope is the wrapper persisted to the stream.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	TraceID        string          `json:"trace_id,omitempty"`
	Attempt        int             `json:"attempt"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// EmergencyEvent is the v1 payload of a triage.emergency envelope. The raw
// session id never leaves the process; only its digest does.
type EmergencyEvent struct {
	SessionDigest string                 `json:"session_digest"`
	Record        triage.EmergencyRecord `json:"record"`
}

// ValidateBasic checks mandatory fields.
func (e *Envelope) ValidateBasic() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.PayloadVersion == "" {
		return fmt.Errorf("payload_version is required")
	}
	if e.Attempt < 0 {
		return fmt.Errorf("attempt must be >= 0")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data payload is required")
	}
	return nil
}

func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.ValidateBasic(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope parses and validates a stream entry.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.ValidateBasic(); err != nil {
		return env, err
	}
	return env, nil
}

// Emergency decodes the payload of a triage.emergency envelope.
func (e Envelope) Emergency() (EmergencyEvent, error) {
	var ev EmergencyEvent
	if e.EventType != EventEmergency {
		return ev, fmt.Errorf("unexpected event type %q", e.EventType)
	}
	if e.PayloadVersion != PayloadV1 {
		return ev, fmt.Errorf("unsupported payload version %q", e.PayloadVersion)
	}
	if err := json.Unmarshal(e.Data, &ev); err != nil {
		return ev, fmt.Errorf("decode emergency payload: %w", err)
	}
	return ev, nil
}
