// Package dialogue runs one conversational turn end to end: emergency
// interception, fact extraction, state merge, two-hop retrieval, gap
// analysis and grounded generation.
package dialogue

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/medtriage/internal/gaps"
	"github.com/mohammad-safakhou/medtriage/internal/llm"
	"github.com/mohammad-safakhou/medtriage/internal/patient"
	"github.com/mohammad-safakhou/medtriage/internal/retrieval"
	"github.com/mohammad-safakhou/medtriage/internal/summary"
	"github.com/mohammad-safakhou/medtriage/internal/triage"
)

// ErrInvalidInput is returned for turns rejected before entering the
// pipeline (missing session id or empty message).
var ErrInvalidInput = errors.New("dialogue: session id and message are required")

// ErrEmptyText is returned by Normalize for blank input.
var ErrEmptyText = errors.New("dialogue: text is required")

// Normalized is free text rendered in the canonical language for search.
type Normalized struct {
	Text             string `json:"english_text"`
	DetectedLanguage string `json:"detected_language"`
}

// Turn states.
const (
	StateEmergency  = "EMERGENCY"
	StateGathering  = "GATHERING"
	StateConcluding = "CONCLUDING"
	StateFailed     = "MAINTENANCE"
)

// ClosingSentence ends every concluding answer, verbatim.
const ClosingSentence = "If you have no other symptoms to add, type 'Summary' to receive your formal case summary."

// MaintenanceMessage is returned when a turn fails upstream.
const MaintenanceMessage = "Our assistant is undergoing brief system maintenance and could not process that message. Please send it again in a moment. If you feel seriously unwell, contact emergency services."

// TurnRequest is one patient message.
type TurnRequest struct {
	SessionID      string        `json:"session_id"`
	Message        string        `json:"message"`
	History        []llm.Message `json:"history"`
	TargetLanguage string        `json:"target_language"`
}

// Reply is what the caller receives for a turn.
type Reply struct {
	Answer           string                  `json:"answer"`
	Sources          []retrieval.Citation    `json:"sources"`
	IsFinal          bool                    `json:"is_final"`
	StructuredRecord *triage.EmergencyRecord `json:"structured_record"`
	// State and Gaps are diagnostic and not part of the wire reply.
	State string     `json:"-"`
	Gaps  []gaps.Gap `json:"-"`
}

// EmergencyChecker is the emergency interceptor.
type EmergencyChecker interface {
	Assess(ctx context.Context, text string) triage.Assessment
	Record(a triage.Assessment, text string) *triage.EmergencyRecord
}

// FactExtractor turns an utterance into a fact delta; it never fails.
type FactExtractor interface {
	Extract(ctx context.Context, message string, history []llm.Message) patient.FactDelta
}

// Retriever runs the two-hop lookup; it never fails.
type Retriever interface {
	Retrieve(ctx context.Context, query string) retrieval.Result
}

// GapFinder lists unanswered decision points.
type GapFinder interface {
	FindGaps(ctx context.Context, snap patient.Snapshot, guidelineContext string) ([]gaps.Gap, error)
}

// CaseSummarizer builds the terminal case record; it never fails.
type CaseSummarizer interface {
	Summarize(ctx context.Context, snap patient.Snapshot, targetLanguage string) summary.CaseRecord
}

// AlertSink receives emergency records for escalation.
type AlertSink interface {
	PublishEmergency(ctx context.Context, sessionID string, rec triage.EmergencyRecord) error
}

// CaseArchive stores closed case records.
type CaseArchive interface {
	SaveCaseRecord(ctx context.Context, rec summary.CaseRecord) error
}
