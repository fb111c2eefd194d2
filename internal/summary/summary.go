// Package summary produces the terminal structured case record for a
// session.
package summary

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/medtriage/internal/llm"
	"github.com/mohammad-safakhou/medtriage/internal/patient"
	"github.com/mohammad-safakhou/medtriage/internal/triage"
)

// Triage levels. Keys and enum values are always English.
const (
	LevelRed     = "RED"
	LevelYellow  = "YELLOW"
	LevelGreen   = "GREEN"
	LevelUnknown = "UNKNOWN"
)

// MetaData describes the case the record was built from.
type MetaData struct {
	SessionID         string                    `json:"session_id"`
	GeneratedAt       time.Time                 `json:"generated_at"`
	Language          string                    `json:"language"`
	ConfirmedSymptoms []string                  `json:"confirmed_symptoms"`
	DeniedSymptoms    []string                  `json:"denied_symptoms"`
	UnsureAspects     []string                  `json:"unsure_aspects"`
	Duration          string                    `json:"duration,omitempty"`
	MedicationsTaken  string                    `json:"medications_taken,omitempty"`
	SymptomClusters   *triage.CorrelationReport `json:"symptom_clusters,omitempty"`
}

// TriageBlock is the machine-readable triage verdict.
type TriageBlock struct {
	EmergencyLevel    string `json:"emergency_level"`
	PriorityScore     int    `json:"priority_score"`
	RecommendedAction string `json:"recommended_action"`
}

// CaseRecord is the structured case record returned when a session closes.
type CaseRecord struct {
	ID              string      `json:"record_id"`
	MetaData        MetaData    `json:"meta_data"`
	Triage          TriageBlock `json:"triage"`
	ClinicalSummary string      `json:"clinical_summary"`
	DisplayText     string      `json:"display_text"`
}

// Failed reports whether the record is the UNKNOWN fallback.
func (r CaseRecord) Failed() bool { return r.Triage.EmergencyLevel == LevelUnknown }

const systemPrompt = `You are a clinical documentation assistant. Summarise the consultation for a doctor.

Return VALID JSON only, with keys and enum values in English:
{"triage": {"emergency_level": "RED|YELLOW|GREEN", "priority_score": 1-10, "recommended_action": ""}, "clinical_summary": "", "display_text": ""}

RULES:
1. emergency_level is RED for life-threatening presentations, YELLOW for cases needing a doctor within a day or two, GREEN for home care.
2. clinical_summary is concise English clinical prose for a doctor.
3. display_text is a short patient-facing summary written in %s.
4. Never state a drug dosage.`

const fallbackDisplay = "We could not prepare your summary right now. Please try again shortly, and contact a doctor if your symptoms get worse."

type modelReply struct {
	Triage struct {
		EmergencyLevel    string `json:"emergency_level"`
		PriorityScore     int    `json:"priority_score"`
		RecommendedAction string `json:"recommended_action"`
	} `json:"triage"`
	ClinicalSummary string `json:"clinical_summary"`
	DisplayText     string `json:"display_text"`
}

// Summarizer builds case records from session snapshots.
type Summarizer struct {
	llm            llm.Client
	logger         *log.Logger
	now            func() time.Time
	correlationTop int
}

func New(client llm.Client, logger *log.Logger) *Summarizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SUMMARY] ", log.LstdFlags)
	}
	return &Summarizer{llm: client, logger: logger, now: time.Now, correlationTop: 3}
}

// WithClock overrides the record timestamp source.
func (s *Summarizer) WithClock(now func() time.Time) *Summarizer {
	s.now = now
	return s
}

// Summarize never fails. On generation failure the record carries
// emergency_level UNKNOWN and an explanatory display text.
func (s *Summarizer) Summarize(ctx context.Context, snap patient.Snapshot, targetLanguage string) CaseRecord {
	lang := strings.TrimSpace(targetLanguage)
	if lang == "" {
		lang = "English"
	}
	rec := CaseRecord{
		ID: uuid.NewString(),
		MetaData: MetaData{
			SessionID:         snap.SessionID,
			GeneratedAt:       s.now().UTC(),
			Language:          lang,
			ConfirmedSymptoms: nonNil(snap.Confirmed),
			DeniedSymptoms:    nonNil(snap.Denied),
			UnsureAspects:     nonNil(snap.Unsure),
			Duration:          snap.Duration,
			MedicationsTaken:  snap.MedicationsTaken,
		},
	}
	if len(snap.Confirmed) > 0 {
		report := triage.Correlate(snap.Confirmed, s.correlationTop)
		rec.MetaData.SymptomClusters = &report
	}

	var reply modelReply
	err := llm.CompleteJSON(ctx, s.llm, llm.Request{
		Task:        llm.TaskSummary,
		System:      fmt.Sprintf(systemPrompt, lang),
		Messages:    []llm.Message{{Role: "user", Content: "CASE FACTS:\n" + snap.FactBlock()}},
		Temperature: 0.2,
	}, &reply)
	if err == nil {
		err = validate(&reply)
	}
	if err != nil {
		s.logger.Printf("warn: summary generation failed, returning partial record: %v", err)
		rec.Triage = TriageBlock{EmergencyLevel: LevelUnknown, RecommendedAction: "Consult a doctor to review your symptoms."}
		rec.DisplayText = fallbackDisplay
		return rec
	}
	rec.Triage = TriageBlock{
		EmergencyLevel:    reply.Triage.EmergencyLevel,
		PriorityScore:     reply.Triage.PriorityScore,
		RecommendedAction: strings.TrimSpace(reply.Triage.RecommendedAction),
	}
	rec.ClinicalSummary = strings.TrimSpace(reply.ClinicalSummary)
	rec.DisplayText = strings.TrimSpace(reply.DisplayText)
	if rec.DisplayText == "" {
		rec.DisplayText = rec.ClinicalSummary
	}
	return rec
}

// validate normalises the level and clamps the priority into 1..10,
// defaulting it from the level when missing.
func validate(r *modelReply) error {
	level := strings.ToUpper(strings.TrimSpace(r.Triage.EmergencyLevel))
	switch level {
	case LevelRed, LevelYellow, LevelGreen:
	default:
		return fmt.Errorf("invalid emergency_level %q", r.Triage.EmergencyLevel)
	}
	r.Triage.EmergencyLevel = level
	if strings.TrimSpace(r.ClinicalSummary) == "" && strings.TrimSpace(r.DisplayText) == "" {
		return fmt.Errorf("empty summary")
	}
	p := r.Triage.PriorityScore
	if p <= 0 {
		p = defaultPriority[level]
	}
	r.Triage.PriorityScore = max(1, min(10, p))
	return nil
}

var defaultPriority = map[string]int{LevelRed: 9, LevelYellow: 5, LevelGreen: 2}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
