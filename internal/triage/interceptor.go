package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/medtriage/internal/llm"
)

const LevelRed = "RED"

// EmergencyRecord is the terminal output of a triggered interceptor.
type EmergencyRecord struct {
	Category           string    `json:"category"`
	MatchedCondition   string    `json:"matched_condition,omitempty"`
	Reasoning          string    `json:"reasoning"`
	ActionRequired     string    `json:"action_required"`
	EmergencyLevel     string    `json:"emergency_level"`
	PriorityScore      int       `json:"priority_score"`
	PresentingSymptoms []string  `json:"presenting_symptoms"`
	Source             string    `json:"source"`
	Timestamp          time.Time `json:"timestamp"`
}

// Assessment is the full triage verdict for one piece of raw text.
type Assessment struct {
	IsEmergency      bool               `json:"is_emergency"`
	MatchedCondition string             `json:"matched_condition,omitempty"`
	Action           string             `json:"action,omitempty"`
	Reason           string             `json:"reason,omitempty"`
	Category         string             `json:"category,omitempty"`
	MatchedKeyword   string             `json:"matched_keyword,omitempty"`
	PriorityScore    int                `json:"priority_score,omitempty"`
	Source           string             `json:"source"`
	Degraded         bool               `json:"degraded,omitempty"`
	Correlation      *CorrelationReport `json:"correlation_analysis,omitempty"`
	// GuidelineGrounded is set when Reason was rewritten from guideline passages.
	GuidelineGrounded bool `json:"guideline_grounded,omitempty"`
}

// Interceptor runs the emergency checks on raw user text.
type Interceptor struct {
	rules          []Rule
	rulesJSON      string
	keywords       []Keyword
	llm            llm.Client
	logger         *log.Logger
	now            func() time.Time
	correlationTop int
	guidance       *guidance
}

type Option func(*Interceptor)

func WithClock(now func() time.Time) Option { return func(i *Interceptor) { i.now = now } }

func WithCorrelationTop(n int) Option { return func(i *Interceptor) { i.correlationTop = n } }

// NewInterceptor builds an interceptor over a loaded rules table. A nil
// client leaves only the keyword safety net active.
func NewInterceptor(rules []Rule, client llm.Client, logger *log.Logger, opts ...Option) (*Interceptor, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("triage: rules table is empty")
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("triage: encode rules: %w", err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[TRIAGE] ", log.LstdFlags)
	}
	i := &Interceptor{
		rules:          rules,
		rulesJSON:      string(raw),
		keywords:       DefaultKeywords,
		llm:            client,
		logger:         logger,
		now:            time.Now,
		correlationTop: 3,
	}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

// Check is Assess reduced to the terminal record; nil means no emergency.
func (i *Interceptor) Check(ctx context.Context, text string) *EmergencyRecord {
	a := i.Assess(ctx, text)
	if !a.IsEmergency {
		return nil
	}
	return i.Record(a, text)
}

// Assess runs both checks and combines them. It never fails: a classifier
// error is folded into the verdict.
func (i *Interceptor) Assess(ctx context.Context, text string) Assessment {
	kw := MatchKeywords(text, i.keywords)
	verdict := i.classify(ctx, text)
	a := Decide(verdict, kw)
	if a.Source == SourceKeyword {
		i.logger.Printf("warn: safety override, keyword %q fired without classifier agreement", kw.Phrase)
	}
	if symptoms := SplitSymptoms(text); len(symptoms) >= 2 {
		report := Correlate(symptoms, i.correlationTop)
		a.Correlation = &report
	}
	return a
}

// Record converts a positive assessment into the RED record.
func (i *Interceptor) Record(a Assessment, text string) *EmergencyRecord {
	category := a.Category
	if category == "" {
		category = a.MatchedCondition
	}
	presenting := SplitSymptoms(text)
	if a.MatchedKeyword != "" && !containsFold(presenting, a.MatchedKeyword) {
		presenting = append(presenting, a.MatchedKeyword)
	}
	return &EmergencyRecord{
		Category:           category,
		MatchedCondition:   a.MatchedCondition,
		Reasoning:          a.Reason,
		ActionRequired:     a.Action,
		EmergencyLevel:     LevelRed,
		PriorityScore:      clampPriority(a.PriorityScore, classifierPriority),
		PresentingSymptoms: presenting,
		Source:             a.Source,
		Timestamp:          i.now().UTC(),
	}
}

func (i *Interceptor) classify(ctx context.Context, text string) Verdict {
	if i.llm == nil {
		return Verdict{Failed: true, Reason: llm.ErrNotConfigured.Error()}
	}
	var v Verdict
	err := llm.CompleteJSON(ctx, i.llm, llm.Request{
		Task:        llm.TaskClassification,
		System:      i.systemPrompt(),
		Messages:    []llm.Message{{Role: "user", Content: text}},
		Temperature: 0,
	}, &v)
	if err != nil {
		i.logger.Printf("warn: emergency classifier unavailable: %v", err)
		return Verdict{Failed: true, Reason: err.Error()}
	}
	return v
}

func (i *Interceptor) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are an expert medical triage classifier.\n")
	b.WriteString("Compare the user input against these EMERGENCY RULES:\n")
	b.WriteString(i.rulesJSON)
	b.WriteString(`

INSTRUCTIONS:
1. Flag an emergency only if the input matches a condition in the rules.
2. Be strict about qualifiers: a plain "headache" is NOT an emergency; only a qualified phrase such as "thunderclap headache" matches.
3. Respond with VALID JSON only, in this format:
{"is_emergency": boolean, "matched_condition": "name or null", "action": "recommended action", "reason": "brief explanation", "category": "category name or null", "priority_score": 1-10}`)
	return b.String()
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.Contains(strings.ToLower(s), strings.ToLower(v)) {
			return true
		}
	}
	return false
}
