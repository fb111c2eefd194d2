package triage

import (
	"strings"
)

// Keyword is one entry of the deterministic safety net.
type Keyword struct {
	Phrase   string
	Category string
}

// DefaultKeywords is the fixed critical-keyword list. Matching is a plain
// case-insensitive substring test on the raw text.
var DefaultKeywords = []Keyword{
	{Phrase: "chest pain", Category: "Cardiac"},
	{Phrase: "heart attack", Category: "Cardiac"},
	{Phrase: "can't breathe", Category: "Respiratory"},
	{Phrase: "cannot breathe", Category: "Respiratory"},
	{Phrase: "breathless", Category: "Respiratory"},
	{Phrase: "stroke", Category: "Neurological"},
	{Phrase: "numbness", Category: "Neurological"},
	{Phrase: "unconscious", Category: "Neurological"},
	{Phrase: "head injury", Category: "Trauma"},
	{Phrase: "uncontrolled bleeding", Category: "Trauma"},
}

// KeywordMatch is the safety net's verdict.
type KeywordMatch struct {
	Matched  bool
	Phrase   string
	Category string
}

// MatchKeywords returns the first keyword found in text.
func MatchKeywords(text string, keywords []Keyword) KeywordMatch {
	lower := strings.ToLower(text)
	lower = strings.NewReplacer("’", "'", "‘", "'").Replace(lower)
	for _, kw := range keywords {
		if strings.Contains(lower, kw.Phrase) {
			return KeywordMatch{Matched: true, Phrase: kw.Phrase, Category: kw.Category}
		}
	}
	return KeywordMatch{}
}

// Verdict is the classifier's answer. Failed marks a classifier that errored
// or returned unusable output.
type Verdict struct {
	IsEmergency      bool   `json:"is_emergency"`
	MatchedCondition string `json:"matched_condition"`
	Action           string `json:"action"`
	Reason           string `json:"reason"`
	Category         string `json:"category"`
	PriorityScore    int    `json:"priority_score"`
	Failed           bool   `json:"-"`
}

// Emergency trigger sources.
const (
	SourceNone       = "none"
	SourceClassifier = "classifier"
	SourceKeyword    = "keyword"
	SourceBoth       = "classifier+keyword"
)

const (
	ConditionSafetyOverride = "Detected Critical Symptom (Safety Override)"
	ConditionFailSafe       = "Detected Critical Symptom (System Fail-Safe)"
	ActionImmediate         = "Immediate Medical Attention"
	reasonKeyword           = "Symptom matches critical emergency keyword list."
	reasonFailSafe          = "Symptom matches critical emergency keyword list. (AI System Recovery Mode)"

	keywordPriority    = 10
	classifierPriority = 9
)

// Decide combines the two checks. The result is an emergency when either
// check fires; a keyword match is never suppressed by the classifier.
func Decide(v Verdict, kw KeywordMatch) Assessment {
	if v.IsEmergency && !v.Failed {
		a := Assessment{
			IsEmergency:      true,
			MatchedCondition: v.MatchedCondition,
			Action:           v.Action,
			Reason:           v.Reason,
			Category:         v.Category,
			PriorityScore:    clampPriority(v.PriorityScore, classifierPriority),
			Source:           SourceClassifier,
		}
		if a.Action == "" {
			a.Action = ActionImmediate
		}
		if kw.Matched {
			a.Source = SourceBoth
			a.MatchedKeyword = kw.Phrase
			if a.Category == "" {
				a.Category = kw.Category
			}
		}
		return a
	}
	if kw.Matched {
		a := Assessment{
			IsEmergency:      true,
			MatchedCondition: ConditionSafetyOverride,
			Action:           ActionImmediate,
			Reason:           reasonKeyword,
			Category:         kw.Category,
			MatchedKeyword:   kw.Phrase,
			PriorityScore:    keywordPriority,
			Source:           SourceKeyword,
		}
		if v.Failed {
			a.MatchedCondition = ConditionFailSafe
			a.Reason = reasonFailSafe
		}
		return a
	}
	a := Assessment{
		IsEmergency: false,
		Action:      v.Action,
		Reason:      v.Reason,
		Source:      SourceNone,
		Degraded:    v.Failed,
	}
	if v.Failed {
		a.Action = "System Error"
	}
	return a
}

func clampPriority(p, def int) int {
	if p == 0 {
		return def
	}
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}
