package triage

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/medtriage/internal/llm"
	"github.com/mohammad-safakhou/medtriage/internal/retrieval"
)

var testRules = []Rule{
	{Category: "Cardiac", Symptoms: []string{"crushing chest pain"}},
	{Category: "Neurological", Symptoms: []string{"thunderclap headache"}},
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func classifier(reply string, err error) llm.Client {
	return llm.ClientFunc(func(_ context.Context, req llm.Request) (string, error) {
		if !req.JSON {
			return "", errors.New("expected JSON mode")
		}
		return reply, err
	})
}

func TestSafetyOverrideWhenClassifierDisagrees(t *testing.T) {
	ic, err := NewInterceptor(testRules, classifier(`{"is_emergency": false}`, nil), quietLogger())
	if err != nil {
		t.Fatalf("new interceptor: %v", err)
	}
	rec := ic.Check(context.Background(), "I have chest pain")
	if rec == nil {
		t.Fatalf("expected emergency record from keyword safety net")
	}
	if rec.Category != "Cardiac" {
		t.Fatalf("expected keyword category Cardiac, got %q", rec.Category)
	}
	if rec.MatchedCondition != ConditionSafetyOverride {
		t.Fatalf("expected safety override condition, got %q", rec.MatchedCondition)
	}
	if rec.EmergencyLevel != LevelRed || rec.PriorityScore != 10 || rec.Source != SourceKeyword {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestFailSafeWhenClassifierErrors(t *testing.T) {
	ic, _ := NewInterceptor(testRules, classifier("", errors.New("upstream down")), quietLogger())
	a := ic.Assess(context.Background(), "my father is unconscious")
	if !a.IsEmergency || a.MatchedCondition != ConditionFailSafe {
		t.Fatalf("expected fail-safe emergency, got %+v", a)
	}
}

func TestClassifierErrorWithoutKeywordIsNotEmergency(t *testing.T) {
	ic, _ := NewInterceptor(testRules, classifier("not json at all", nil), quietLogger())
	if rec := ic.Check(context.Background(), "mild headache since morning"); rec != nil {
		t.Fatalf("expected no record, got %+v", rec)
	}
	a := ic.Assess(context.Background(), "mild headache since morning")
	if !a.Degraded || a.Action != "System Error" {
		t.Fatalf("expected degraded neutral verdict, got %+v", a)
	}
}

func TestClassifierEmergencyWins(t *testing.T) {
	reply := `{"is_emergency": true, "matched_condition": "Thunderclap headache", "action": "Call 112", "reason": "sudden severe onset", "category": "Neurological", "priority_score": 15}`
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	ic, _ := NewInterceptor(testRules, classifier(reply, nil), quietLogger(), WithClock(func() time.Time { return now }))
	rec := ic.Check(context.Background(), "worst headache of my life, came on like a thunderclap")
	if rec == nil {
		t.Fatalf("expected classifier emergency")
	}
	if rec.Category != "Neurological" || rec.ActionRequired != "Call 112" || rec.Source != SourceClassifier {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.PriorityScore != 10 {
		t.Fatalf("expected priority clamped to 10, got %d", rec.PriorityScore)
	}
	if !rec.Timestamp.Equal(now) {
		t.Fatalf("unexpected timestamp %s", rec.Timestamp)
	}
}

func TestDecideTruthTable(t *testing.T) {
	kw := KeywordMatch{Matched: true, Phrase: "stroke", Category: "Neurological"}
	cases := []struct {
		name   string
		v      Verdict
		kw     KeywordMatch
		want   bool
		source string
	}{
		{"neither", Verdict{}, KeywordMatch{}, false, SourceNone},
		{"classifier only", Verdict{IsEmergency: true}, KeywordMatch{}, true, SourceClassifier},
		{"keyword only", Verdict{}, kw, true, SourceKeyword},
		{"both", Verdict{IsEmergency: true}, kw, true, SourceBoth},
		{"failed classifier with keyword", Verdict{Failed: true}, kw, true, SourceKeyword},
		{"failed classifier alone", Verdict{Failed: true}, KeywordMatch{}, false, SourceNone},
	}
	for _, tc := range cases {
		got := Decide(tc.v, tc.kw)
		if got.IsEmergency != tc.want || got.Source != tc.source {
			t.Fatalf("%s: expected emergency=%v source=%s, got %+v", tc.name, tc.want, tc.source, got)
		}
	}
}

func TestMatchKeywords(t *testing.T) {
	cases := map[string]string{
		"I CAN’T BREATHE properly":                    "can't breathe",
		"there is uncontrolled bleeding from the cut": "uncontrolled bleeding",
		"my nose is bleeding a little":                "",
		"plain headache":                              "",
	}
	for text, want := range cases {
		got := MatchKeywords(text, DefaultKeywords)
		if got.Phrase != want {
			t.Fatalf("%q: expected %q, got %q", text, want, got.Phrase)
		}
	}
}

func TestParseRules(t *testing.T) {
	yamlDoc := []byte("- category: Cardiac\n  symptoms: [\"crushing chest pain\", \" \"]\n")
	rules, err := ParseRules(yamlDoc)
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if len(rules) != 1 || !reflect.DeepEqual(rules[0].Symptoms, []string{"crushing chest pain"}) {
		t.Fatalf("unexpected rules: %+v", rules)
	}
	jsonDoc := []byte(`[{"category": "Trauma", "symptoms": ["open fracture"]}]`)
	if rules, err = ParseRules(jsonDoc); err != nil || rules[0].Category != "Trauma" {
		t.Fatalf("parse json: %+v %v", rules, err)
	}
	if _, err := ParseRules([]byte("[]")); err == nil {
		t.Fatalf("expected error for empty table")
	}
	if _, err := ParseRules([]byte("- category: X\n  symptoms: []\n")); err == nil {
		t.Fatalf("expected error for category without symptoms")
	}
}

func TestCorrelateMigraine(t *testing.T) {
	report := Correlate([]string{"severe headache", "nausea", "sensitivity to light"}, 3)
	if len(report.ClusterMatches) == 0 {
		t.Fatalf("expected cluster matches")
	}
	top := report.ClusterMatches[0]
	if top.Condition != "Migraine" || top.CoreMatches != 3 || top.MatchPercentage != 75 {
		t.Fatalf("unexpected top match: %+v", top)
	}
	if top.Confidence != "high" || report.CorrelationStrength != "strong" {
		t.Fatalf("unexpected confidence/strength: %s/%s", top.Confidence, report.CorrelationStrength)
	}
	want := "Your symptoms strongly suggest Migraine (75.0% match). 3 core symptoms align."
	if report.AnalysisSummary != want {
		t.Fatalf("unexpected summary: %q", report.AnalysisSummary)
	}
	if len(report.ClusterMatches) > 3 {
		t.Fatalf("expected at most 3 matches")
	}
}

func TestCorrelateNoMatch(t *testing.T) {
	report := Correlate([]string{"itchy elbow", "blurry ear"}, 3)
	if len(report.ClusterMatches) != 0 || report.CorrelationStrength != "weak" {
		t.Fatalf("unexpected report: %+v", report)
	}
	want := "Your 2 symptom(s) don't match any specific pattern. A medical evaluation is recommended."
	if report.AnalysisSummary != want {
		t.Fatalf("unexpected summary: %q", report.AnalysisSummary)
	}
}

func TestSplitSymptoms(t *testing.T) {
	got := SplitSymptoms("fever, cough and body aches plus chills")
	want := []string{"fever", "cough", "body aches", "chills"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := SplitSymptoms("just tired"); !reflect.DeepEqual(got, []string{"just tired"}) {
		t.Fatalf("expected single phrase, got %v", got)
	}
}

func TestAssessAttachesCorrelation(t *testing.T) {
	ic, _ := NewInterceptor(testRules, classifier(`{"is_emergency": false}`, nil), quietLogger())
	a := ic.Assess(context.Background(), "fever and cough and fatigue")
	if a.Correlation == nil || a.Correlation.ClusterMatches[0].Condition != "Flu" {
		t.Fatalf("expected flu correlation, got %+v", a.Correlation)
	}
	if a.IsEmergency {
		t.Fatalf("expected no emergency")
	}
}

type guidelineIndex struct {
	hits []retrieval.Hit
	err  error
}

func (g guidelineIndex) Query(context.Context, string, string, int, retrieval.Filter) ([]retrieval.Hit, error) {
	return g.hits, g.err
}

func taskClient(summary string, summaryErr error, prompts *[]string) llm.Client {
	return llm.ClientFunc(func(_ context.Context, req llm.Request) (string, error) {
		switch req.Task {
		case llm.TaskClassification:
			return `{"is_emergency": false, "reason": "no rule matched"}`, nil
		case llm.TaskAnalysis:
			*prompts = append(*prompts, req.Messages[0].Content)
			return summary, summaryErr
		}
		return "", errors.New("unexpected task")
	})
}

func TestAssessWithGuidanceGroundsReason(t *testing.T) {
	var prompts []string
	idx := guidelineIndex{hits: []retrieval.Hit{
		{ID: "g1", Document: "Fever with a rash that does not fade needs urgent review.", Metadata: retrieval.Metadata{Intent: retrieval.IntentGuidelinePatient}},
		{ID: "t1", Document: "Give 500mg paracetamol.", Metadata: retrieval.Metadata{Intent: retrieval.IntentTreatment}},
	}}
	ic, err := NewInterceptor(testRules, taskClient(" Fever with rash may be viral. See a doctor if it does not fade. ", nil, &prompts), quietLogger(),
		WithGuidelineSummary(idx, "medical_reference", 3))
	if err != nil {
		t.Fatalf("new interceptor: %v", err)
	}
	a := ic.AssessWithGuidance(context.Background(), "fever and rash")
	if a.IsEmergency {
		t.Fatalf("expected no emergency, got %+v", a)
	}
	if a.Reason != "Fever with rash may be viral. See a doctor if it does not fade." || !a.GuidelineGrounded {
		t.Fatalf("expected grounded reason, got %+v", a)
	}
	if len(prompts) != 1 || !strings.Contains(prompts[0], "does not fade needs urgent review") || strings.Contains(prompts[0], "500mg") {
		t.Fatalf("unexpected summary prompt %v", prompts)
	}

	if plain := ic.Assess(context.Background(), "fever and rash"); plain.Reason != "no rule matched" || len(prompts) != 1 {
		t.Fatalf("expected Assess to skip the summary, got %+v", plain)
	}
}

func TestAssessWithGuidanceFallsBack(t *testing.T) {
	cases := []struct {
		name string
		idx  guidelineIndex
		err  error
	}{
		{"lookup fails", guidelineIndex{err: errors.New("index down")}, nil},
		{"no passages", guidelineIndex{}, nil},
		{"summary fails", guidelineIndex{hits: []retrieval.Hit{{Document: "Rest."}}}, errors.New("timeout")},
	}
	for _, tc := range cases {
		var prompts []string
		ic, err := NewInterceptor(testRules, taskClient("ignored", tc.err, &prompts), quietLogger(), WithGuidelineSummary(tc.idx, "ref", 0))
		if err != nil {
			t.Fatalf("new interceptor: %v", err)
		}
		a := ic.AssessWithGuidance(context.Background(), "mild cough")
		if a.Reason != "no rule matched" || a.GuidelineGrounded {
			t.Fatalf("%s: expected classifier reason kept, got %+v", tc.name, a)
		}
	}
}
