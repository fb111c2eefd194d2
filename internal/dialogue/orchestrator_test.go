package dialogue

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/medtriage/internal/extract"
	"github.com/mohammad-safakhou/medtriage/internal/gaps"
	"github.com/mohammad-safakhou/medtriage/internal/llm"
	"github.com/mohammad-safakhou/medtriage/internal/patient"
	"github.com/mohammad-safakhou/medtriage/internal/retrieval"
	"github.com/mohammad-safakhou/medtriage/internal/summary"
	"github.com/mohammad-safakhou/medtriage/internal/triage"
)

// scriptedLLM answers by task and records every request.
type scriptedLLM struct {
	mu       sync.Mutex
	handlers map[llm.Task]func(llm.Request) (string, error)
	calls    []llm.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	h := s.handlers[req.Task]
	s.mu.Unlock()
	if h == nil {
		return "", errors.New("no handler for " + string(req.Task))
	}
	return h(req)
}

func (s *scriptedLLM) on(task llm.Task, h func(llm.Request) (string, error)) *scriptedLLM {
	s.mu.Lock()
	s.handlers[task] = h
	s.mu.Unlock()
	return s
}

func (s *scriptedLLM) reply(task llm.Task, out string) *scriptedLLM {
	return s.on(task, func(llm.Request) (string, error) { return out, nil })
}

func (s *scriptedLLM) count(task llm.Task) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Task == task {
			n++
		}
	}
	return n
}

func (s *scriptedLLM) last(task llm.Task) llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].Task == task {
			return s.calls[i]
		}
	}
	return llm.Request{}
}

func newScript() *scriptedLLM {
	s := &scriptedLLM{handlers: map[llm.Task]func(llm.Request) (string, error){}}
	return s.
		reply(llm.TaskClassification, `{"is_emergency": false}`).
		reply(llm.TaskExtraction, `{}`).
		reply(llm.TaskAnalysis, `{"missing_information": []}`).
		reply(llm.TaskGeneration, "Rest and drink fluids [Page 14].").
		reply(llm.TaskSummary, `{"triage":{"emergency_level":"GREEN","priority_score":2,"recommended_action":"Home care"},"clinical_summary":"Mild headache.","display_text":"Mild headache."}`)
}

type retrieverFunc func(ctx context.Context, query string) retrieval.Result

func (f retrieverFunc) Retrieve(ctx context.Context, query string) retrieval.Result {
	return f(ctx, query)
}

func guidelineResult() retrieval.Result {
	return retrieval.Result{
		Diagnostic: []retrieval.Hit{{ID: "d", Document: "Headache is often tension related.", Metadata: retrieval.Metadata{Page: "3", Intent: retrieval.IntentDiagnostic}}},
		Guideline:  []retrieval.Hit{{ID: "g", Document: "Rest and drink fluids.", Metadata: retrieval.Metadata{Page: "14", Topic: "Headache", Intent: retrieval.IntentGuidelinePatient}}},
	}
}

type recordingAlerts struct {
	mu   sync.Mutex
	recs []triage.EmergencyRecord
	err  error
}

func (r *recordingAlerts) PublishEmergency(_ context.Context, _ string, rec triage.EmergencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return r.err
}

type recordingArchive struct {
	recs []summary.CaseRecord
	err  error
}

func (r *recordingArchive) SaveCaseRecord(_ context.Context, rec summary.CaseRecord) error {
	r.recs = append(r.recs, rec)
	return r.err
}

type harness struct {
	orch    *Orchestrator
	llm     *scriptedLLM
	store   *patient.MemoryStore
	alerts  *recordingAlerts
	archive *recordingArchive
}

func newHarness(t *testing.T, script *scriptedLLM, retriever Retriever) *harness {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	interceptor, err := triage.NewInterceptor([]triage.Rule{{Category: "Cardiac", Symptoms: []string{"crushing chest pain"}}}, script, quiet)
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if retriever == nil {
		retriever = retrieverFunc(func(context.Context, string) retrieval.Result { return guidelineResult() })
	}
	h := &harness{
		llm:     script,
		store:   patient.NewMemoryStore(nil),
		alerts:  &recordingAlerts{},
		archive: &recordingArchive{},
	}
	h.orch, err = NewOrchestrator(Deps{
		Sessions:   h.store,
		Triage:     interceptor,
		Extractor:  extract.New(script, quiet),
		Retriever:  retriever,
		Gaps:       gaps.NewAnalyzer(script, quiet),
		Summarizer: summary.New(script, quiet),
		LLM:        script,
		Alerts:     h.alerts,
		Archive:    h.archive,
	}, Options{CallTimeout: time.Second}, quiet)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return h
}

func TestRespondRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, newScript(), nil)
	for _, req := range []TurnRequest{{SessionID: "", Message: "hi"}, {SessionID: "s", Message: "   "}} {
		if _, err := h.orch.Respond(context.Background(), req); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	}
}

func TestKeywordEmergencyShortCircuits(t *testing.T) {
	h := newHarness(t, newScript(), nil)
	reply, err := h.orch.Respond(context.Background(), TurnRequest{SessionID: "s1", Message: "I have chest pain"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reply.IsFinal || reply.State != StateEmergency || reply.StructuredRecord == nil {
		t.Fatalf("expected terminal emergency reply, got %+v", reply)
	}
	rec := reply.StructuredRecord
	if rec.Category != "Cardiac" || rec.EmergencyLevel != triage.LevelRed || rec.Source != triage.SourceKeyword {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !strings.Contains(reply.Answer, "EMERGENCY") {
		t.Fatalf("expected alert text, got %q", reply.Answer)
	}
	if n := h.llm.count(llm.TaskExtraction) + h.llm.count(llm.TaskAnalysis) + h.llm.count(llm.TaskGeneration); n != 0 {
		t.Fatalf("expected pipeline skipped, got %d downstream calls", n)
	}
	if _, err := h.store.Snapshot(context.Background(), "s1"); !errors.Is(err, patient.ErrNotFound) {
		t.Fatalf("expected no session state for an emergency turn, got %v", err)
	}
	if len(h.alerts.recs) != 1 {
		t.Fatalf("expected one alert, got %d", len(h.alerts.recs))
	}
}

func TestEmergencyAlertFailureDoesNotFailTurn(t *testing.T) {
	h := newHarness(t, newScript(), nil)
	h.alerts.err = errors.New("redis down")
	reply, _ := h.orch.Respond(context.Background(), TurnRequest{SessionID: "s", Message: "sudden numbness in my arm"})
	if reply.State != StateEmergency || !reply.IsFinal {
		t.Fatalf("expected emergency reply despite alert failure, got %+v", reply)
	}
}

func TestGatheringTurnIsNotFinal(t *testing.T) {
	script := newScript().
		reply(llm.TaskAnalysis, `{"missing_information": ["Fever", "Duration"]}`).
		reply(llm.TaskGeneration, "How long has it lasted, and do you have a fever? "+ClosingSentence)
	h := newHarness(t, script, nil)
	reply, err := h.orch.Respond(context.Background(), TurnRequest{SessionID: "s", Message: "I have a headache"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.IsFinal || reply.State != StateGathering || len(reply.Gaps) != 2 {
		t.Fatalf("expected gathering turn, got %+v", reply)
	}
	if strings.Contains(reply.Answer, ClosingSentence) {
		t.Fatalf("continuing turn must not invite a summary: %q", reply.Answer)
	}
	sys := script.last(llm.TaskGeneration).System
	if !strings.Contains(sys, "- Fever") || !strings.Contains(sys, "- Duration") || !strings.Contains(sys, "Do not give advice yet") {
		t.Fatalf("expected gathering instructions in prompt: %q", sys)
	}
}

func TestConcludingTurnIsFinal(t *testing.T) {
	script := newScript().reply(llm.TaskGeneration, "Rest and drink fluids [Page 14]. Take 500 mg paracetamol.")
	h := newHarness(t, script, nil)
	reply, err := h.orch.Respond(context.Background(), TurnRequest{SessionID: "s", Message: "I have a mild headache"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reply.IsFinal || reply.State != StateConcluding || len(reply.Gaps) != 0 {
		t.Fatalf("expected concluding turn, got %+v", reply)
	}
	if !strings.HasSuffix(reply.Answer, ClosingSentence) || strings.Count(reply.Answer, ClosingSentence) != 1 {
		t.Fatalf("expected exactly one closing sentence at the end: %q", reply.Answer)
	}
	if strings.Contains(reply.Answer, "500 mg") {
		t.Fatalf("expected dosage redacted: %q", reply.Answer)
	}
	if len(reply.Sources) != 2 || reply.Sources[0].Type != retrieval.TierDiagnostic || reply.Sources[1].Page != "14" {
		t.Fatalf("unexpected sources %+v", reply.Sources)
	}
	user := script.last(llm.TaskGeneration).Messages
	if !strings.Contains(user[len(user)-1].Content, "[Page 14] (Headache) Rest and drink fluids.") {
		t.Fatalf("expected guideline context in prompt: %q", user[len(user)-1].Content)
	}
}

func TestNoGuidelineContextConcludesHonestly(t *testing.T) {
	script := newScript().reply(llm.TaskGeneration, "This is not covered by the available guidelines.")
	empty := retrieverFunc(func(context.Context, string) retrieval.Result { return retrieval.Result{} })
	h := newHarness(t, script, empty)
	reply, _ := h.orch.Respond(context.Background(), TurnRequest{SessionID: "s", Message: "my elbow clicks"})
	if !reply.IsFinal {
		t.Fatalf("expected final reply without guideline context")
	}
	if script.count(llm.TaskAnalysis) != 0 {
		t.Fatalf("expected no gap analysis against empty context")
	}
	if !strings.Contains(script.last(llm.TaskGeneration).System, "not in the available guidelines") {
		t.Fatalf("expected no-guidance instruction")
	}
	if len(reply.Sources) != 0 {
		t.Fatalf("expected no sources, got %+v", reply.Sources)
	}
}

func TestUpstreamFailuresDegradeToMaintenance(t *testing.T) {
	cases := []struct {
		name   string
		script func() *scriptedLLM
	}{
		{"generation", func() *scriptedLLM {
			return newScript().on(llm.TaskGeneration, func(llm.Request) (string, error) { return "", errors.New("503") })
		}},
		{"empty generation", func() *scriptedLLM { return newScript().reply(llm.TaskGeneration, "  ") }},
		{"gap analysis", func() *scriptedLLM { return newScript().reply(llm.TaskAnalysis, "not json") }},
	}
	for _, tc := range cases {
		script := tc.script().reply(llm.TaskExtraction, `{"confirmed_symptoms": ["headache"]}`)
		h := newHarness(t, script, nil)
		reply, err := h.orch.Respond(context.Background(), TurnRequest{SessionID: "s", Message: "I have a headache"})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if reply.IsFinal || reply.Answer != MaintenanceMessage || reply.Sources == nil || len(reply.Sources) != 0 {
			t.Fatalf("%s: expected maintenance reply, got %+v", tc.name, reply)
		}
		snap, err := h.store.Snapshot(context.Background(), "s")
		if err != nil || !reflect.DeepEqual(snap.Confirmed, []string{"headache"}) {
			t.Fatalf("%s: expected merged facts kept, got %+v %v", tc.name, snap, err)
		}
	}
}

func TestPanickingCollaboratorIsRecovered(t *testing.T) {
	boom := retrieverFunc(func(context.Context, string) retrieval.Result { panic("index exploded") })
	h := newHarness(t, newScript(), boom)
	reply, err := h.orch.Respond(context.Background(), TurnRequest{SessionID: "s", Message: "I have a headache"})
	if err != nil || reply.Answer != MaintenanceMessage || reply.IsFinal {
		t.Fatalf("expected maintenance reply, got %+v %v", reply, err)
	}
	// The session stays usable on the next turn.
	h.orch.retriever = retrieverFunc(func(context.Context, string) retrieval.Result { return guidelineResult() })
	reply, _ = h.orch.Respond(context.Background(), TurnRequest{SessionID: "s", Message: "still aching"})
	if reply.State != StateConcluding {
		t.Fatalf("expected resumable session, got %+v", reply)
	}
}

func TestTerminalConsistency(t *testing.T) {
	for _, gapReply := range []string{`{"missing_information": []}`, `{"missing_information": ["Age"]}`, `{"missing_information": ["Age", "Fever"]}`} {
		script := newScript().reply(llm.TaskAnalysis, gapReply)
		h := newHarness(t, script, nil)
		reply, _ := h.orch.Respond(context.Background(), TurnRequest{SessionID: "s", Message: "headache"})
		if reply.IsFinal != (len(reply.Gaps) == 0) {
			t.Fatalf("finality %v disagrees with gaps %v", reply.IsFinal, reply.Gaps)
		}
		if reply.IsFinal != strings.Contains(reply.Answer, ClosingSentence) {
			t.Fatalf("prose contradicts is_final=%v: %q", reply.IsFinal, reply.Answer)
		}
	}
}

func TestNudgeAfterSixTurns(t *testing.T) {
	script := newScript()
	h := newHarness(t, script, nil)
	history := make([]llm.Message, 0, 6)
	for i := 0; i < 3; i++ {
		history = append(history, llm.Message{Role: "user", Content: "symptom"}, llm.Message{Role: "assistant", Content: "noted"})
	}
	_, _ = h.orch.Respond(context.Background(), TurnRequest{SessionID: "s", Message: "ok thanks", History: history[:4]})
	if strings.Contains(script.last(llm.TaskGeneration).System, "no more symptoms") {
		t.Fatalf("nudge must wait for six turns")
	}
	_, _ = h.orch.Respond(context.Background(), TurnRequest{SessionID: "s", Message: "ok thanks", History: history})
	if !strings.Contains(script.last(llm.TaskGeneration).System, "no more symptoms") {
		t.Fatalf("expected nudge instruction after six turns")
	}
}

func TestTranslationKeepsCitations(t *testing.T) {
	script := newScript().on(llm.TaskTranslation, func(req llm.Request) (string, error) {
		if !strings.Contains(req.System, "Spanish") {
			return "", errors.New("wrong language")
		}
		in := req.Messages[0].Content
		if strings.Contains(in, "[Page 14]") || strings.Contains(in, ClosingSentence) {
			return "", errors.New("protected text leaked to translator")
		}
		return strings.Replace(in, "Rest and drink fluids", "Descanse y beba líquidos", 1), nil
	})
	h := newHarness(t, script, nil)
	reply, _ := h.orch.Respond(context.Background(), TurnRequest{SessionID: "s", Message: "headache", TargetLanguage: "Spanish"})
	if !strings.HasPrefix(reply.Answer, "Descanse y beba líquidos [Page 14].") || !strings.HasSuffix(reply.Answer, ClosingSentence) {
		t.Fatalf("unexpected translation %q", reply.Answer)
	}
}

func TestTranslationFailureReturnsCanonicalText(t *testing.T) {
	script := newScript().reply(llm.TaskTranslation, "Descanse y beba líquidos.")
	h := newHarness(t, script, nil)
	reply, _ := h.orch.Respond(context.Background(), TurnRequest{SessionID: "s", Message: "headache", TargetLanguage: "Spanish"})
	if !strings.HasPrefix(reply.Answer, "Rest and drink fluids [Page 14].") || !reply.IsFinal {
		t.Fatalf("expected canonical answer when citations are lost, got %q", reply.Answer)
	}
	if n := script.count(llm.TaskTranslation); n != 1 {
		t.Fatalf("expected one translation attempt, got %d", n)
	}
	_, _ = h.orch.Respond(context.Background(), TurnRequest{SessionID: "s", Message: "headache", TargetLanguage: "english"})
	if n := script.count(llm.TaskTranslation); n != 1 {
		t.Fatalf("expected no translation for the canonical language, got %d", n)
	}
}

func TestTwoTurnConversation(t *testing.T) {
	script := newScript().reply(llm.TaskAnalysis, `{"missing_information": ["Duration", "Fever"]}`)
	h := newHarness(t, script, nil)
	ctx := context.Background()

	script.reply(llm.TaskExtraction, `{"confirmed_symptoms": ["headache", "dizziness"]}`)
	first, _ := h.orch.Respond(ctx, TurnRequest{SessionID: "s", Message: "I have a bad headache and feel dizzy"})
	if first.IsFinal {
		t.Fatalf("expected first turn to gather information")
	}

	script.reply(llm.TaskExtraction, `{"duration": "2 days"}`)
	history := []llm.Message{
		{Role: "user", Content: "I have a bad headache and feel dizzy"},
		{Role: "assistant", Content: "How long, and any fever?"},
	}
	_, _ = h.orch.Respond(ctx, TurnRequest{SessionID: "s", Message: "2 days", History: history})

	snap, err := h.store.Snapshot(ctx, "s")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !reflect.DeepEqual(snap.Confirmed, []string{"headache", "dizziness"}) || !reflect.DeepEqual(snap.Denied, []string{"fever"}) || snap.Duration != "2 days" {
		t.Fatalf("unexpected session after two turns: %+v", snap)
	}
}

func TestMergesFollowSubmissionOrder(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 2)
	script := newScript().on(llm.TaskExtraction, func(req llm.Request) (string, error) {
		entered <- struct{}{}
		if strings.Contains(req.Messages[0].Content, "I have a fever") {
			<-gate
			return `{"confirmed_symptoms": ["fever"]}`, nil
		}
		return `{"denied_symptoms": ["fever"]}`, nil
	})
	h := newHarness(t, script, nil)
	h.orch.opts.CallTimeout = 0
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = h.orch.Respond(ctx, TurnRequest{SessionID: "s", Message: "I have a fever"})
	}()
	<-entered
	go func() {
		defer wg.Done()
		_, _ = h.orch.Respond(ctx, TurnRequest{SessionID: "s", Message: "actually no fever now"})
	}()

	select {
	case <-entered:
		t.Fatalf("second turn overtook the first")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)
	wg.Wait()

	snap, _ := h.store.Snapshot(ctx, "s")
	if !reflect.DeepEqual(snap.Denied, []string{"fever"}) || len(snap.Confirmed) != 0 {
		t.Fatalf("expected later denial to win, got %+v", snap)
	}
}

func TestOtherSessionsAreNotBlocked(t *testing.T) {
	gate := make(chan struct{})
	script := newScript().on(llm.TaskExtraction, func(req llm.Request) (string, error) {
		if strings.Contains(req.Messages[0].Content, "slow") {
			<-gate
		}
		return `{}`, nil
	})
	h := newHarness(t, script, nil)
	h.orch.opts.CallTimeout = 0
	go func() { _, _ = h.orch.Respond(context.Background(), TurnRequest{SessionID: "a", Message: "slow turn"}) }()

	done := make(chan struct{})
	go func() {
		_, _ = h.orch.Respond(context.Background(), TurnRequest{SessionID: "b", Message: "headache"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("session b blocked behind session a")
	}
	close(gate)
}

func TestCloseSummarisesAndArchives(t *testing.T) {
	h := newHarness(t, newScript().reply(llm.TaskExtraction, `{"confirmed_symptoms": ["headache"]}`), nil)
	ctx := context.Background()
	_, _ = h.orch.Respond(ctx, TurnRequest{SessionID: "s", Message: "I have a headache"})

	rec, err := h.orch.Close(ctx, "s", "English")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if rec.Triage.EmergencyLevel != summary.LevelGreen || rec.MetaData.SessionID != "s" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(h.archive.recs) != 1 || h.archive.recs[0].ID != rec.ID {
		t.Fatalf("expected record archived, got %d", len(h.archive.recs))
	}

	unknown, err := h.orch.Close(ctx, "never-seen", "")
	if err != nil || unknown.MetaData.SessionID != "never-seen" || len(unknown.MetaData.ConfirmedSymptoms) != 0 {
		t.Fatalf("expected empty-case record for unknown session, got %+v %v", unknown, err)
	}
	if _, err := h.orch.Close(ctx, " ", ""); !errors.Is(err, patient.ErrSessionIDRequired) {
		t.Fatalf("expected ErrSessionIDRequired, got %v", err)
	}
}

func TestCloseFallbackIsNotArchived(t *testing.T) {
	script := newScript().on(llm.TaskSummary, func(llm.Request) (string, error) { return "", errors.New("down") })
	h := newHarness(t, script, nil)
	rec, err := h.orch.Close(context.Background(), "s", "English")
	if err != nil || rec.Triage.EmergencyLevel != summary.LevelUnknown {
		t.Fatalf("expected UNKNOWN record, got %+v %v", rec, err)
	}
	if len(h.archive.recs) != 0 {
		t.Fatalf("expected fallback record not archived")
	}
}

func TestResetForgetsSession(t *testing.T) {
	h := newHarness(t, newScript(), nil)
	ctx := context.Background()
	_, _ = h.orch.Respond(ctx, TurnRequest{SessionID: "s", Message: "headache"})
	if err := h.orch.Reset(ctx, "s"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := h.orch.Snapshot(ctx, "s"); !errors.Is(err, patient.ErrNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
}

func TestProtectRestore(t *testing.T) {
	text := "Rest [Page 4]. Fluids [Page ?]. " + ClosingSentence
	protected, tokens := protect(text)
	if len(tokens) != 3 || strings.Contains(protected, "[Page") {
		t.Fatalf("unexpected protection %q %v", protected, tokens)
	}
	back, ok := restore(protected, tokens)
	if !ok || back != text {
		t.Fatalf("expected round trip, got %q", back)
	}
	if _, ok := restore("lost", tokens); ok {
		t.Fatalf("expected missing placeholders to be detected")
	}
}

func TestFinalize(t *testing.T) {
	if got := finalize("Advice. "+ClosingSentence, true); got != "Advice.\n\n"+ClosingSentence {
		t.Fatalf("unexpected final text %q", got)
	}
	if got := finalize("Question? "+ClosingSentence, false); got != "Question?" {
		t.Fatalf("unexpected continuing text %q", got)
	}
}

func TestNormalizeDetectsAndTranslates(t *testing.T) {
	script := newScript().on(llm.TaskTranslation, func(req llm.Request) (string, error) {
		if !req.JSON || !strings.Contains(req.System, "English") {
			return "", errors.New("expected JSON request into English")
		}
		return `{"english_text": "I have had a fever since yesterday", "detected_language": "Hindi"}`, nil
	})
	h := newHarness(t, script, nil)
	out, err := h.orch.Normalize(context.Background(), "  kal se bukhar hai ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Text != "I have had a fever since yesterday" || out.DetectedLanguage != "Hindi" {
		t.Fatalf("unexpected result %+v", out)
	}
	if got := script.last(llm.TaskTranslation).Messages[0].Content; got != "kal se bukhar hai" {
		t.Fatalf("expected trimmed input sent, got %q", got)
	}

	if _, err := h.orch.Normalize(context.Background(), " "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestNormalizeFallbacks(t *testing.T) {
	script := newScript().reply(llm.TaskTranslation, `{"english_text": "", "detected_language": ""}`)
	h := newHarness(t, script, nil)
	out, err := h.orch.Normalize(context.Background(), "headache")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Text != "headache" || out.DetectedLanguage != "unknown" {
		t.Fatalf("expected input echoed back, got %+v", out)
	}

	script.reply(llm.TaskTranslation, "not json")
	if _, err := h.orch.Normalize(context.Background(), "headache"); err == nil {
		t.Fatalf("expected error for unusable translator output")
	}
}
