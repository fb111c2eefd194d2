package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/medtriage/internal/gaps"
	"github.com/mohammad-safakhou/medtriage/internal/llm"
	"github.com/mohammad-safakhou/medtriage/internal/patient"
	"github.com/mohammad-safakhou/medtriage/internal/retrieval"
	"github.com/mohammad-safakhou/medtriage/internal/summary"
	"github.com/mohammad-safakhou/medtriage/internal/triage"
)

var tracer trace.Tracer = otel.Tracer("medtriage/internal/dialogue")

// Options tunes the orchestrator.
type Options struct {
	HistoryWindow     int
	NudgeTurn         int
	CallTimeout       time.Duration
	CanonicalLanguage string
}

func (o Options) withDefaults() Options {
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 6
	}
	if o.NudgeTurn <= 0 {
		o.NudgeTurn = 6
	}
	if strings.TrimSpace(o.CanonicalLanguage) == "" {
		o.CanonicalLanguage = "English"
	}
	return o
}

// Deps are the collaborators of one orchestrator. Alerts and Archive are
// optional.
type Deps struct {
	Sessions   patient.Store
	Turns      *patient.TurnQueue
	Triage     EmergencyChecker
	Extractor  FactExtractor
	Retriever  Retriever
	Gaps       GapFinder
	Summarizer CaseSummarizer
	LLM        llm.Client
	Alerts     AlertSink
	Archive    CaseArchive
}

// Orchestrator drives the per-turn state machine.
type Orchestrator struct {
	sessions   patient.Store
	turns      *patient.TurnQueue
	triage     EmergencyChecker
	extractor  FactExtractor
	retriever  Retriever
	gaps       GapFinder
	summarizer CaseSummarizer
	llm        llm.Client
	alerts     AlertSink
	archive    CaseArchive
	opts       Options
	logger     *log.Logger
}

func NewOrchestrator(deps Deps, opts Options, logger *log.Logger) (*Orchestrator, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("dialogue: session store is required")
	case deps.Triage == nil:
		return nil, errors.New("dialogue: emergency checker is required")
	case deps.Extractor == nil, deps.Retriever == nil, deps.Gaps == nil, deps.Summarizer == nil:
		return nil, errors.New("dialogue: extractor, retriever, gap finder and summarizer are required")
	case deps.LLM == nil:
		return nil, fmt.Errorf("dialogue: %w", llm.ErrNotConfigured)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[DIALOGUE] ", log.LstdFlags)
	}
	turns := deps.Turns
	if turns == nil {
		turns = patient.NewTurnQueue()
	}
	return &Orchestrator{
		sessions:   deps.Sessions,
		turns:      turns,
		triage:     deps.Triage,
		extractor:  deps.Extractor,
		retriever:  deps.Retriever,
		gaps:       deps.Gaps,
		summarizer: deps.Summarizer,
		llm:        deps.LLM,
		alerts:     deps.Alerts,
		archive:    deps.Archive,
		opts:       opts.withDefaults(),
		logger:     logger,
	}, nil
}

// Respond runs one turn. The only error it returns is ErrInvalidInput;
// every upstream failure becomes a non-final maintenance reply.
func (o *Orchestrator) Respond(ctx context.Context, req TurnRequest) (reply Reply, err error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" || strings.TrimSpace(req.Message) == "" {
		return Reply{}, ErrInvalidInput
	}
	ctx, span := tracer.Start(ctx, "dialogue.turn", trace.WithAttributes(
		attribute.Int("dialogue.history_len", len(req.History)),
		attribute.String("dialogue.target_language", req.TargetLanguage),
	))
	defer span.End()

	// Ticket taken at submission; merges land in arrival order.
	release, err := o.turns.Acquire(ctx, req.SessionID)
	if err != nil {
		o.logger.Printf("warn: turn cancelled while queued: %v", err)
		return o.maintenance(ctx, span, "queue", err), nil
	}
	released := false
	releaseOnce := func() {
		if !released {
			released = true
			release()
		}
	}
	defer releaseOnce()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("warn: turn panicked: %v", r)
			reply, err = o.maintenance(ctx, span, "panic", fmt.Errorf("panic: %v", r)), nil
		}
	}()

	// Emergency short-circuit on the raw text.
	start := time.Now()
	ectx, espan := tracer.Start(ctx, "dialogue.emergency")
	ectx, ecancel := o.callContext(ectx)
	assessment := o.triage.Assess(ectx, req.Message)
	ecancel()
	espan.SetAttributes(attribute.Bool("triage.emergency", assessment.IsEmergency), attribute.String("triage.source", assessment.Source))
	espan.End()
	observeStage(ctx, "emergency", start)
	if assessment.Degraded {
		recordFallback(ctx, "triage")
	}
	if assessment.IsEmergency {
		releaseOnce()
		return o.emergency(ctx, span, req, assessment), nil
	}

	// Extract and merge.
	start = time.Now()
	xctx, xspan := tracer.Start(ctx, "dialogue.extract")
	xctx, xcancel := o.callContext(xctx)
	delta := o.extractor.Extract(xctx, req.Message, o.window(req.History))
	xcancel()
	xspan.SetAttributes(attribute.Bool("extract.empty", delta.IsEmpty()))
	xspan.End()
	observeStage(ctx, "extract", start)

	_, mspan := tracer.Start(ctx, "dialogue.merge")
	snap, err := o.sessions.Merge(ctx, req.SessionID, delta)
	mspan.End()
	releaseOnce()
	if err != nil {
		o.logger.Printf("warn: session merge failed: %v", err)
		return o.maintenance(ctx, span, "store", err), nil
	}

	// Two-hop retrieval over the accumulated case.
	start = time.Now()
	rctx, rspan := tracer.Start(ctx, "dialogue.retrieve")
	res := o.retriever.Retrieve(rctx, retrieval.BuildQuery(req.Message, snap.Confirmed))
	rspan.End()
	observeStage(ctx, "retrieve", start)
	for range res.Failed {
		recordFallback(ctx, "retrieval")
	}

	// Gap analysis decides finality.
	start = time.Now()
	gctx, gspan := tracer.Start(ctx, "dialogue.gaps")
	missing, err := o.findGaps(gctx, snap, res)
	gspan.SetAttributes(attribute.Int("gaps.count", len(missing)))
	gspan.End()
	observeStage(ctx, "gaps", start)
	if err != nil {
		return o.maintenance(ctx, span, "gaps", err), nil
	}
	state := StateConcluding
	if len(missing) > 0 {
		state = StateGathering
	}
	final := state == StateConcluding

	// Grounded generation.
	start = time.Now()
	nctx, nspan := tracer.Start(ctx, "dialogue.generate", trace.WithAttributes(attribute.String("dialogue.state", state)))
	answer, err := o.generate(nctx, req, snap, res, state, missing)
	nspan.End()
	observeStage(ctx, "generate", start)
	if err != nil {
		o.logger.Printf("warn: generation failed: %v", err)
		return o.maintenance(ctx, span, "generate", err), nil
	}
	if final {
		answer = redactDosages(answer)
	}
	answer = finalize(answer, final)

	start = time.Now()
	tctx, tspan := tracer.Start(ctx, "dialogue.translate")
	answer, terr := o.translate(tctx, answer, req.TargetLanguage)
	tspan.End()
	observeStage(ctx, "translate", start)
	if terr != nil {
		o.logger.Printf("warn: translation to %s failed, returning canonical text: %v", req.TargetLanguage, terr)
		recordFallback(ctx, "translate")
	}

	recordTurn(ctx, state)
	span.SetAttributes(
		attribute.String("dialogue.state", state),
		attribute.Bool("dialogue.final", final),
		attribute.Int("dialogue.sources", len(res.Citations())),
	)
	span.SetStatus(codes.Ok, state)
	return Reply{
		Answer:  answer,
		Sources: res.Citations(),
		IsFinal: final,
		State:   state,
		Gaps:    missing,
	}, nil
}

func (o *Orchestrator) findGaps(ctx context.Context, snap patient.Snapshot, res retrieval.Result) (missing []gaps.Gap, err error) {
	ctx, cancel := o.callContext(ctx)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			missing, err = nil, fmt.Errorf("gap analysis panic: %v", r)
		}
	}()
	return o.gaps.FindGaps(ctx, snap, res.GuidelineContext())
}

func (o *Orchestrator) generate(ctx context.Context, req TurnRequest, snap patient.Snapshot, res retrieval.Result, state string, missing []gaps.Gap) (string, error) {
	ctx, cancel := o.callContext(ctx)
	defer cancel()
	nudge := len(req.History) >= o.opts.NudgeTurn
	msgs := append([]llm.Message{}, o.window(req.History)...)
	msgs = append(msgs, llm.Message{Role: "user", Content: userPromptFor(req.Message, snap, res)})
	out, err := o.llm.Complete(ctx, llm.Request{
		Task:        llm.TaskGeneration,
		System:      systemPromptFor(state, o.opts.CanonicalLanguage, missing, res, nudge),
		Messages:    msgs,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", llm.ErrEmptyResponse
	}
	return out, nil
}

func (o *Orchestrator) emergency(ctx context.Context, span trace.Span, req TurnRequest, a triage.Assessment) Reply {
	rec := o.triage.Record(a, req.Message)
	recordEmergency(ctx, a.Source)
	o.logger.Printf("emergency intercepted: category=%s source=%s priority=%d", rec.Category, rec.Source, rec.PriorityScore)
	if o.alerts != nil {
		actx, cancel := o.callContext(ctx)
		if err := o.alerts.PublishEmergency(actx, req.SessionID, *rec); err != nil {
			o.logger.Printf("warn: emergency alert not published: %v", err)
			recordFallback(ctx, "alerts")
		}
		cancel()
	}
	answer := emergencyAnswer(rec)
	translated, err := o.translate(ctx, answer, req.TargetLanguage)
	if err != nil {
		o.logger.Printf("warn: emergency alert translation failed, returning canonical text: %v", err)
		recordFallback(ctx, "translate")
	}
	recordTurn(ctx, StateEmergency)
	span.SetAttributes(attribute.String("dialogue.state", StateEmergency), attribute.Bool("dialogue.final", true))
	return Reply{
		Answer:           translated,
		Sources:          []retrieval.Citation{},
		IsFinal:          true,
		StructuredRecord: rec,
		State:            StateEmergency,
	}
}

func (o *Orchestrator) maintenance(ctx context.Context, span trace.Span, component string, cause error) Reply {
	recordFallback(ctx, component)
	recordTurn(ctx, StateFailed)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	return Reply{
		Answer:  MaintenanceMessage,
		Sources: []retrieval.Citation{},
		IsFinal: false,
		State:   StateFailed,
	}
}

// Close summarises the session into its terminal case record and archives
// it when an archive is configured. It fails only on a missing session id.
func (o *Orchestrator) Close(ctx context.Context, sessionID, targetLanguage string) (summary.CaseRecord, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return summary.CaseRecord{}, patient.ErrSessionIDRequired
	}
	ctx, span := tracer.Start(ctx, "dialogue.close")
	defer span.End()

	snap, err := o.sessions.Snapshot(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, patient.ErrNotFound) {
			o.logger.Printf("warn: session snapshot failed, summarising empty case: %v", err)
			recordFallback(ctx, "store")
		}
		snap = patient.Snapshot{SessionID: sessionID}
	}
	sctx, cancel := o.callContext(ctx)
	rec := o.summarizer.Summarize(sctx, snap, targetLanguage)
	cancel()
	if rec.Failed() {
		recordFallback(ctx, "summary")
	}
	span.SetAttributes(attribute.String("summary.level", rec.Triage.EmergencyLevel))

	if o.archive != nil && !rec.Failed() {
		if err := o.archive.SaveCaseRecord(ctx, rec); err != nil {
			o.logger.Printf("warn: case record not archived: %v", err)
			recordFallback(ctx, "archive")
		}
	}
	return rec, nil
}

// Reset forgets a session.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	return o.sessions.Delete(ctx, sessionID)
}

// Snapshot exposes the current plain view of a session.
func (o *Orchestrator) Snapshot(ctx context.Context, sessionID string) (patient.Snapshot, error) {
	return o.sessions.Snapshot(ctx, sessionID)
}

func (o *Orchestrator) window(history []llm.Message) []llm.Message {
	if len(history) <= o.opts.HistoryWindow {
		return history
	}
	return history[len(history)-o.opts.HistoryWindow:]
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.opts.CallTimeout)
}
