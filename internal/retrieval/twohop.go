package retrieval

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("medtriage/internal/retrieval")

// goldenCandidates is how many golden passages are compared by distance
// before the threshold is applied to the nearest one.
const goldenCandidates = 3

// Options configures the retriever.
type Options struct {
	ReferenceCollection string
	GoldenCollection    string
	DiagnosticTopK      int
	GuidelineTopK       int
	GoldenThreshold     float64
	HopTimeout          time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReferenceCollection == "" {
		o.ReferenceCollection = "medical_reference"
	}
	if o.GoldenCollection == "" {
		o.GoldenCollection = "golden_rules"
	}
	if o.DiagnosticTopK <= 0 {
		o.DiagnosticTopK = 2
	}
	if o.GuidelineTopK <= 0 {
		o.GuidelineTopK = 3
	}
	if o.GoldenThreshold <= 0 {
		o.GoldenThreshold = 0.4
	}
	return o
}

// Result is the outcome of one two-hop retrieval. Golden is set only when a
// golden passage cleared the distance threshold.
type Result struct {
	Diagnostic []Hit
	Guideline  []Hit
	Golden     *Hit
	// Failed lists hops that errored and were degraded to empty.
	Failed []string
}

// HasGuidance reports whether there is any patient-facing guideline context.
func (r Result) HasGuidance() bool {
	return r.Golden != nil || len(r.Guideline) > 0
}

// Citations lists every accepted passage: critical first, then diagnostic,
// then guideline.
func (r Result) Citations() []Citation {
	out := make([]Citation, 0, len(r.Diagnostic)+len(r.Guideline)+1)
	if r.Golden != nil {
		out = append(out, NewCitation(*r.Golden, TierCritical))
	}
	for _, h := range r.Diagnostic {
		out = append(out, NewCitation(h, TierDiagnostic))
	}
	for _, h := range r.Guideline {
		out = append(out, NewCitation(h, TierGuideline))
	}
	return out
}

// GuidelineContext renders the golden rule and guideline passages with
// their page markers. Diagnostic passages are kept out of it.
func (r Result) GuidelineContext() string {
	var b strings.Builder
	if r.Golden != nil {
		fmt.Fprintf(&b, "CRITICAL GOLDEN RULE [Page %s]: %s\n\n", pageOf(*r.Golden), r.Golden.Document)
	}
	for _, h := range r.Guideline {
		fmt.Fprintf(&b, "[Page %s] (%s) %s\n\n", pageOf(h), h.Metadata.Topic, h.Document)
	}
	return strings.TrimSpace(b.String())
}

// DiagnosticContext renders the explanatory passages.
func (r Result) DiagnosticContext() string {
	var b strings.Builder
	for _, h := range r.Diagnostic {
		fmt.Fprintf(&b, "[Page %s] %s\n\n", pageOf(h), h.Document)
	}
	return strings.TrimSpace(b.String())
}

func pageOf(h Hit) string {
	if h.Metadata.Page == "" {
		return "?"
	}
	return h.Metadata.Page
}

// BuildQuery joins the utterance with the accumulated confirmed symptoms so
// retrieval follows the whole case, not just the last sentence.
func BuildQuery(utterance string, confirmed []string) string {
	q := strings.TrimSpace(utterance)
	if len(confirmed) == 0 {
		return q
	}
	return strings.TrimSpace(q + " " + strings.Join(confirmed, " "))
}

// TwoHop runs the diagnostic, guideline and golden lookups.
type TwoHop struct {
	index  Index
	opts   Options
	logger *log.Logger
}

func NewTwoHop(index Index, opts Options, logger *log.Logger) *TwoHop {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)
	}
	return &TwoHop{index: index, opts: opts.withDefaults(), logger: logger}
}

// Retrieve runs the three hops concurrently. A failing hop yields no
// passages; the call itself never fails.
func (t *TwoHop) Retrieve(ctx context.Context, query string) Result {
	ctx, span := tracer.Start(ctx, "retrieval.two_hop")
	defer span.End()

	var (
		res Result
		mu  sync.Mutex
		wg  sync.WaitGroup
	)
	hop := func(name, collection string, topK int, filter Filter, assign func([]Hit)) {
		defer wg.Done()
		hits, err := t.query(ctx, collection, query, topK, filter)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			t.logger.Printf("warn: %s hop failed, continuing without it: %v", name, err)
			res.Failed = append(res.Failed, name)
			return
		}
		assign(hits)
	}

	wg.Add(3)
	go hop(TierDiagnostic, t.opts.ReferenceCollection, t.opts.DiagnosticTopK, Filter{Intent: IntentDiagnostic}, func(h []Hit) {
		res.Diagnostic = h
	})
	go hop(TierGuideline, t.opts.ReferenceCollection, t.opts.GuidelineTopK, Filter{Intent: IntentGuidelinePatient}, func(h []Hit) {
		res.Guideline = h
	})
	go hop(TierCritical, t.opts.GoldenCollection, goldenCandidates, Filter{Nearest: true}, func(h []Hit) {
		g, ok := nearest(h)
		if ok && g.Distance < t.opts.GoldenThreshold {
			res.Golden = &g
		}
	})
	wg.Wait()

	span.SetAttributes(
		attribute.Int("retrieval.diagnostic", len(res.Diagnostic)),
		attribute.Int("retrieval.guideline", len(res.Guideline)),
		attribute.Bool("retrieval.golden", res.Golden != nil),
		attribute.Int("retrieval.failed_hops", len(res.Failed)),
	)
	return res
}

// nearest returns the hit with the smallest distance; the first wins ties.
func nearest(hits []Hit) (Hit, bool) {
	if len(hits) == 0 {
		return Hit{}, false
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h.Distance < best.Distance {
			best = h
		}
	}
	return best, true
}

// query applies the per-hop timeout and converts panics into errors.
func (t *TwoHop) query(ctx context.Context, collection, text string, topK int, filter Filter) (hits []Hit, err error) {
	if t.index == nil {
		return nil, fmt.Errorf("retrieval: index unavailable")
	}
	if t.opts.HopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.HopTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			hits, err = nil, fmt.Errorf("retrieval: index panic: %v", r)
		}
	}()
	hits, err = t.index.Query(ctx, collection, text, topK, filter)
	if err != nil {
		return nil, err
	}
	var out []Hit
	for _, h := range hits {
		if filter.matches(h.Metadata) {
			out = append(out, h)
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
