// Package gaps decides which decision-critical data points are still
// missing before guideline advice can be given.
package gaps

import (
	"context"
	"log"
	"strings"
	"unicode"

	"github.com/mohammad-safakhou/medtriage/internal/llm"
	"github.com/mohammad-safakhou/medtriage/internal/patient"
)

// Gap names one unanswered decision point, e.g. "Duration".
type Gap string

const systemPrompt = `You are a clinical checklist auditor. Read the GUIDELINE CONTEXT and list the mandatory decision points it requires before advice can be given (for example duration, fever, age, red-flag symptoms).

A decision point is ANSWERED if it appears in CONFIRMED SYMPTOMS or DENIED SYMPTOMS, or if DURATION / MEDICATIONS TAKEN already hold a value. A denial is an answer. Entries starting with "refused" mean the patient declined to answer; treat them as answered.

Return ONLY decision points that are still unanswered, as short labels (2-5 words). Do not list generic questions. If nothing is missing, return an empty list.

Respond with VALID JSON only:
{"missing_information": []}`

// stopwords are generic chat words that must not, on their own, link a gap
// to a denied symptom.
var stopwords = map[string]struct{}{
	"pain": {}, "symptoms": {}, "history": {}, "check": {}, "signs": {},
	"presence": {}, "patient": {}, "about": {}, "your": {}, "with": {}, "have": {},
}

// Analyzer runs the checklist pass and the local filters.
type Analyzer struct {
	llm    llm.Client
	logger *log.Logger
}

func NewAnalyzer(client llm.Client, logger *log.Logger) *Analyzer {
	if logger == nil {
		logger = log.New(log.Writer(), "[GAPS] ", log.LstdFlags)
	}
	return &Analyzer{llm: client, logger: logger}
}

type checklistResponse struct {
	Missing []string `json:"missing_information"`
}

// FindGaps returns the unanswered decision points for the case. It returns
// nil when there is no guideline context to check against. The error is
// non-nil only when the checklist pass itself failed; callers treat that as
// an upstream failure rather than an empty gap list.
func (a *Analyzer) FindGaps(ctx context.Context, snap patient.Snapshot, guidelineContext string) ([]Gap, error) {
	if strings.TrimSpace(guidelineContext) == "" {
		return nil, nil
	}
	var resp checklistResponse
	err := llm.CompleteJSON(ctx, a.llm, llm.Request{
		Task:   llm.TaskAnalysis,
		System: systemPrompt,
		Messages: []llm.Message{{
			Role:    "user",
			Content: snap.FactBlock() + "\n\nGUIDELINE CONTEXT:\n" + guidelineContext,
		}},
		Temperature: 0,
	}, &resp)
	if err != nil {
		a.logger.Printf("warn: gap analysis failed: %v", err)
		return nil, err
	}
	raw := ExcludeAnswered(resp.Missing, snap)
	out := FilterDenied(raw, strings.Join(snap.Denied, " "))
	if dropped := len(raw) - len(out); dropped > 0 {
		a.logger.Printf("dropped %d gap(s) already denied under other wording", dropped)
	}
	return out, nil
}

// ExcludeAnswered removes decision points that already appear, in either
// direction of substring containment, among confirmed or denied symptoms.
// Blank and duplicate labels are dropped.
func ExcludeAnswered(points []string, snap patient.Snapshot) []Gap {
	answered := make([]string, 0, len(snap.Confirmed)+len(snap.Denied))
	for _, s := range snap.Confirmed {
		answered = append(answered, strings.ToLower(s))
	}
	for _, s := range snap.Denied {
		answered = append(answered, strings.ToLower(s))
	}
	seen := map[string]struct{}{}
	var out []Gap
	for _, p := range points {
		p = strings.TrimSpace(p)
		key := strings.ToLower(p)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if isAnswered(key, answered) {
			continue
		}
		out = append(out, Gap(p))
	}
	return out
}

func isAnswered(point string, answered []string) bool {
	for _, a := range answered {
		if a == "" {
			continue
		}
		if strings.Contains(a, point) || strings.Contains(point, a) {
			return true
		}
	}
	return false
}

// FilterDenied drops any gap sharing a significant word with deniedText.
// Words shorter than three letters and generic chat words are ignored.
// "Refused ..." sentinels take part like any other denial.
func FilterDenied(gaps []Gap, deniedText string) []Gap {
	denied := strings.ToLower(deniedText)
	if strings.TrimSpace(denied) == "" {
		return gaps
	}
	out := make([]Gap, 0, len(gaps))
	for _, g := range gaps {
		if overlaps(string(g), denied) {
			continue
		}
		out = append(out, g)
	}
	return out
}

func overlaps(gap, denied string) bool {
	for _, w := range significantWords(gap) {
		if strings.Contains(denied, w) {
			return true
		}
	}
	return false
}

func significantWords(s string) []string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}
