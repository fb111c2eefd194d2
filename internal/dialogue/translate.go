package dialogue

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/medtriage/internal/llm"
)

const translatePrompt = `You are a medical translator. Translate the user's text into %s.
- Keep every placeholder of the form [[Tn]] exactly as it is, in place.
- Keep drug names, medical abbreviations and technical terms untranslated.
- Return only the translated text.`

const normalizePrompt = `You are a universal translator. Detect the language of the user's text and translate it strictly into %s for a medical database search. If it is already in %s, copy it unchanged.
Return ONLY valid JSON: {"english_text": "...", "detected_language": "..."}`

var citationPattern = regexp.MustCompile(`\[Page [^\]]*\]`)

// protect swaps page citations and the closing sentence for placeholders
// the translator is told to keep.
func protect(text string) (string, []string) {
	var tokens []string
	swap := func(s string) string {
		tokens = append(tokens, s)
		return fmt.Sprintf("[[T%d]]", len(tokens)-1)
	}
	if strings.Contains(text, ClosingSentence) {
		text = strings.ReplaceAll(text, ClosingSentence, swap(ClosingSentence))
	}
	text = citationPattern.ReplaceAllStringFunc(text, swap)
	return text, tokens
}

func restore(text string, tokens []string) (string, bool) {
	for i, tok := range tokens {
		ph := fmt.Sprintf("[[T%d]]", i)
		if !strings.Contains(text, ph) {
			return "", false
		}
		text = strings.ReplaceAll(text, ph, tok)
	}
	return text, true
}

func sameLanguage(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a == "" || b == "" || strings.EqualFold(a, b)
}

// translate renders answer in target, keeping citation tokens intact. On
// failure it returns the untranslated answer and the error.
func (o *Orchestrator) translate(ctx context.Context, answer, target string) (string, error) {
	if sameLanguage(target, o.opts.CanonicalLanguage) || strings.TrimSpace(answer) == "" {
		return answer, nil
	}
	protected, tokens := protect(answer)
	ctx, cancel := o.callContext(ctx)
	defer cancel()
	out, err := o.llm.Complete(ctx, llm.Request{
		Task:        llm.TaskTranslation,
		System:      fmt.Sprintf(translatePrompt, target),
		Messages:    []llm.Message{{Role: "user", Content: protected}},
		Temperature: 0,
	})
	if err != nil {
		return answer, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return answer, llm.ErrEmptyResponse
	}
	restored, ok := restore(out, tokens)
	if !ok {
		return answer, fmt.Errorf("translation dropped protected tokens")
	}
	return restored, nil
}

// Normalize detects the language of text and renders it in the canonical
// language. A blank translation falls back to the input.
func (o *Orchestrator) Normalize(ctx context.Context, text string) (Normalized, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Normalized{}, ErrEmptyText
	}
	ctx, cancel := o.callContext(ctx)
	defer cancel()
	var out Normalized
	err := llm.CompleteJSON(ctx, o.llm, llm.Request{
		Task:        llm.TaskTranslation,
		System:      fmt.Sprintf(normalizePrompt, o.opts.CanonicalLanguage, o.opts.CanonicalLanguage),
		Messages:    []llm.Message{{Role: "user", Content: text}},
		Temperature: 0,
	}, &out)
	if err != nil {
		recordFallback(ctx, "normalize")
		return Normalized{}, fmt.Errorf("normalize text: %w", err)
	}
	out.Text = strings.TrimSpace(out.Text)
	out.DetectedLanguage = strings.TrimSpace(out.DetectedLanguage)
	if out.Text == "" {
		out.Text = text
	}
	if out.DetectedLanguage == "" {
		out.DetectedLanguage = "unknown"
	}
	return out, nil
}
