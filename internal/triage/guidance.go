package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/medtriage/internal/llm"
	"github.com/mohammad-safakhou/medtriage/internal/retrieval"
)

const guidanceSystemPrompt = "You are a helpful medical assistant. Provide clear, concise symptom analysis."

type guidance struct {
	index      retrieval.Index
	collection string
	topK       int
}

// WithGuidelineSummary lets AssessWithGuidance replace the verdict reason
// with a short analysis grounded in the top passages of collection.
func WithGuidelineSummary(index retrieval.Index, collection string, topK int) Option {
	return func(i *Interceptor) {
		if index == nil {
			return
		}
		if topK <= 0 {
			topK = 3
		}
		i.guidance = &guidance{index: index, collection: collection, topK: topK}
	}
}

// AssessWithGuidance is Assess followed by the guideline summary. Any
// failure while summarising leaves the verdict reason untouched.
func (i *Interceptor) AssessWithGuidance(ctx context.Context, text string) Assessment {
	a := i.Assess(ctx, text)
	if reason, ok := i.guidelineSummary(ctx, text); ok {
		a.Reason = reason
		a.GuidelineGrounded = true
	}
	return a
}

func (i *Interceptor) guidelineSummary(ctx context.Context, text string) (string, bool) {
	if i.guidance == nil || i.llm == nil {
		return "", false
	}
	hits, err := i.guidance.index.Query(ctx, i.guidance.collection, text, i.guidance.topK, retrieval.Filter{})
	if err != nil {
		i.logger.Printf("warn: guideline lookup for triage summary failed: %v", err)
		return "", false
	}
	var passages []string
	for _, h := range hits {
		if h.Metadata.Intent == retrieval.IntentTreatment || strings.TrimSpace(h.Document) == "" {
			continue
		}
		passages = append(passages, h.Document)
	}
	if len(passages) == 0 {
		return "", false
	}

	prompt := fmt.Sprintf(`Based on these medical guidelines:

%s

Analyze these symptoms: %s

Provide a brief, helpful summary (2-3 sentences) that:
1. Explains what these symptoms might indicate
2. Provides practical advice
3. Mentions when to seek medical care

Be concise, clear, and helpful.`, strings.Join(passages, "\n\n"), text)

	out, err := i.llm.Complete(ctx, llm.Request{
		Task:        llm.TaskAnalysis,
		System:      guidanceSystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		i.logger.Printf("warn: triage summary unavailable: %v", err)
		return "", false
	}
	out = strings.TrimSpace(out)
	return out, out != ""
}
