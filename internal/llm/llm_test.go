package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/mohammad-safakhou/medtriage/config"
)

func TestExtractJSONFenced(t *testing.T) {
	in := "```json\n{\"a\": \"}\"}\n```"
	got, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"a": "}"}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSONWithChatter(t *testing.T) {
	got, err := ExtractJSON(`Sure! Here it is: {"x": [1, {"y": 2}]} hope that helps`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"x": [1, {"y": 2}]}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSONErrors(t *testing.T) {
	if _, err := ExtractJSON("   "); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	if _, err := ExtractJSON("no json {here"); err == nil {
		t.Fatalf("expected error for unbalanced input")
	}
}

func TestCompleteJSONForcesJSONMode(t *testing.T) {
	var seen Request
	c := ClientFunc(func(_ context.Context, req Request) (string, error) {
		seen = req
		return `{"is_emergency": true}`, nil
	})
	var out struct {
		IsEmergency bool `json:"is_emergency"`
	}
	if err := CompleteJSON(context.Background(), c, Request{Task: TaskClassification}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !seen.JSON {
		t.Fatalf("expected JSON mode to be forced")
	}
	if !out.IsEmergency {
		t.Fatalf("expected decoded flag")
	}
}

func TestCompleteJSONNilClient(t *testing.T) {
	var out map[string]any
	if err := CompleteJSON(context.Background(), nil, Request{}, &out); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNewOpenAIClientRouting(t *testing.T) {
	cfg := config.LLMConfig{
		Providers: map[string]config.LLMProvider{
			"groq": {Type: "openai", APIKey: "k", BaseURL: "http://localhost:1/v1", Models: map[string]config.LLMModel{
				"fast":  {APIName: "llama-3.1-8b-instant"},
				"smart": {APIName: "llama-3.3-70b-versatile", MaxTokens: 900},
			}},
		},
		Routing: config.LLMRoutingConfig{Generation: "groq/smart", Fallback: "fast"},
	}
	c, err := NewOpenAIClient(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gen, err := c.routeFor(TaskGeneration)
	if err != nil || gen.model != "llama-3.3-70b-versatile" || gen.maxTokens != 900 {
		t.Fatalf("unexpected generation route: %+v (%v)", gen, err)
	}
	ext, err := c.routeFor(TaskExtraction)
	if err != nil || ext.model != "llama-3.1-8b-instant" {
		t.Fatalf("expected extraction to use fallback, got %+v (%v)", ext, err)
	}
	if c.HasEmbedder() {
		t.Fatalf("expected no embedder")
	}
	if _, err := c.Embed(context.Background(), []string{"x"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured from Embed, got %v", err)
	}
}

func TestNewOpenAIClientRejectsBadRoutes(t *testing.T) {
	base := config.LLMProvider{APIKey: "k", Models: map[string]config.LLMModel{"fast": {}}}
	cases := []config.LLMConfig{
		{},
		{Providers: map[string]config.LLMProvider{"p": {Models: base.Models}}},
		{Providers: map[string]config.LLMProvider{"p": base}, Routing: config.LLMRoutingConfig{Generation: "q/fast"}},
		{Providers: map[string]config.LLMProvider{"p": base}, Routing: config.LLMRoutingConfig{Generation: "p/slow"}},
		{Providers: map[string]config.LLMProvider{"p": {APIKey: "k", Type: "anthropic", Models: base.Models}}},
	}
	for i, cfg := range cases {
		if _, err := NewOpenAIClient(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
