// Package llm is the single gateway to the classifier/generator service and
// the embedding model.
package llm

import (
	"context"
	"errors"
)

var (
	ErrNotConfigured = errors.New("llm: provider not configured")
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Task selects the routed model for a call.
type Task string

const (
	TaskClassification Task = "classification"
	TaskExtraction     Task = "extraction"
	TaskAnalysis       Task = "analysis"
	TaskGeneration     Task = "generation"
	TaskTranslation    Task = "translation"
	TaskSummary        Task = "summary"
)

// Message is one chat turn. Role is system, user or assistant.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	Task        Task
	System      string
	Messages    []Message
	JSON        bool // force a JSON object response
	Temperature float32
	MaxTokens   int
}

// Client completes chat requests.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Embedder turns texts into vectors, one per input and in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CompleteJSON runs req in JSON mode and decodes the reply into out.
func CompleteJSON(ctx context.Context, c Client, req Request, out any) error {
	if c == nil {
		return ErrNotConfigured
	}
	req.JSON = true
	raw, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	return DecodeJSON(raw, out)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (string, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}
