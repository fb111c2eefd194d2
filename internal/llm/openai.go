package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mohammad-safakhou/medtriage/config"
)

type route struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// OpenAIClient talks to any OpenAI-compatible endpoint (OpenAI, Groq) and
// routes each task to its configured model.
type OpenAIClient struct {
	routes   map[Task]route
	fallback *route
	embed    *route
}

// NewOpenAIClient builds one go-openai client per provider and resolves the
// routing table. A route naming an unknown provider or model is a
// configuration error.
func NewOpenAIClient(cfg config.LLMConfig) (*OpenAIClient, error) {
	if len(cfg.Providers) == 0 {
		return nil, ErrNotConfigured
	}
	clients := make(map[string]*openai.Client, len(cfg.Providers))
	for name, p := range cfg.Providers {
		if strings.TrimSpace(p.APIKey) == "" {
			return nil, fmt.Errorf("%w: provider %s has no api key", ErrNotConfigured, name)
		}
		switch p.Type {
		case "", "openai", "groq":
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
		}
		oc := openai.DefaultConfig(p.APIKey)
		if p.BaseURL != "" {
			oc.BaseURL = p.BaseURL
		}
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		oc.HTTPClient = &http.Client{Timeout: timeout}
		clients[name] = openai.NewClientWithConfig(oc)
	}

	resolve := func(ref string) (*route, error) {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return nil, nil
		}
		providerName, modelKey, found := strings.Cut(ref, "/")
		if !found {
			if len(cfg.Providers) != 1 {
				return nil, fmt.Errorf("llm route %q must name a provider", ref)
			}
			for name := range cfg.Providers {
				providerName = name
			}
			modelKey = ref
		}
		p, ok := cfg.Providers[providerName]
		if !ok {
			return nil, fmt.Errorf("llm route %q: unknown provider", ref)
		}
		m, ok := p.Models[modelKey]
		if !ok {
			return nil, fmt.Errorf("llm route %q: unknown model", ref)
		}
		apiName := m.APIName
		if apiName == "" {
			apiName = modelKey
		}
		return &route{
			client:      clients[providerName],
			model:       apiName,
			maxTokens:   m.MaxTokens,
			temperature: float32(m.Temperature),
		}, nil
	}

	c := &OpenAIClient{routes: make(map[Task]route)}
	var err error
	if c.fallback, err = resolve(cfg.Routing.Fallback); err != nil {
		return nil, err
	}
	if c.embed, err = resolve(cfg.Routing.Embedding); err != nil {
		return nil, err
	}
	byTask := map[Task]string{
		TaskClassification: cfg.Routing.Classification,
		TaskExtraction:     cfg.Routing.Extraction,
		TaskAnalysis:       cfg.Routing.Analysis,
		TaskGeneration:     cfg.Routing.Generation,
		TaskTranslation:    cfg.Routing.Translation,
		TaskSummary:        cfg.Routing.Summary,
	}
	for task, ref := range byTask {
		r, err := resolve(ref)
		if err != nil {
			return nil, err
		}
		if r != nil {
			c.routes[task] = *r
		}
	}
	return c, nil
}

func (c *OpenAIClient) routeFor(task Task) (route, error) {
	if r, ok := c.routes[task]; ok {
		return r, nil
	}
	if c.fallback != nil {
		return *c.fallback, nil
	}
	return route{}, fmt.Errorf("%w: no model routed for %s", ErrNotConfigured, task)
}

// Complete sends one chat completion. Request temperature and token limits
// override the model defaults when set.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	r, err := c.routeFor(req.Task)
	if err != nil {
		return "", err
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	creq := openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    msgs,
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	}
	if req.Temperature > 0 {
		creq.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		creq.MaxTokens = req.MaxTokens
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := r.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", req.Task, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed implements Embedder with the routed embedding model.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.embed == nil {
		return nil, fmt.Errorf("%w: no embedding model routed", ErrNotConfigured)
	}
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.embed.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embed.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: expected %d vectors, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// HasEmbedder reports whether an embedding model is routed.
func (c *OpenAIClient) HasEmbedder() bool { return c.embed != nil }
