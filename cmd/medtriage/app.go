package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/medtriage/config"
	"github.com/mohammad-safakhou/medtriage/internal/alerts"
	"github.com/mohammad-safakhou/medtriage/internal/dialogue"
	"github.com/mohammad-safakhou/medtriage/internal/extract"
	"github.com/mohammad-safakhou/medtriage/internal/gaps"
	"github.com/mohammad-safakhou/medtriage/internal/ingest"
	"github.com/mohammad-safakhou/medtriage/internal/llm"
	"github.com/mohammad-safakhou/medtriage/internal/patient"
	"github.com/mohammad-safakhou/medtriage/internal/retrieval"
	"github.com/mohammad-safakhou/medtriage/internal/runtime"
	"github.com/mohammad-safakhou/medtriage/internal/server"
	"github.com/mohammad-safakhou/medtriage/internal/store"
	"github.com/mohammad-safakhou/medtriage/internal/summary"
	"github.com/mohammad-safakhou/medtriage/internal/triage"
)

// app is the wired object graph shared by serve and chat.
type app struct {
	cfg         *config.Config
	llm         *llm.OpenAIClient
	index       retrieval.Index
	writer      retrieval.Writer
	store       *store.Store
	redis       *redis.Client
	pruner      *patient.Pruner
	interceptor *triage.Interceptor
	orch        *dialogue.Orchestrator
	logger      *log.Logger
}

func newLogger(prefix string) *log.Logger {
	return log.New(log.Writer(), "["+prefix+"] ", log.LstdFlags)
}

// openIndex builds the passage index for the configured backend. The
// postgres backend also opens the store.
func openIndex(ctx context.Context, cfg *config.Config, client *llm.OpenAIClient, logger *log.Logger) (retrieval.Index, retrieval.Writer, *store.Store, error) {
	var embedder llm.Embedder = retrieval.HashEmbedder{Dims: cfg.Retrieval.EmbeddingDimensions}
	if client != nil && client.HasEmbedder() {
		embedder = client
	} else {
		logger.Printf("warn: no embedding model routed, using lexical hash embeddings")
	}

	switch cfg.Retrieval.Backend {
	case "postgres":
		dsn, err := runtime.BuildPostgresDSN(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		st, err := store.NewWithDSN(ctx, dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres: %w", err)
		}
		idx := retrieval.NewVectorIndex(st, embedder)
		return idx, idx, st, nil
	default:
		idx, err := retrieval.NewMemIndex(embedder)
		if err != nil {
			return nil, nil, nil, err
		}
		return idx, idx, nil, nil
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: newLogger("MAIN")}

	client, err := llm.NewOpenAIClient(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	a.llm = client

	a.index, a.writer, a.store, err = openIndex(ctx, cfg, client, a.logger)
	if err != nil {
		return nil, err
	}
	if a.store == nil && cfg.Storage.Postgres.Enabled() {
		if dsn, err := runtime.BuildPostgresDSN(cfg); err == nil {
			if st, err := store.NewWithDSN(ctx, dsn); err == nil {
				a.store = st
			} else {
				a.logger.Printf("warn: case archive disabled: %v", err)
			}
		}
	}
	if cfg.Retrieval.Backend == "memory" && cfg.Retrieval.SeedFile != "" {
		if err := a.seed(ctx); err != nil {
			a.logger.Printf("warn: guideline seed skipped: %v", err)
		}
	}

	if cfg.Sessions.Backend == "redis" || cfg.Triage.PublishAlerts {
		a.redis, err = runtime.NewRedisClient(ctx, cfg.Storage.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	var sessions patient.Store
	if cfg.Sessions.Backend == "redis" {
		sessions = patient.NewRedisStore(a.redis, patient.RedisOptions{
			KeyPrefix:  cfg.Sessions.KeyPrefix,
			TTL:        cfg.Sessions.TTL,
			MaxRetries: cfg.Sessions.MaxRetries,
		})
	} else {
		mem := patient.NewMemoryStore(nil)
		a.pruner, err = patient.NewPruner(mem, cfg.Sessions.PruneCron, cfg.Sessions.TTL, newLogger("STORE"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.pruner.Start()
		sessions = mem
	}

	rules, err := triage.LoadRules(cfg.Triage.RulesFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.interceptor, err = triage.NewInterceptor(rules, client, newLogger("TRIAGE"),
		triage.WithCorrelationTop(cfg.Triage.CorrelationTop),
		triage.WithGuidelineSummary(a.index, cfg.Retrieval.ReferenceCollection, cfg.Retrieval.GuidelineTopK),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := dialogue.Deps{
		Sessions:  sessions,
		Turns:     patient.NewTurnQueue(),
		Triage:    a.interceptor,
		Extractor: extract.New(client, nil),
		Retriever: retrieval.NewTwoHop(a.index, retrieval.Options{
			ReferenceCollection: cfg.Retrieval.ReferenceCollection,
			GoldenCollection:    cfg.Retrieval.GoldenCollection,
			DiagnosticTopK:      cfg.Retrieval.DiagnosticTopK,
			GuidelineTopK:       cfg.Retrieval.GuidelineTopK,
			GoldenThreshold:     cfg.Retrieval.GoldenThreshold,
			HopTimeout:          cfg.Dialogue.HopTimeout,
		}, nil),
		Gaps:       gaps.NewAnalyzer(client, nil),
		Summarizer: summary.New(client, nil),
		LLM:        client,
	}
	if cfg.Triage.PublishAlerts {
		pub, err := alerts.NewPublisher(a.redis, cfg.Triage.AlertStream, cfg.Triage.AlertMaxLen, nil)
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Alerts = pub
	}
	if a.store != nil {
		deps.Archive = a.store
	}

	a.orch, err = dialogue.NewOrchestrator(deps, dialogue.Options{
		HistoryWindow:     cfg.Dialogue.HistoryWindow,
		NudgeTurn:         cfg.Dialogue.NudgeTurn,
		CallTimeout:       cfg.Dialogue.CallTimeout,
		CanonicalLanguage: cfg.General.CanonicalLanguage,
	}, nil)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) seed(ctx context.Context) error {
	if _, err := os.Stat(a.cfg.Retrieval.SeedFile); err != nil {
		return err
	}
	loader, err := ingest.NewLoader(a.writer, nil, ingest.Options{
		ReferenceCollection: a.cfg.Retrieval.ReferenceCollection,
		GoldenCollection:    a.cfg.Retrieval.GoldenCollection,
	}, nil)
	if err != nil {
		return err
	}
	_, err = loader.LoadFile(ctx, a.cfg.Retrieval.SeedFile)
	return err
}

// handler exposes the app to the HTTP layer.
func (a *app) handler() *server.Handler {
	h := &server.Handler{Conv: a.orch, Triage: a.interceptor, Logger: newLogger("HTTP")}
	if a.store != nil {
		h.Records = a.store
	}
	return h
}

func (a *app) healthChecks() map[string]server.HealthCheck {
	checks := map[string]server.HealthCheck{}
	if a.store != nil {
		checks["postgres"] = a.store.Ping
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return checks
}

func (a *app) Close() {
	if a.pruner != nil {
		a.pruner.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Printf("warn: close store: %v", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
