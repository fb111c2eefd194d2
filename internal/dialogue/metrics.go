package dialogue

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	dialogueMetricsOnce sync.Once
	turnsTotal          otelmetric.Int64Counter
	emergenciesTotal    otelmetric.Int64Counter
	fallbacksTotal      otelmetric.Int64Counter
	stageDuration       otelmetric.Float64Histogram
)

func initDialogueMetrics() {
	meter := otel.Meter("medtriage/dialogue")
	var err error
	turnsTotal, err = meter.Int64Counter(
		"triage_turns_total",
		otelmetric.WithDescription("Dialogue turns by terminal state"),
	)
	if err != nil {
		log.Printf("dialogue metrics init: triage_turns_total: %v", err)
	}
	emergenciesTotal, err = meter.Int64Counter(
		"triage_emergencies_total",
		otelmetric.WithDescription("Emergency interceptions by detection source"),
	)
	if err != nil {
		log.Printf("dialogue metrics init: triage_emergencies_total: %v", err)
	}
	fallbacksTotal, err = meter.Int64Counter(
		"triage_fallbacks_total",
		otelmetric.WithDescription("Degraded fallbacks by component"),
	)
	if err != nil {
		log.Printf("dialogue metrics init: triage_fallbacks_total: %v", err)
	}
	stageDuration, err = meter.Float64Histogram(
		"triage_stage_duration_seconds",
		otelmetric.WithDescription("Latency of each dialogue stage"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		log.Printf("dialogue metrics init: triage_stage_duration_seconds: %v", err)
	}
}

func recordTurn(ctx context.Context, state string) {
	dialogueMetricsOnce.Do(initDialogueMetrics)
	if turnsTotal != nil {
		turnsTotal.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("state", state)))
	}
}

func recordEmergency(ctx context.Context, source string) {
	dialogueMetricsOnce.Do(initDialogueMetrics)
	if emergenciesTotal != nil {
		emergenciesTotal.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("source", source)))
	}
}

func recordFallback(ctx context.Context, component string) {
	dialogueMetricsOnce.Do(initDialogueMetrics)
	if fallbacksTotal != nil {
		fallbacksTotal.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("component", component)))
	}
}

func observeStage(ctx context.Context, stage string, start time.Time) {
	dialogueMetricsOnce.Do(initDialogueMetrics)
	if stageDuration != nil {
		stageDuration.Record(ctx, time.Since(start).Seconds(), otelmetric.WithAttributes(attribute.String("stage", stage)))
	}
}
