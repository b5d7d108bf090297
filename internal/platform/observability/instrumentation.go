package observability

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// StartSpan records a lightweight span lifecycle around an operation.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return ctx, func(error) {}
	}

	start := time.Now()
	logger.LogAttrs(ctx, slog.LevelDebug, "obs span start",
		slog.String("component", component),
		slog.String("operation", operation),
	)

	return ctx, func(err error) {
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}

		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}

		logger.LogAttrs(ctx, level, "obs span end", attrs...)
	}
}

// MetricSummary aggregates every datapoint recorded under one metric name.
type MetricSummary struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Last  float64 `json:"last"`
}

var (
	countersMu sync.Mutex
	counters   = map[string]*MetricSummary{}
)

func resetCounters() {
	countersMu.Lock()
	counters = map[string]*MetricSummary{}
	countersMu.Unlock()
}

// RecordMetric aggregates a datapoint in memory and, when enabled, logs it.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	countersMu.Lock()
	summary, ok := counters[name]
	if !ok {
		summary = &MetricSummary{}
		counters[name] = summary
	}
	summary.Count++
	summary.Sum += value
	summary.Last = value
	countersMu.Unlock()

	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, labels[k]))
	}

	logger.LogAttrs(ctx, slog.LevelDebug, "obs metric", attrs...)
}

// Snapshot returns a copy of the aggregated metrics.
func Snapshot() map[string]MetricSummary {
	countersMu.Lock()
	defer countersMu.Unlock()

	out := make(map[string]MetricSummary, len(counters))
	for name, summary := range counters {
		out[name] = *summary
	}
	return out
}
