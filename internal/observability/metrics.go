package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Read modes recorded by LoaderMetrics.
const (
	ReadModeBatched   = "batched"
	ReadModeUnbatched = "unbatched"
	ReadModeUncached  = "uncached"
)

// LoaderMetrics holds metrics for relation loading and the query endpoint.
type LoaderMetrics struct {
	readDuration    metric.Float64Histogram
	readCounter     metric.Int64Counter
	readErrors      metric.Int64Counter
	batchValues     metric.Int64Histogram
	batchResultRows metric.Int64Histogram
	dedupHits       metric.Int64Counter
	variationHits   metric.Int64Counter
	readsSaved      metric.Int64Counter
	flushCounter    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
}

// InitLoaderMetrics initializes loader metrics on the global meter provider.
func InitLoaderMetrics() (*LoaderMetrics, error) {
	meter := otel.Meter("relq")

	readDuration, err := meter.Float64Histogram(
		"loader.read.duration",
		metric.WithDescription("Duration of relation reads in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create read duration histogram: %w", err)
	}

	readCounter, err := meter.Int64Counter(
		"loader.reads",
		metric.WithDescription("Number of reads issued by the relation loader"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create read counter: %w", err)
	}

	readErrors, err := meter.Int64Counter(
		"loader.read_errors",
		metric.WithDescription("Number of failed relation reads"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create read error counter: %w", err)
	}

	batchValues, err := meter.Int64Histogram(
		"loader.batch.values",
		metric.WithDescription("Number of distinct key values included in a combined read"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch values histogram: %w", err)
	}

	batchResultRows, err := meter.Int64Histogram(
		"loader.batch.result_rows",
		metric.WithDescription("Number of rows returned by a combined read"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch result rows histogram: %w", err)
	}

	dedupHits, err := meter.Int64Counter(
		"loader.dedup_hits",
		metric.WithDescription("Number of registrations answered by an already pending value"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup hits counter: %w", err)
	}

	variationHits, err := meter.Int64Counter(
		"loader.where_variation_hits",
		metric.WithDescription("Number of unbatched requests answered by a memoized identical request"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create where variation hits counter: %w", err)
	}

	readsSaved, err := meter.Int64Counter(
		"loader.reads_saved",
		metric.WithDescription("Number of reads saved by batching"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reads saved counter: %w", err)
	}

	flushCounter, err := meter.Int64Counter(
		"loader.flushes",
		metric.WithDescription("Number of ResolveAll calls that issued at least one read"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flush counter: %w", err)
	}

	requestDuration, err := meter.Float64Histogram(
		"query.request.duration",
		metric.WithDescription("Duration of query requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"query.requests.total",
		metric.WithDescription("Total number of query requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	return &LoaderMetrics{
		readDuration:    readDuration,
		readCounter:     readCounter,
		readErrors:      readErrors,
		batchValues:     batchValues,
		batchResultRows: batchResultRows,
		dedupHits:       dedupHits,
		variationHits:   variationHits,
		readsSaved:      readsSaved,
		flushCounter:    flushCounter,
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
	}, nil
}

// RecordRead records one read issued by the loader. values is the number of
// distinct key values covered by the read (1 for unbatched reads).
func (m *LoaderMetrics) RecordRead(ctx context.Context, entity, mode string, values, rows int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("mode", mode),
	)
	m.readCounter.Add(ctx, 1, attrs)
	m.readDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.readErrors.Add(ctx, 1, attrs)
		return
	}
	if mode == ReadModeBatched {
		m.batchValues.Record(ctx, int64(values), attrs)
		m.batchResultRows.Record(ctx, int64(rows), attrs)
		if values > 1 {
			m.readsSaved.Add(ctx, int64(values-1), attrs)
		}
	}
}

func (m *LoaderMetrics) RecordDedupHit(ctx context.Context, entity string) {
	if m == nil {
		return
	}
	m.dedupHits.Add(ctx, 1, metric.WithAttributes(attribute.String("entity", entity)))
}

func (m *LoaderMetrics) RecordWhereVariationHit(ctx context.Context, entity string) {
	if m == nil {
		return
	}
	m.variationHits.Add(ctx, 1, metric.WithAttributes(attribute.String("entity", entity)))
}

func (m *LoaderMetrics) RecordFlush(ctx context.Context, reads int) {
	if m == nil || reads == 0 {
		return
	}
	m.flushCounter.Add(ctx, 1)
}

// RecordRequest records a query request with its duration and outcome.
func (m *LoaderMetrics) RecordRequest(ctx context.Context, duration time.Duration, entity string, hasErrors bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.Bool("has_errors", hasErrors),
	)
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.requestCounter.Add(ctx, 1, attrs)
}

// InitMetrics initializes all custom metrics and returns the LoaderMetrics instance
func InitMetrics(logger *slog.Logger) (*LoaderMetrics, error) {
	metrics, err := InitLoaderMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loader metrics: %w", err)
	}

	logger.Info("custom loader metrics initialized")
	return metrics, nil
}

type loaderMetricsContextKey struct{}

// ContextWithLoaderMetrics stores loader metrics in the provided context.
func ContextWithLoaderMetrics(ctx context.Context, metrics *LoaderMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loaderMetricsContextKey{}, metrics)
}

// LoaderMetricsFromContext retrieves loader metrics from the context.
func LoaderMetricsFromContext(ctx context.Context) *LoaderMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(loaderMetricsContextKey{}).(*LoaderMetrics)
	return metrics
}
