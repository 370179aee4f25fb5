package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	TokensUsed          metric.Int64Counter
	IngestDuration      metric.Float64Histogram
	FragmentsIndexed    metric.Int64Counter
	UnitFailures        metric.Int64Counter
	QueryDuration       metric.Float64Histogram
	QueryCacheHits      metric.Int64Counter
	RoutingDecisions    metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("infra-rag-platform")
	m := &Metrics{}
	var err error

	if m.RequestCounter, err = meter.Int64Counter("http.requests.total",
		metric.WithDescription("Total HTTP requests")); err != nil {
		return nil, err
	}
	if m.RequestDuration, err = meter.Float64Histogram("http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.TokensUsed, err = meter.Int64Counter("generator.tokens.used",
		metric.WithDescription("Total generator tokens used")); err != nil {
		return nil, err
	}
	if m.IngestDuration, err = meter.Float64Histogram("ingest.duration",
		metric.WithDescription("Document ingestion duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.FragmentsIndexed, err = meter.Int64Counter("index.fragments.total",
		metric.WithDescription("Child fragments written, by content kind")); err != nil {
		return nil, err
	}
	if m.UnitFailures, err = meter.Int64Counter("ingest.unit_failures.total",
		metric.WithDescription("Parent units skipped after a processing failure")); err != nil {
		return nil, err
	}
	if m.QueryDuration, err = meter.Float64Histogram("query.duration",
		metric.WithDescription("Query answer duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.QueryCacheHits, err = meter.Int64Counter("query.cache.hits",
		metric.WithDescription("Answers served from the query cache")); err != nil {
		return nil, err
	}
	if m.RoutingDecisions, err = meter.Int64Counter("routing.decisions.total",
		metric.WithDescription("Role routing decisions")); err != nil {
		return nil, err
	}
	if m.CircuitBreakerState, err = meter.Int64Counter("circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	)
	m.RequestCounter.Add(context.Background(), 1, attrs)
	m.RequestDuration.Record(context.Background(), duration, attrs)
}

// RecordTokensUsed records generator token usage
func (m *Metrics) RecordTokensUsed(tokens int64, model string) {
	if m == nil {
		return
	}
	m.TokensUsed.Add(context.Background(), tokens, metric.WithAttributes(attribute.String("generator.model", model)))
}

// RecordIngestion records one document ingestion
func (m *Metrics) RecordIngestion(duration float64, status string) {
	if m == nil {
		return
	}
	m.IngestDuration.Record(context.Background(), duration, metric.WithAttributes(attribute.String("ingest.status", status)))
}

func (m *Metrics) RecordFragments(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.FragmentsIndexed.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("content.kind", kind)))
}

func (m *Metrics) RecordUnitFailure(kind string) {
	if m == nil {
		return
	}
	m.UnitFailures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("content.kind", kind)))
}

// RecordQuery records one answered query
func (m *Metrics) RecordQuery(duration float64, cached bool, results int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("query.cached", cached), attribute.Bool("query.empty", results == 0))
	m.QueryDuration.Record(context.Background(), duration, attrs)
	if cached {
		m.QueryCacheHits.Add(context.Background(), 1)
	}
}

// RecordRouting records a routing decision
func (m *Metrics) RecordRouting(fallbackUsed bool, assignments int) {
	if m == nil {
		return
	}
	m.RoutingDecisions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Bool("routing.fallback_used", fallbackUsed),
		attribute.Int("routing.assignments", assignments),
	))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("state", state),
	))
}
