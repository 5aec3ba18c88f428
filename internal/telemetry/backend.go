package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/watercooler/internal/memory"
	"github.com/steveyegge/watercooler/internal/types"
)

const backendScopeName = "github.com/steveyegge/watercooler/internal/memory"

// InstrumentedBackend wraps memory.Backend with OTel tracing and metrics.
// Every operation gets a span and is counted in wc.backend.* metrics.
// Use WrapBackend to create one; it returns the original backend unchanged
// when telemetry is disabled.
type InstrumentedBackend struct {
	inner  memory.Backend
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
	items  metric.Int64Counter
}

// WrapBackend returns b decorated with OTel instrumentation.
// When telemetry is disabled, b is returned as-is with zero overhead.
func WrapBackend(b memory.Backend) memory.Backend {
	if !Enabled() {
		return b
	}
	m := Meter(backendScopeName)
	ops, _ := m.Int64Counter("wc.backend.operations",
		metric.WithDescription("Total backend operations executed"),
	)
	dur, _ := m.Float64Histogram("wc.backend.operation.duration",
		metric.WithDescription("Backend operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("wc.backend.errors",
		metric.WithDescription("Total backend operation errors"),
	)
	items, _ := m.Int64Counter("wc.backend.items",
		metric.WithDescription("Items prepared or indexed by the backend"),
	)
	return &InstrumentedBackend{
		inner:  b,
		tracer: Tracer(backendScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
		items:  items,
	}
}

// op starts a span and records a metric for the named backend operation.
func (b *InstrumentedBackend) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{
		attribute.String("wc.backend", b.inner.Name()),
		attribute.String("wc.operation", name),
	}, attrs...)
	ctx, span := b.tracer.Start(ctx, "backend."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	b.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (b *InstrumentedBackend) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	b.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (b *InstrumentedBackend) Name() string { return b.inner.Name() }

func (b *InstrumentedBackend) Prepare(ctx context.Context, payload *types.CorpusPayload) (*types.PrepareResult, error) {
	attrs := []attribute.KeyValue{
		attribute.Int("wc.threads", len(payload.Threads)),
		attribute.Int("wc.entries", len(payload.Entries)),
	}
	ctx, span, t := b.op(ctx, "Prepare", attrs...)
	res, err := b.inner.Prepare(ctx, payload)
	b.done(ctx, span, t, err, attrs...)
	if res != nil {
		b.items.Add(ctx, int64(res.PreparedCount),
			metric.WithAttributes(attribute.String("wc.operation", "Prepare")))
	}
	return res, err
}

func (b *InstrumentedBackend) Index(ctx context.Context, payload *types.ChunkPayload) (*types.IndexResult, error) {
	attrs := []attribute.KeyValue{attribute.Int("wc.chunks", len(payload.Chunks))}
	ctx, span, t := b.op(ctx, "Index", attrs...)
	res, err := b.inner.Index(ctx, payload)
	b.done(ctx, span, t, err, attrs...)
	if res != nil {
		b.items.Add(ctx, int64(res.IndexedCount),
			metric.WithAttributes(attribute.String("wc.operation", "Index")))
	}
	return res, err
}

func (b *InstrumentedBackend) Query(ctx context.Context, payload *types.QueryPayload) (*types.QueryResult, error) {
	attrs := []attribute.KeyValue{attribute.Int("wc.queries", len(payload.Queries))}
	ctx, span, t := b.op(ctx, "Query", attrs...)
	res, err := b.inner.Query(ctx, payload)
	b.done(ctx, span, t, err, attrs...)
	return res, err
}

func (b *InstrumentedBackend) Healthcheck(ctx context.Context) types.HealthStatus {
	ctx, span, t := b.op(ctx, "Healthcheck")
	hs := b.inner.Healthcheck(ctx)
	if !hs.OK {
		span.SetStatus(codes.Error, hs.Details)
	}
	b.done(ctx, span, t, nil)
	return hs
}

func (b *InstrumentedBackend) Capabilities() types.Capabilities {
	return b.inner.Capabilities()
}

func (b *InstrumentedBackend) SearchNodes(ctx context.Context, query string, opts memory.SearchOptions) ([]types.CoreResult, error) {
	ctx, span, t := b.op(ctx, "SearchNodes")
	res, err := b.inner.SearchNodes(ctx, query, opts)
	b.done(ctx, span, t, err)
	return res, err
}

func (b *InstrumentedBackend) SearchFacts(ctx context.Context, query string, opts memory.SearchOptions) ([]types.CoreResult, error) {
	ctx, span, t := b.op(ctx, "SearchFacts")
	res, err := b.inner.SearchFacts(ctx, query, opts)
	b.done(ctx, span, t, err)
	return res, err
}

func (b *InstrumentedBackend) SearchEpisodes(ctx context.Context, query string, opts memory.SearchOptions) ([]types.CoreResult, error) {
	ctx, span, t := b.op(ctx, "SearchEpisodes")
	res, err := b.inner.SearchEpisodes(ctx, query, opts)
	b.done(ctx, span, t, err)
	return res, err
}

func (b *InstrumentedBackend) GetNode(ctx context.Context, nodeID, groupID string) (*types.CoreResult, error) {
	attrs := []attribute.KeyValue{attribute.String("wc.node_id", nodeID)}
	ctx, span, t := b.op(ctx, "GetNode", attrs...)
	res, err := b.inner.GetNode(ctx, nodeID, groupID)
	b.done(ctx, span, t, err, attrs...)
	return res, err
}

func (b *InstrumentedBackend) GetEdge(ctx context.Context, edgeID, groupID string) (*types.CoreResult, error) {
	attrs := []attribute.KeyValue{attribute.String("wc.edge_id", edgeID)}
	ctx, span, t := b.op(ctx, "GetEdge", attrs...)
	res, err := b.inner.GetEdge(ctx, edgeID, groupID)
	b.done(ctx, span, t, err, attrs...)
	return res, err
}
