package ingest

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/ledgersync/internal/ledger"
)

type syncMetrics struct {
	recordsSynced  metric.Int64Counter
	recordsSkipped metric.Int64Counter
	pagesFetched   metric.Int64Counter
	syncDuration   metric.Float64Histogram
	enrichOutcomes metric.Int64Counter
}

func newSyncMetrics() *syncMetrics {
	m := new(syncMetrics)
	meter := otel.Meter("ingest")
	m.recordsSynced, _ = meter.Int64Counter("ingest.records.synced",
		metric.WithDescription("Number of external records upserted into the ledger"),
		metric.WithUnit("{record}"))
	m.recordsSkipped, _ = meter.Int64Counter("ingest.records.skipped",
		metric.WithDescription("Number of external records dropped by validation or decode failures"),
		metric.WithUnit("{record}"))
	m.pagesFetched, _ = meter.Int64Counter("ingest.endpoint.fetches",
		metric.WithDescription("Number of endpoint fetch runs against venues"),
		metric.WithUnit("{fetch}"))
	m.syncDuration, _ = meter.Float64Histogram("ingest.sync.duration",
		metric.WithDescription("Wall time of one user/exchange sync run"),
		metric.WithUnit("ms"))
	m.enrichOutcomes, _ = meter.Int64Counter("ingest.enrichment.outcomes",
		metric.WithDescription("Terminal enrichment attempts by outcome"),
		metric.WithUnit("{task}"))
	return m
}

func exchangeAttr(exchange ledger.Exchange) attribute.KeyValue {
	return attribute.String("exchange", string(exchange))
}

func (m *syncMetrics) recordSynced(ctx context.Context, exchange ledger.Exchange, endpoint string) {
	if m == nil || m.recordsSynced == nil {
		return
	}
	m.recordsSynced.Add(ctx, 1, metric.WithAttributes(
		exchangeAttr(exchange), attribute.String("endpoint", endpoint)))
}

func (m *syncMetrics) recordSkipped(ctx context.Context, exchange ledger.Exchange, endpoint string) {
	if m == nil || m.recordsSkipped == nil {
		return
	}
	m.recordsSkipped.Add(ctx, 1, metric.WithAttributes(
		exchangeAttr(exchange), attribute.String("endpoint", endpoint)))
}

func (m *syncMetrics) pageFetched(ctx context.Context, exchange ledger.Exchange, endpoint string) {
	if m == nil || m.pagesFetched == nil {
		return
	}
	m.pagesFetched.Add(ctx, 1, metric.WithAttributes(
		exchangeAttr(exchange), attribute.String("endpoint", endpoint)))
}

func (m *syncMetrics) syncDone(ctx context.Context, exchange ledger.Exchange, millis float64) {
	if m == nil || m.syncDuration == nil {
		return
	}
	m.syncDuration.Record(ctx, millis, metric.WithAttributes(exchangeAttr(exchange)))
}

func (m *syncMetrics) enrichOutcome(ctx context.Context, exchange ledger.Exchange, outcome string) {
	if m == nil || m.enrichOutcomes == nil {
		return
	}
	m.enrichOutcomes.Add(ctx, 1, metric.WithAttributes(
		exchangeAttr(exchange), attribute.String("outcome", outcome)))
}
