package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// poolGauges lists the pool health figures the sync daemon dashboards. The
// long-running sync loop saturates the pool before anything else does, so
// idle and acquired counts are the figures worth watching.
var poolGauges = []struct {
	name        string
	description string
	read        func(*pgxpool.Stat) int64
}{
	{
		name:        "ledgersync_db_pool_connections_total",
		description: "Total pool connections (idle + acquired + constructing)",
		read:        func(s *pgxpool.Stat) int64 { return int64(s.TotalConns()) },
	},
	{
		name:        "ledgersync_db_pool_connections_idle",
		description: "Idle connections ready for checkout",
		read:        func(s *pgxpool.Stat) int64 { return int64(s.IdleConns()) },
	},
	{
		name:        "ledgersync_db_pool_connections_acquired",
		description: "Connections held by in-flight sync and enrichment work",
		read:        func(s *pgxpool.Stat) int64 { return int64(s.AcquiredConns()) },
	},
}

// ObservePoolMetrics registers observable gauges reporting pgx pool health.
func ObservePoolMetrics(pool *pgxpool.Pool, poolName string) {
	if pool == nil {
		return
	}
	normalized := strings.TrimSpace(poolName)
	if normalized == "" {
		normalized = "primary"
	}
	attrs := metric.WithAttributes(attribute.String("db_pool", normalized))

	meter := otel.Meter("postgres.pool")
	for _, gauge := range poolGauges {
		read := gauge.read
		_, _ = meter.Int64ObservableGauge(gauge.name,
			metric.WithDescription(gauge.description),
			metric.WithUnit("{connection}"),
			metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
				stat := pool.Stat()
				observer.Observe(read(stat), attrs)
				return nil
			}),
		)
	}
}
