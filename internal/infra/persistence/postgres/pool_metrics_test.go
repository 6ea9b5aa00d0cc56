package postgres

import "testing"

func TestObservePoolMetricsNilPoolIsNoop(t *testing.T) {
	// Registration against a nil pool must not panic or install callbacks.
	ObservePoolMetrics(nil, "ledger")
	ObservePoolMetrics(nil, "")
}
