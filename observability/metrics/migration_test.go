package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMigrationMetricsRecordOutcomes(t *testing.T) {
	m := Migration()
	before := testutil.ToFloat64(m.migrations.WithLabelValues("executed"))
	m.ObserveMigration("executed", 150*time.Millisecond)
	if got := testutil.ToFloat64(m.migrations.WithLabelValues("executed")); got != before+1 {
		t.Fatalf("expected executed counter to increase by one, got %v -> %v", before, got)
	}

	reverted := testutil.ToFloat64(m.migrations.WithLabelValues("reverted"))
	m.ObserveReverted()
	if got := testutil.ToFloat64(m.migrations.WithLabelValues("reverted")); got != reverted+1 {
		t.Fatalf("expected reverted counter to increase by one, got %v -> %v", reverted, got)
	}

	m.SetFeeRate(50)
	if got := testutil.ToFloat64(m.feeRate); got != 50 {
		t.Fatalf("expected fee rate gauge 50, got %v", got)
	}

	feeBefore := testutil.ToFloat64(m.fees.WithLabelValues("0xabc"))
	m.ObserveFee("0xabc", 0)
	m.ObserveFee("0xabc", 25)
	if got := testutil.ToFloat64(m.fees.WithLabelValues("0xabc")); got != feeBefore+25 {
		t.Fatalf("expected fee counter to grow by 25, got %v", got-feeBefore)
	}

	var nilMetrics *MigrationMetrics
	nilMetrics.ObserveMigration("failed", time.Second)
	nilMetrics.ObserveReverted()
}
