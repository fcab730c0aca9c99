package microgrid

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/go-microgrid/go-microgrid")

var (
	// refreshDuration measures the duration of a single graph refresh,
	// including input validation, the corrector invocation (if any) and the
	// atomic swap.
	refreshDuration metric.Float64Histogram
	// refreshFailures measures the number of graph refreshes rejected by
	// validation.
	refreshFailures metric.Int64Counter
)

func init() {
	var err error
	refreshDuration, err = meter.Float64Histogram(
		"componentGraph.refresh.duration",
		metric.WithDescription("The duration of a single component graph refresh, including validation and the atomic swap."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("microgrid: failed to init 'componentGraph.refresh.duration' instrument")
	}

	refreshFailures, err = meter.Int64Counter(
		"componentGraph.refresh.failures",
		metric.WithDescription("The number of component graph refreshes rejected by validation."),
	)
	if err != nil {
		panic("microgrid: failed to init 'componentGraph.refresh.failures' instrument")
	}
}

// measureRefresh records one graph refresh. If the refresh succeeded, we
// record its duration. If it failed, we increment the failure counter.
//
// We use floating-point division here for higher precision (instead of the
// Millisecond method).
func measureRefresh(succeeded bool, d time.Duration) {
	ctx := context.Background()
	if succeeded {
		refreshDuration.Record(ctx, float64(d)/float64(time.Millisecond))
	} else {
		refreshFailures.Add(ctx, 1)
	}
}
