package resampling

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/go-microgrid/go-microgrid/resampling")

var (
	// resampledSamples measures the number of samples emitted on resampled
	// output channels, labeled by whether the window was empty (gap) or not.
	resampledSamples metric.Int64Counter
	// duplicateSubscriptions measures the number of subscription requests
	// ignored because a forwarding task already existed.
	duplicateSubscriptions metric.Int64Counter
)

func init() {
	var err error
	resampledSamples, err = meter.Int64Counter(
		"resampling.samples",
		metric.WithDescription("The number of samples emitted on resampled output channels."),
	)
	if err != nil {
		panic("resampling: failed to init 'resampling.samples' instrument")
	}

	duplicateSubscriptions, err = meter.Int64Counter(
		"resampling.subscriptions.duplicates",
		metric.WithDescription("The number of subscription requests ignored as duplicates."),
	)
	if err != nil {
		panic("resampling: failed to init 'resampling.subscriptions.duplicates' instrument")
	}
}

// measureResampledSample records one emitted sample, labeled with whether it
// marks a gap.
func measureResampledSample(gap bool) {
	attrs := attribute.NewSet(attribute.Bool("gap", gap))
	resampledSamples.Add(context.Background(), 1, metric.WithAttributeSet(attrs))
}

// measureDuplicateSubscription records one ignored duplicate subscription.
func measureDuplicateSubscription() {
	duplicateSubscriptions.Add(context.Background(), 1)
}
