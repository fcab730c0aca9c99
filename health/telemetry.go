package health

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/go-microgrid/go-microgrid"
)

var tracer = otel.Tracer("github.com/go-microgrid/go-microgrid/health")
var meter = otel.Meter("github.com/go-microgrid/go-microgrid/health")

const (
	// componentIDAttr associates each record with the component the tracker
	// is about, enabling both collective analysis across all trackers and
	// individual analysis per component.
	componentIDAttr = "component.id"
	// statusAttr carries the status a transition ended in.
	statusAttr = "status"
)

var (
	// statusTransitions measures the number of effective health status
	// transitions, i.e. emissions where the status actually changed.
	statusTransitions metric.Int64Counter
	// publishFailures measures the number of pool status messages that could
	// not be published to the message service.
	publishFailures metric.Int64Counter
)

func init() {
	var err error
	statusTransitions, err = meter.Int64Counter(
		"componentStatus.transitions",
		metric.WithDescription("The number of effective health status transitions per component."),
	)
	if err != nil {
		panic("health: failed to init 'componentStatus.transitions' instrument")
	}

	publishFailures, err = meter.Int64Counter(
		"poolStatus.publish.failures",
		metric.WithDescription("The number of pool status messages that failed to publish."),
	)
	if err != nil {
		panic("health: failed to init 'poolStatus.publish.failures' instrument")
	}
}

// measureStatusTransition records one effective status transition, labeled
// with the component and the status it ended in.
func measureStatusTransition(id microgrid.ComponentID, status Status) {
	attrs := attribute.NewSet(
		attribute.Int64(componentIDAttr, int64(id)),
		attribute.String(statusAttr, status.String()),
	)
	statusTransitions.Add(context.Background(), 1, metric.WithAttributeSet(attrs))
}

// measurePublishFailure records one failed pool status publish, labeled with
// the pool name.
func measurePublishFailure(ctx context.Context, poolName string) {
	attrs := attribute.NewSet(attribute.String("pool", poolName))
	publishFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
}
