package resampling

import (
	"fmt"
	"time"

	"github.com/go-microgrid/go-microgrid"
)

// A ComponentMetricRequest subscribes a consumer to the resampled stream of
// one metric of one component. Identical requests address the same stream;
// requests differing in any field address distinct streams.
type ComponentMetricRequest struct {
	// Namespace separates consumers that want independent streams of the same
	// metric (e.g. different formula engines).
	Namespace   string
	ComponentID microgrid.ComponentID
	MetricID    microgrid.MetricID
	// Start optionally pins the point in time the stream starts from.
	Start *time.Time
}

// ChannelName returns the registry key of the resampled output channel for
// this request: "{namespace}:{component_id}:{metric_id}", with the start time
// appended as a unix timestamp when set. The exact format is a stable
// contract that consumers and mock fixtures depend on.
func (r ComponentMetricRequest) ChannelName() string {
	name := fmt.Sprintf("%s:%d:%s", r.Namespace, r.ComponentID, r.MetricID)
	if r.Start != nil {
		name = fmt.Sprintf("%s:%d", name, r.Start.Unix())
	}
	return name
}
