package resampling

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/danielorbach/go-component"

	"github.com/go-microgrid/go-microgrid/channels"
)

// A DataSourcing actor maps metric requests to upstream telemetry channels:
// for each requested (component, metric) pair it ensures a raw telemetry
// channel exists in the registry and is being filled from the transport. It
// sits between the resampling dispatcher (which forwards every new
// subscription upstream) and the TelemetrySource (which drains the physical
// transport).
type DataSourcing struct {
	requests *channels.Receiver[ComponentMetricRequest]
	source   *TelemetrySource

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewDataSourcing returns a data sourcing actor; it is inert until Exec runs.
func NewDataSourcing(requests *channels.Receiver[ComponentMetricRequest], source *TelemetrySource) (*DataSourcing, error) {
	if requests == nil || source == nil {
		return nil, errors.New("resampling: data sourcing requires a request receiver and a telemetry source")
	}
	return &DataSourcing{
		requests: requests,
		source:   source,
		stopped:  make(chan struct{}),
	}, nil
}

// Exec runs the request loop. Requests for pairs that are already active are
// no-ops; requests the source cannot serve are logged and dropped.
func (a *DataSourcing) Exec(l *component.L) {
	logger := component.Logger(l.Context())
	for l.Continue() {
		select {
		case <-l.GraceContext().Done():
			return
		case <-a.stopped:
			return
		case request, ok := <-a.requests.C():
			if !ok {
				return
			}
			if err := a.source.Activate(request.ComponentID, request.MetricID); err != nil {
				logger.Error("Couldn't activate telemetry route",
					slog.Uint64("component-id", uint64(request.ComponentID)),
					slog.String("metric", request.MetricID.String()),
					slog.Any("error", err),
				)
			}
		}
	}
}

// Stop terminates the request loop. It is idempotent.
func (a *DataSourcing) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopped)
	})
}
