package resampling

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
	"k8s.io/utils/clock"

	"github.com/go-microgrid/go-microgrid"
	"github.com/go-microgrid/go-microgrid/channels"
)

// A ResamplingFunction folds the samples that arrived during one resampling
// window into the single sample emitted at the tick closing the window. The
// window slice is in arrival order and may be empty.
//
// The production policy is a configuration choice; LastValue is the default.
type ResamplingFunction func(tick time.Time, window []Sample) Sample

// LastValue is the default resampling policy: last observation carried
// forward within the window, i.e. the most recent sample's value stamped with
// the tick time. An empty window produces a gap sample.
func LastValue(tick time.Time, window []Sample) Sample {
	if len(window) == 0 {
		return GapSample(tick)
	}
	return Sample{Timestamp: tick, Value: window[len(window)-1].Value}
}

// DispatcherConfig wires a Dispatcher to the registry and its request
// channels.
type DispatcherConfig struct {
	// Registry provides the raw input channels and the resampled output
	// channels.
	Registry *channels.Registry
	// Requests delivers the subscription requests.
	Requests *channels.Receiver[ComponentMetricRequest]
	// UpstreamRequests forwards each new subscription to the data sourcing
	// actor so the raw channel gets filled from the transport.
	UpstreamRequests *channels.Sender[ComponentMetricRequest]
	// Period is the fixed cadence of every resampled output stream.
	Period time.Duration
	// Resample is the window-folding policy; nil selects LastValue.
	Resample ResamplingFunction
	// Clock drives the resampling tickers. Nil selects the wall clock.
	Clock clock.WithTicker
}

// A Dispatcher accepts ComponentMetricRequest subscriptions and maintains one
// forwarding task per distinct request, copying samples from the raw
// telemetry channel onto the resampled output channel at the configured
// cadence. Duplicate subscription requests are idempotent: they produce no
// additional forwarding task.
type Dispatcher struct {
	registry *channels.Registry
	requests *channels.Receiver[ComponentMetricRequest]
	upstream *channels.Sender[ComponentMetricRequest]
	period   time.Duration
	resample ResamplingFunction
	clock    clock.WithTicker

	// active holds the channel names a forwarding task exists for. It is only
	// touched from the dispatcher's own task.
	active map[string]struct{}

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewDispatcher returns a dispatcher; it is inert until Exec runs.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil || cfg.Requests == nil {
		return nil, errors.New("resampling: dispatcher requires a registry and a request receiver")
	}
	if cfg.Period <= 0 {
		return nil, errors.New("resampling: dispatcher requires a positive period")
	}
	resample := cfg.Resample
	if resample == nil {
		resample = LastValue
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Dispatcher{
		registry: cfg.Registry,
		requests: cfg.Requests,
		upstream: cfg.UpstreamRequests,
		period:   cfg.Period,
		resample: resample,
		clock:    clk,
		active:   make(map[string]struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Exec runs the subscription loop.
func (d *Dispatcher) Exec(l *component.L) {
	logger := component.Logger(l.Context())
	for l.Continue() {
		select {
		case <-l.GraceContext().Done():
			return
		case <-d.stopped:
			return
		case request, ok := <-d.requests.C():
			if !ok {
				return
			}
			if proc, ok := d.register(logger, request); ok {
				l.Fork("resample "+request.ChannelName(), proc)
			}
		}
	}
}

// Stop terminates the subscription loop and every forwarding task. It is
// idempotent.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
	})
}

// register performs the bookkeeping of one subscription request: duplicate
// detection, the upstream forward, and the channel allocations. It returns
// the forwarding proc to spawn, or false for duplicates and failed requests.
func (d *Dispatcher) register(logger *slog.Logger, request ComponentMetricRequest) (component.Proc, bool) {
	name := request.ChannelName()
	if _, ok := d.active[name]; ok {
		measureDuplicateSubscription()
		logger.Debug("Ignoring duplicate subscription", slog.String("channel", name))
		return nil, false
	}

	if d.upstream != nil {
		if err := d.upstream.Send(request); err != nil {
			logger.Error("Couldn't forward subscription upstream",
				slog.String("channel", name), slog.Any("error", err))
			return nil, false
		}
	}

	raw, err := channels.ReceiverFor[Sample](d.registry, microgrid.RawMetricKey(request.ComponentID, request.MetricID))
	if err != nil {
		logger.Error("Couldn't subscribe to raw telemetry channel",
			slog.String("channel", name), slog.Any("error", err))
		return nil, false
	}
	out, err := channels.SenderFor[Sample](d.registry, name)
	if err != nil {
		logger.Error("Couldn't open resampled output channel",
			slog.String("channel", name), slog.Any("error", err))
		return nil, false
	}

	d.active[name] = struct{}{}
	return d.forward(raw, out), true
}

// forward returns the proc of one forwarding task: it buffers raw samples as
// they arrive and, at every tick, folds the window through the resampling
// function onto the output channel.
func (d *Dispatcher) forward(raw *channels.Receiver[Sample], out *channels.Sender[Sample]) component.Proc {
	return func(l *component.L) {
		logger := component.Logger(l.Context())
		ticker := d.clock.NewTicker(d.period)
		defer ticker.Stop()

		var window []Sample
		for l.Continue() {
			select {
			case <-l.GraceContext().Done():
				return
			case <-d.stopped:
				return
			case sample, ok := <-raw.C():
				if !ok {
					return
				}
				window = append(window, sample)
			case tick := <-ticker.C():
				sample := d.resample(tick, window)
				window = window[:0]
				measureResampledSample(sample.Value == nil)
				if err := out.Send(sample); err != nil {
					logger.Error("Couldn't forward resampled sample", slog.Any("error", err))
					return
				}
			}
		}
	}
}

// subscribed reports whether a forwarding task exists for the given channel
// name. It must only be called from the dispatcher's task; it exists for
// tests.
func (d *Dispatcher) subscribed(name string) bool {
	_, ok := d.active[name]
	return ok
}
