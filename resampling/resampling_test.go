package resampling

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/danielorbach/go-component"

	"github.com/go-microgrid/go-microgrid"
	"github.com/go-microgrid/go-microgrid/channels"
	"github.com/go-microgrid/go-microgrid/microgridtest"
)

// The channel name formats are a stable contract; consumers and mock
// fixtures depend on the exact strings.
func TestChannelNameContract(t *testing.T) {
	request := ComponentMetricRequest{
		Namespace:   "resampler",
		ComponentID: 8,
		MetricID:    microgrid.MetricActivePower,
	}
	if got, want := request.ChannelName(), "resampler:8:active_power"; got != want {
		t.Errorf("ChannelName() = %q, want %q", got, want)
	}

	start := time.Unix(1640995200, 0).UTC()
	request.Start = &start
	if got, want := request.ChannelName(), "resampler:8:active_power:1640995200"; got != want {
		t.Errorf("ChannelName() with start = %q, want %q", got, want)
	}

	if got, want := microgrid.RawMetricKey(8, microgrid.MetricSoC), "8:soc"; got != want {
		t.Errorf("RawMetricKey() = %q, want %q", got, want)
	}
}

func TestLastValue(t *testing.T) {
	tick := time.Unix(100, 0)

	window := []Sample{
		NewSample(time.Unix(98, 0), 1),
		NewSample(time.Unix(99, 0), 2),
	}
	got := LastValue(tick, window)
	if !got.Timestamp.Equal(tick) {
		t.Errorf("timestamp = %s, want the tick %s", got.Timestamp, tick)
	}
	if got.Value == nil || got.Value.Float() != 2 {
		t.Errorf("value = %v, want the last observation 2", got.Value)
	}

	// An empty window produces a known gap, not a carried-over value.
	gap := LastValue(tick, nil)
	if gap.Value != nil {
		t.Errorf("gap value = %v, want nil", gap.Value)
	}
	if !gap.Timestamp.Equal(tick) {
		t.Errorf("gap timestamp = %s, want %s", gap.Timestamp, tick)
	}
}

func newTestDispatcher(t *testing.T, registry *channels.Registry, upstream *channels.Sender[ComponentMetricRequest]) *Dispatcher {
	t.Helper()
	requestChannel := channels.NewBroadcast[ComponentMetricRequest]("resampling-requests")
	d, err := NewDispatcher(DispatcherConfig{
		Registry:         registry,
		Requests:         requestChannel.NewReceiver(0),
		UpstreamRequests: upstream,
		Period:           10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

// Duplicate subscription requests produce no additional forwarding task.
func TestDispatcherIgnoresDuplicateSubscriptions(t *testing.T) {
	registry := channels.NewRegistry("dispatcher-test", 0)
	upstreamChannel := channels.NewBroadcast[ComponentMetricRequest]("upstream-requests")
	upstreamRecv := upstreamChannel.NewReceiver(0)
	d := newTestDispatcher(t, registry, upstreamChannel.NewSender())

	request := ComponentMetricRequest{Namespace: "test", ComponentID: 9, MetricID: microgrid.MetricSoC}

	proc, started := d.register(slog.Default(), request)
	if !started || proc == nil {
		t.Fatal("first subscription did not start a forwarding task")
	}
	if !d.subscribed(request.ChannelName()) {
		t.Fatal("channel not recorded as subscribed")
	}

	if _, started := d.register(slog.Default(), request); started {
		t.Fatal("duplicate subscription started a second forwarding task")
	}

	// A request differing in any field is a distinct subscription.
	other := request
	other.Namespace = "other"
	if _, started := d.register(slog.Default(), other); !started {
		t.Fatal("distinct subscription was treated as a duplicate")
	}

	// Each distinct subscription was forwarded upstream exactly once.
	for _, want := range []ComponentMetricRequest{request, other} {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		got, err := upstreamRecv.Receive(ctx)
		cancel()
		if err != nil {
			t.Fatalf("upstream request missing: %v", err)
		}
		if got.ChannelName() != want.ChannelName() {
			t.Errorf("upstream request = %q, want %q", got.ChannelName(), want.ChannelName())
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if extra, err := upstreamRecv.Receive(ctx); err == nil {
		t.Errorf("unexpected extra upstream request %q", extra.ChannelName())
	}
}

// TestDispatcherForwardsResampledSamples drives a running dispatcher end to
// end: a subscription request allocates the output channel, and raw samples
// surface on it at the resampling cadence.
func TestDispatcherForwardsResampledSamples(t *testing.T) {
	registry := channels.NewRegistry("dispatcher-e2e", 0)
	requestChannel := channels.NewBroadcast[ComponentMetricRequest]("resampling-requests")
	d, err := NewDispatcher(DispatcherConfig{
		Registry: registry,
		Requests: requestChannel.NewReceiver(0),
		Period:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	request := ComponentMetricRequest{Namespace: "test", ComponentID: 9, MetricID: microgrid.MetricSoC}
	out, err := channels.ReceiverFor[Sample](registry, request.ChannelName())
	if err != nil {
		t.Fatalf("ReceiverFor: %v", err)
	}
	raw, err := channels.SenderFor[Sample](registry, microgrid.RawMetricKey(9, microgrid.MetricSoC))
	if err != nil {
		t.Fatalf("SenderFor: %v", err)
	}
	requestSender := requestChannel.NewSender()

	var (
		got     Sample
		recvErr error
	)
	component.RunProc(func(l *component.L) {
		l.Fork("resampling dispatcher", d)
		l.Go("drive", func(l *component.L) {
			defer d.Stop()
			if err := requestSender.Send(request); err != nil {
				recvErr = err
				return
			}
			ctx, cancel := context.WithTimeout(l.Context(), 5*time.Second)
			defer cancel()
			// Keep feeding the raw channel until a value (not a gap) comes
			// out: the first ticks may close empty windows while the
			// forwarding task spins up.
			ticker := time.NewTicker(5 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					recvErr = ctx.Err()
					return
				case <-ticker.C:
					if err := raw.Send(NewSample(time.Now(), 42)); err != nil {
						recvErr = err
						return
					}
				case sample, ok := <-out.C():
					if !ok {
						recvErr = channels.ErrClosed
						return
					}
					if sample.Value != nil {
						got = sample
						return
					}
				}
			}
		})
	})

	if recvErr != nil {
		t.Fatalf("drive: %v", recvErr)
	}
	if got.Value.Float() != 42 {
		t.Fatalf("resampled value = %v, want 42", got.Value)
	}
}

func TestTelemetrySourceDispatch(t *testing.T) {
	registry := channels.NewRegistry("source-test", 0)
	source := NewTelemetrySource(registry, nil)

	if err := source.Activate(9, microgrid.MetricSoC); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	// Activating the same pair again has no effect.
	if err := source.Activate(9, microgrid.MetricSoC); err != nil {
		t.Fatalf("Activate twice: %v", err)
	}
	if got := len(source.routes[9]); got != 1 {
		t.Fatalf("routes for component 9 = %d, want 1", got)
	}

	metricRecv, err := channels.ReceiverFor[Sample](registry, microgrid.RawMetricKey(9, microgrid.MetricSoC))
	if err != nil {
		t.Fatalf("ReceiverFor metric: %v", err)
	}
	dataRecv, err := channels.ReceiverFor[microgrid.BatteryData](registry, microgrid.BatteryDataKey(9))
	if err != nil {
		t.Fatalf("ReceiverFor battery data: %v", err)
	}

	now := time.Now()
	source.dispatch(slog.Default(), microgridtest.BatteryData(9, now, func(d *microgrid.BatteryData) {
		d.SoC = 87.5
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	data, err := dataRecv.Receive(ctx)
	if err != nil {
		t.Fatalf("receive battery data: %v", err)
	}
	if data.ComponentID != 9 || data.SoC != 87.5 {
		t.Errorf("battery data = %+v, want component 9 with SoC 87.5", data)
	}

	sample, err := metricRecv.Receive(ctx)
	if err != nil {
		t.Fatalf("receive metric sample: %v", err)
	}
	if sample.Value == nil || sample.Value.Float() != 87.5 {
		t.Errorf("metric sample = %v, want 87.5", sample.Value)
	}
	if !sample.Timestamp.Equal(now) {
		t.Errorf("metric timestamp = %s, want %s", sample.Timestamp, now)
	}

	// Metrics the component kind does not carry are not routed.
	if err := source.Activate(9, microgrid.MetricFrequency); err != nil {
		t.Fatalf("Activate frequency: %v", err)
	}
	freqRecv, err := channels.ReceiverFor[Sample](registry, microgrid.RawMetricKey(9, microgrid.MetricFrequency))
	if err != nil {
		t.Fatalf("ReceiverFor frequency: %v", err)
	}
	source.dispatch(slog.Default(), microgridtest.BatteryData(9, now))
	short, shortCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer shortCancel()
	if s, err := freqRecv.Receive(short); err == nil {
		t.Errorf("battery produced a frequency sample %v", s)
	}
}

// TestDataSourcingActivatesRoutes drives a running data sourcing actor: an
// upstream request activates the telemetry route for its pair.
func TestDataSourcingActivatesRoutes(t *testing.T) {
	registry := channels.NewRegistry("datasourcing-test", 0)
	source := NewTelemetrySource(registry, nil)
	requestChannel := channels.NewBroadcast[ComponentMetricRequest]("datasourcing-requests")

	actor, err := NewDataSourcing(requestChannel.NewReceiver(0), source)
	if err != nil {
		t.Fatalf("NewDataSourcing: %v", err)
	}
	requestSender := requestChannel.NewSender()

	var activated bool
	component.RunProc(func(l *component.L) {
		l.Fork("data sourcing", actor)
		l.Go("drive", func(l *component.L) {
			defer actor.Stop()
			if err := requestSender.Send(ComponentMetricRequest{
				Namespace: "test", ComponentID: 9, MetricID: microgrid.MetricSoC,
			}); err != nil {
				return
			}
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				source.mu.Lock()
				_, activated = source.routes[9][microgrid.MetricSoC]
				source.mu.Unlock()
				if activated {
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
		})
	})

	if !activated {
		t.Fatal("request did not activate the telemetry route")
	}
}

func TestEncodeTelemetryRoundTrip(t *testing.T) {
	registry := channels.NewRegistry("decode-test", 0)
	source := NewTelemetrySource(registry, nil)

	dataRecv, err := channels.ReceiverFor[microgrid.InverterData](registry, microgrid.InverterDataKey(8))
	if err != nil {
		t.Fatalf("ReceiverFor: %v", err)
	}

	body, err := EncodeTelemetry(microgridtest.InverterData(8, time.Unix(1000, 0), func(d *microgrid.InverterData) {
		d.ActivePower = -1500
	}))
	if err != nil {
		t.Fatalf("EncodeTelemetry: %v", err)
	}
	source.handleBody(slog.Default(), body)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, err := dataRecv.Receive(ctx)
	if err != nil {
		t.Fatalf("receive inverter data: %v", err)
	}
	if data.ActivePower != -1500 {
		t.Errorf("active power = %v, want -1500", data.ActivePower)
	}

	// A malformed body is dropped without effect.
	source.handleBody(slog.Default(), []byte("not gob"))
}
