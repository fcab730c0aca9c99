package health

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/go-microgrid/go-microgrid"
	"github.com/go-microgrid/go-microgrid/channels"
)

// PoolConfig wires a PoolTracker to the graph, the channel registry and its
// output channel.
type PoolConfig struct {
	// ComponentIDs are the batteries of the working set, one Tracker each.
	ComponentIDs []microgrid.ComponentID
	// Graph resolves each battery's inverter (its single predecessor).
	Graph *microgrid.ComponentGraph
	// Registry provides the telemetry channels the child trackers subscribe
	// to (BatteryDataKey / InverterDataKey).
	Registry *channels.Registry
	// StatusSender receives a ComponentPoolStatus on every change of the
	// aggregated view. The pool does not own the underlying channel.
	StatusSender *channels.Sender[ComponentPoolStatus]

	// MaxDataAge and MaxBlockingDuration are handed to every child tracker.
	MaxDataAge          time.Duration
	MaxBlockingDuration time.Duration

	// Clock is handed to every child tracker. Nil selects the wall clock.
	Clock clock.Clock
}

// A PoolTracker spawns one health Tracker per battery of a working set,
// subscribes to their status streams, and maintains the aggregated
// ComponentPoolStatus view.
type PoolTracker struct {
	statusSender *channels.Sender[ComponentPoolStatus]

	trackers        []*Tracker
	statusReceivers []*channels.Receiver[Status]
	statusChannels  []*channels.Broadcast[Status]
	setPower        *channels.Broadcast[SetPowerResult]
	setPowerSender  *channels.Sender[SetPowerResult]

	merged chan trackedStatus

	mu      sync.Mutex
	current ComponentPoolStatus

	stopOnce sync.Once
	stopped  chan struct{}
}

// trackedStatus pairs a child tracker's emission with the battery it is
// about, for the merge loop.
type trackedStatus struct {
	ID     microgrid.ComponentID
	Status Status
}

// NewPoolTracker creates the child trackers for the configured batteries,
// deriving each battery's inverter from the graph. The children are inert
// until the pool's Exec procedure runs.
func NewPoolTracker(cfg PoolConfig) (*PoolTracker, error) {
	if len(cfg.ComponentIDs) == 0 {
		return nil, errors.New("health: pool requires at least one component id")
	}
	if cfg.Graph == nil || cfg.Registry == nil || cfg.StatusSender == nil {
		return nil, errors.New("health: pool requires a graph, a registry and a status sender")
	}

	p := &PoolTracker{
		statusSender: cfg.StatusSender,
		setPower:     channels.NewBroadcast[SetPowerResult]("pool-set-power-results"),
		merged:       make(chan trackedStatus),
		current: ComponentPoolStatus{
			Working:   make(IDSet),
			Uncertain: make(IDSet),
		},
		stopped: make(chan struct{}),
	}
	p.setPowerSender = p.setPower.NewSender()

	for _, id := range cfg.ComponentIDs {
		inverter, err := cfg.Graph.BatteryInverter(id)
		if err != nil {
			return nil, fmt.Errorf("resolve inverter of battery %d: %w", id, err)
		}
		batteryRecv, err := channels.ReceiverFor[microgrid.BatteryData](cfg.Registry, microgrid.BatteryDataKey(id))
		if err != nil {
			return nil, fmt.Errorf("subscribe battery data of %d: %w", id, err)
		}
		inverterRecv, err := channels.ReceiverFor[microgrid.InverterData](cfg.Registry, microgrid.InverterDataKey(inverter.ID))
		if err != nil {
			return nil, fmt.Errorf("subscribe inverter data of %d: %w", inverter.ID, err)
		}

		statusChannel := channels.NewBroadcast[Status](fmt.Sprintf("component-status-%d", id))
		tracker, err := NewTracker(TrackerConfig{
			BatteryID:           id,
			InverterID:          inverter.ID,
			MaxDataAge:          cfg.MaxDataAge,
			MaxBlockingDuration: cfg.MaxBlockingDuration,
			StatusSender:        statusChannel.NewSender(),
			BatteryReceiver:     batteryRecv,
			InverterReceiver:    inverterRecv,
			SetPowerReceiver:    p.setPower.NewReceiver(0),
			Clock:               cfg.Clock,
		})
		if err != nil {
			return nil, fmt.Errorf("create tracker for battery %d: %w", id, err)
		}
		p.trackers = append(p.trackers, tracker)
		p.statusChannels = append(p.statusChannels, statusChannel)
		p.statusReceivers = append(p.statusReceivers, statusChannel.NewReceiver(0))
	}
	return p, nil
}

// Exec runs the pool: it forks every child tracker plus one merge task per
// status stream, then folds the merged emissions into the aggregated view,
// publishing it on the status sender whenever membership changes.
func (p *PoolTracker) Exec(l *component.L) {
	logger := component.Logger(l.Context())

	for i, tracker := range p.trackers {
		recv := p.statusReceivers[i]
		id := tracker.BatteryID()
		l.Fork(fmt.Sprintf("component status tracker %d", id), tracker)
		l.Go(fmt.Sprintf("merge status %d", id), func(l *component.L) {
			for l.Continue() {
				select {
				case <-l.GraceContext().Done():
					return
				case <-p.stopped:
					return
				case status, ok := <-recv.C():
					if !ok {
						return
					}
					select {
					case p.merged <- trackedStatus{ID: id, Status: status}:
					case <-p.stopped:
						return
					case <-l.GraceContext().Done():
						return
					}
				}
			}
		})
	}

	for l.Continue() {
		select {
		case <-l.GraceContext().Done():
			return
		case <-p.stopped:
			return
		case ts := <-p.merged:
			if snapshot, changed := p.apply(ts); changed {
				if err := p.statusSender.Send(snapshot); err != nil {
					logger.Error("Couldn't publish pool status", slog.Any("error", err))
				}
			}
		}
	}
}

// apply folds one child emission into the aggregated view and returns a
// snapshot plus whether membership changed.
func (p *PoolTracker) apply(ts trackedStatus) (ComponentPoolStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, wasWorking := p.current.Working[ts.ID]
	_, wasUncertain := p.current.Uncertain[ts.ID]

	delete(p.current.Working, ts.ID)
	delete(p.current.Uncertain, ts.ID)
	switch ts.Status {
	case StatusWorking:
		p.current.Working[ts.ID] = struct{}{}
	case StatusUncertain:
		p.current.Uncertain[ts.ID] = struct{}{}
	}

	_, isWorking := p.current.Working[ts.ID]
	_, isUncertain := p.current.Uncertain[ts.ID]
	changed := wasWorking != isWorking || wasUncertain != isUncertain
	return p.current.clone(), changed
}

// GetWorkingComponents returns the intersection of the given subset with the
// components currently known to be working. It is a pure query over current
// state.
func (p *PoolTracker) GetWorkingComponents(subset IDSet) IDSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	working := make(IDSet)
	for id := range subset {
		if _, ok := p.current.Working[id]; ok {
			working[id] = struct{}{}
		}
	}
	return working
}

// UpdateStatus forwards a set-power outcome to every child tracker,
// equivalent to each tracker observing the same result message.
func (p *PoolTracker) UpdateStatus(succeeded, failed IDSet) error {
	return p.setPowerSender.Send(SetPowerResult{Succeeded: succeeded, Failed: failed})
}

// Stop stops all child trackers concurrently, waits for them, and tears down
// the channels the pool owns. Stop is idempotent.
func (p *PoolTracker) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)

		var g errgroup.Group
		for _, tracker := range p.trackers {
			g.Go(func() error {
				tracker.Stop()
				return nil
			})
		}
		// Child Stop never fails; Wait only synchronises the teardown.
		_ = g.Wait()

		p.setPower.Close()
		for _, ch := range p.statusChannels {
			ch.Close()
		}
	})
}
