package health

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
	"k8s.io/utils/clock"

	"github.com/go-microgrid/go-microgrid"
	"github.com/go-microgrid/go-microgrid/channels"
)

// TrackerConfig wires one Tracker to its input and output channels.
type TrackerConfig struct {
	// BatteryID is the battery the tracker is about.
	BatteryID microgrid.ComponentID
	// InverterID is the inverter feeding the battery (the battery's single
	// graph predecessor).
	InverterID microgrid.ComponentID

	// MaxDataAge bounds how old the last telemetry message may be before the
	// component is considered not working.
	MaxDataAge time.Duration
	// MaxBlockingDuration saturates the exponential blocking window.
	MaxBlockingDuration time.Duration

	// StatusSender receives a Status value on every effective change. The
	// tracker does not own the underlying channel.
	StatusSender *channels.Sender[Status]
	// BatteryReceiver delivers the battery's telemetry.
	BatteryReceiver *channels.Receiver[microgrid.BatteryData]
	// InverterReceiver delivers the inverter's telemetry.
	InverterReceiver *channels.Receiver[microgrid.InverterData]
	// SetPowerReceiver delivers the downstream power controller's reports.
	SetPowerReceiver *channels.Receiver[SetPowerResult]

	// Clock is the authoritative time source for freshness and blocking
	// arithmetic. Nil selects the wall clock; tests inject a fake.
	Clock clock.Clock
}

// A Tracker maintains the health state of a single battery by fusing two
// independent, imperfect telemetry streams (the battery's own and its
// inverter's) with the downstream set-power reports.
//
// Each stream has a resettable freshness timer, armed for MaxDataAge and
// rewound by every fresh-and-valid message of its kind; a firing timer forces
// NotWorking until a valid message arrives. Failed set-power reports open an
// exponential blocking window that suppresses Working (reporting Uncertain
// instead) but never suppresses NotWorking: invalid telemetry always wins.
//
// All state mutation happens on the tracker's own task (Exec), so no locking
// is needed; per-tracker message ordering is preserved by the single loop.
type Tracker struct {
	batteryID  microgrid.ComponentID
	inverterID microgrid.ComponentID
	maxDataAge time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	statusSender *channels.Sender[Status]
	batteryRecv  *channels.Receiver[microgrid.BatteryData]
	inverterRecv *channels.Receiver[microgrid.InverterData]
	setPowerRecv *channels.Receiver[SetPowerResult]

	battery    dataStream
	inverter   dataStream
	blocking   blockingWindow
	lastStatus Status

	stopOnce sync.Once
	stopped  chan struct{}
}

// dataStream is the tracker's view of one telemetry stream: the validity
// verdict of the last message seen and the freshness timer guarding it.
type dataStream struct {
	lastValid bool
	timer     clock.Timer
}

// NewTracker returns a tracker for the given battery. The tracker is inert
// until its Exec procedure runs; tests may instead drive the unexported
// handlers synchronously.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.StatusSender == nil || cfg.BatteryReceiver == nil || cfg.InverterReceiver == nil || cfg.SetPowerReceiver == nil {
		return nil, errors.New("health: tracker requires a status sender and battery, inverter and set-power receivers")
	}
	if cfg.MaxDataAge <= 0 {
		return nil, errors.New("health: tracker requires a positive max data age")
	}
	if cfg.MaxBlockingDuration <= 0 {
		return nil, errors.New("health: tracker requires a positive max blocking duration")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Tracker{
		batteryID:    cfg.BatteryID,
		inverterID:   cfg.InverterID,
		maxDataAge:   cfg.MaxDataAge,
		clock:        clk,
		logger:       slog.Default(),
		statusSender: cfg.StatusSender,
		batteryRecv:  cfg.BatteryReceiver,
		inverterRecv: cfg.InverterReceiver,
		setPowerRecv: cfg.SetPowerReceiver,
		// Both timers start armed: a component that never sends telemetry
		// simply stays NotWorking when they fire.
		battery:    dataStream{timer: clk.NewTimer(cfg.MaxDataAge)},
		inverter:   dataStream{timer: clk.NewTimer(cfg.MaxDataAge)},
		blocking:   newBlockingWindow(cfg.MaxBlockingDuration),
		lastStatus: StatusNotWorking,
		stopped:    make(chan struct{}),
	}, nil
}

// BatteryID returns the id of the battery the tracker is about.
func (t *Tracker) BatteryID() microgrid.ComponentID { return t.batteryID }

// Exec runs the tracker loop: a select across the telemetry receivers, the
// set-power receiver, the two freshness timers, and the shutdown signals.
// After every event the effective status is recomputed and emitted on the
// status sender only if it differs from the last emission.
func (t *Tracker) Exec(l *component.L) {
	t.logger = component.Logger(l.Context()).With(slog.Uint64("battery-id", uint64(t.batteryID)))
	for l.Continue() {
		select {
		case <-l.GraceContext().Done():
			return
		case <-t.stopped:
			return
		case msg, ok := <-t.batteryRecv.C():
			if !ok {
				return
			}
			t.handleBatteryData(msg)
		case msg, ok := <-t.inverterRecv.C():
			if !ok {
				return
			}
			t.handleInverterData(msg)
		case result, ok := <-t.setPowerRecv.C():
			if !ok {
				return
			}
			t.handleSetPowerResult(result)
		case <-t.battery.timer.C():
			t.handleBatteryTimeout()
		case <-t.inverter.timer.C():
			t.handleInverterTimeout()
		}
		t.notifyStatus()
	}
}

// Stop terminates the tracker loop and cancels its timers. It is idempotent
// and safe to call concurrently with Exec. The status channel is owned by the
// creator of the tracker and stays open.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopped)
		t.battery.timer.Stop()
		t.inverter.timer.Stop()
	})
}

// handleBatteryData digests one battery telemetry message. Messages about
// other components are dropped with a warning; a fresh-and-valid message
// rewinds the battery freshness timer.
func (t *Tracker) handleBatteryData(msg microgrid.BatteryData) {
	if msg.ComponentID != t.batteryID {
		t.logger.Warn("Dropping battery message about foreign component",
			slog.Uint64("got-component-id", uint64(msg.ComponentID)),
		)
		return
	}
	valid := t.validBatteryData(msg)
	if valid {
		resetTimer(t.battery.timer, t.maxDataAge)
	}
	t.battery.lastValid = valid
}

// handleInverterData digests one inverter telemetry message, analogously to
// handleBatteryData.
func (t *Tracker) handleInverterData(msg microgrid.InverterData) {
	if msg.ComponentID != t.inverterID {
		t.logger.Warn("Dropping inverter message about foreign component",
			slog.Uint64("got-component-id", uint64(msg.ComponentID)),
		)
		return
	}
	valid := t.validInverterData(msg)
	if valid {
		resetTimer(t.inverter.timer, t.maxDataAge)
	}
	t.inverter.lastValid = valid
}

// handleSetPowerResult digests one report from the downstream power
// controller. Reports not mentioning this battery in either set are ignored.
func (t *Tracker) handleSetPowerResult(result SetPowerResult) {
	if _, ok := result.Succeeded[t.batteryID]; ok {
		t.blocking.unblock()
		return
	}
	if _, ok := result.Failed[t.batteryID]; !ok {
		return
	}
	// A component that is not working anyway is not additionally blocked;
	// only a failure against a presumed-usable component opens a window.
	if t.lastStatus == StatusNotWorking {
		return
	}
	if d := t.blocking.block(t.clock.Now()); d > 0 {
		t.logger.Warn("Battery blocked after failed set-power attempt",
			slog.Duration("duration", d),
		)
	}
}

// handleBatteryTimeout reacts to the battery freshness timer firing: the last
// message is now stale.
func (t *Tracker) handleBatteryTimeout() {
	t.battery.lastValid = false
}

// handleInverterTimeout reacts to the inverter freshness timer firing.
func (t *Tracker) handleInverterTimeout() {
	t.inverter.lastValid = false
}

// validBatteryData reports whether the battery message allows commanding the
// battery: fresh, relays closed, an operational component state, no critical
// error, and a finite capacity.
func (t *Tracker) validBatteryData(msg microgrid.BatteryData) bool {
	if t.outdated(msg.Timestamp) {
		return false
	}
	if msg.RelayState != microgrid.RelayClosed {
		return false
	}
	switch msg.State {
	case microgrid.StateUnspecified, microgrid.StateOff, microgrid.StateError, microgrid.StateSwitchingOff:
		return false
	}
	if hasCriticalError(msg.Errors) {
		return false
	}
	return !math.IsNaN(msg.Capacity)
}

// validInverterData reports whether the inverter message allows commanding
// the chain: fresh, not erroring or switching off, and no critical error.
// Warnings alone do not invalidate.
func (t *Tracker) validInverterData(msg microgrid.InverterData) bool {
	if t.outdated(msg.Timestamp) {
		return false
	}
	switch msg.State {
	case microgrid.StateError, microgrid.StateSwitchingOff:
		return false
	}
	return !hasCriticalError(msg.Errors)
}

func (t *Tracker) outdated(ts time.Time) bool {
	return t.clock.Now().Sub(ts) > t.maxDataAge
}

func hasCriticalError(errs []microgrid.ComponentError) bool {
	for _, e := range errs {
		if e.Level == microgrid.ErrorLevelCritical {
			return true
		}
	}
	return false
}

// currentStatus computes the effective status from the fused inputs.
//
// Invalid or stale telemetry always forces NotWorking, even during a blocking
// window. A component recovering from NotWorking through valid telemetry also
// cancels any active blocking window: failure recovery preempts blocking.
func (t *Tracker) currentStatus() Status {
	if !t.battery.lastValid || !t.inverter.lastValid {
		return StatusNotWorking
	}
	if t.lastStatus == StatusNotWorking {
		t.blocking.unblock()
		return StatusWorking
	}
	if t.blocking.isBlocked(t.clock.Now()) {
		return StatusUncertain
	}
	return StatusWorking
}

// statusIfChanged recomputes the effective status and records it. The second
// return is true only when the status differs from the last recorded one,
// making emissions monotonic per change.
func (t *Tracker) statusIfChanged() (Status, bool) {
	current := t.currentStatus()
	if current == t.lastStatus {
		return current, false
	}
	t.lastStatus = current
	return current, true
}

// notifyStatus emits the recomputed status on the status sender when it
// changed.
func (t *Tracker) notifyStatus() {
	status, changed := t.statusIfChanged()
	if !changed {
		return
	}
	measureStatusTransition(t.batteryID, status)
	if err := t.statusSender.Send(status); err != nil {
		t.logger.Error("Couldn't publish component status", slog.Any("error", err))
	}
}

// resetTimer rewinds an armed timer to a fresh deadline, draining a fire that
// raced with the reset.
func resetTimer(tm clock.Timer, d time.Duration) {
	if !tm.Stop() {
		select {
		case <-tm.C():
		default:
		}
	}
	tm.Reset(d)
}
