// Package health derives coarse per-component health state from raw
// telemetry. One Tracker per battery fuses the battery's own telemetry with
// that of its inverter, enforces data-freshness deadlines, and applies
// exponential back-off blocking when a downstream power-set operation reports
// failure against the component. A PoolTracker aggregates the per-component
// states into a working-set view for consumers such as power distribution.
package health

import (
	"encoding/gob"
	"fmt"

	"github.com/go-microgrid/go-microgrid"
)

func init() {
	gob.Register(ComponentPoolStatus{})
}

// Status is the coarse health state of a component as exported to consumers.
type Status int

const (
	// StatusNotWorking means the component must not be commanded: its
	// telemetry is invalid, stale, or missing. This is the initial state.
	StatusNotWorking Status = iota
	// StatusUncertain means telemetry looks fine but a recent set-power
	// attempt against the component failed and its blocking window has not
	// expired yet.
	StatusUncertain
	// StatusWorking means the component is safe to command.
	StatusWorking
)

// String returns the status name as used in logs.
func (s Status) String() string {
	switch s {
	case StatusNotWorking:
		return "NOT_WORKING"
	case StatusUncertain:
		return "UNCERTAIN"
	case StatusWorking:
		return "WORKING"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// IDSet is a set of component ids.
type IDSet = map[microgrid.ComponentID]struct{}

// NewIDSet builds an IDSet from the given ids.
func NewIDSet(ids ...microgrid.ComponentID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// SetPowerResult is the downstream power controller's report of which
// components honored a dispatched power command.
type SetPowerResult struct {
	Succeeded IDSet
	Failed    IDSet
}

// ComponentPoolStatus is the roll-up of the per-component trackers of a pool:
// which components are safe to command and which are uncertain. Components in
// neither set are not working.
type ComponentPoolStatus struct {
	Working   IDSet
	Uncertain IDSet
}

// clone returns a deep copy safe to hand to consumers.
func (s ComponentPoolStatus) clone() ComponentPoolStatus {
	out := ComponentPoolStatus{
		Working:   make(IDSet, len(s.Working)),
		Uncertain: make(IDSet, len(s.Uncertain)),
	}
	for id := range s.Working {
		out.Working[id] = struct{}{}
	}
	for id := range s.Uncertain {
		out.Uncertain[id] = struct{}{}
	}
	return out
}
