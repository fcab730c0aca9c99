package microgrid

import (
	"encoding/gob"
	"fmt"
	"time"
)

// Register the telemetry message types with gob. The telemetry transport
// carries them inside a gob-encoded envelope, so the concrete types must be
// known to the decoder.
func init() {
	gob.Register(BatteryData{})
	gob.Register(InverterData{})
}

// ErrorLevel grades errors reported by a component alongside its telemetry.
type ErrorLevel int

const (
	// ErrorLevelWarn marks a condition the component can keep operating
	// through. Warnings alone never invalidate a telemetry message.
	ErrorLevelWarn ErrorLevel = iota
	// ErrorLevelCritical marks a condition that makes the component unsafe to
	// command.
	ErrorLevelCritical
)

// ComponentError is a single error entry attached to a telemetry message.
type ComponentError struct {
	Code  int
	Level ErrorLevel
	Msg   string
}

// ComponentState is the operational state a component reports about itself.
type ComponentState int

const (
	// StateUnspecified is reported when the component cannot determine its
	// state.
	StateUnspecified ComponentState = iota
	// StateOff means the component is powered down.
	StateOff
	// StateIdle means the component is on but neither charging nor
	// discharging.
	StateIdle
	// StateCharging means power is flowing into the component.
	StateCharging
	// StateDischarging means power is flowing out of the component.
	StateDischarging
	// StateError means the component reports an internal failure.
	StateError
	// StateSwitchingOff means the component is shutting down and must not be
	// commanded.
	StateSwitchingOff
)

// String returns the state name as used in logs.
func (s ComponentState) String() string {
	switch s {
	case StateUnspecified:
		return "UNSPECIFIED"
	case StateOff:
		return "OFF"
	case StateIdle:
		return "IDLE"
	case StateCharging:
		return "CHARGING"
	case StateDischarging:
		return "DISCHARGING"
	case StateError:
		return "ERROR"
	case StateSwitchingOff:
		return "SWITCHING_OFF"
	default:
		return fmt.Sprintf("ComponentState(%d)", int(s))
	}
}

// RelayState is the position of a battery's DC relay.
type RelayState int

const (
	// RelayOpened means the battery is disconnected from its inverter.
	RelayOpened RelayState = iota
	// RelayClosed means the battery is connected and can move power.
	RelayClosed
)

// ComponentData is the interface of timestamped telemetry messages delivered
// by the physical transport. The concrete types are BatteryData and
// InverterData.
type ComponentData interface {
	// DataComponentID is the id of the component the message is about.
	DataComponentID() ComponentID
	// DataTimestamp is the wall-clock time the measurement was taken at.
	DataTimestamp() time.Time
}

// BatteryData is one telemetry message from a battery.
type BatteryData struct {
	ComponentID ComponentID
	Timestamp   time.Time
	State       ComponentState
	RelayState  RelayState
	Errors      []ComponentError
	// Capacity is the usable capacity in Wh. NaN when the battery cannot
	// report it.
	Capacity float64
	// SoC is the state of charge in percent.
	SoC float64
	// Power is the active power in W, negative when discharging.
	Power float64
}

func (d BatteryData) DataComponentID() ComponentID { return d.ComponentID }
func (d BatteryData) DataTimestamp() time.Time     { return d.Timestamp }

// InverterData is one telemetry message from an inverter.
type InverterData struct {
	ComponentID ComponentID
	Timestamp   time.Time
	State       ComponentState
	Errors      []ComponentError
	// ActivePower is the AC-side active power in W.
	ActivePower float64
	// Frequency is the AC frequency in Hz.
	Frequency float64
}

func (d InverterData) DataComponentID() ComponentID { return d.ComponentID }
func (d InverterData) DataTimestamp() time.Time     { return d.Timestamp }

// MetricID names a single measurable quantity of a component. Its string form
// is part of the channel-name contract ("{component_id}:{metric_id}"), so the
// names are stable.
type MetricID int

const (
	// MetricActivePower is the active power measured at the component, in W.
	MetricActivePower MetricID = iota
	// MetricSoC is a battery's state of charge, in percent.
	MetricSoC
	// MetricCapacity is a battery's usable capacity, in Wh.
	MetricCapacity
	// MetricFrequency is the AC frequency, in Hz.
	MetricFrequency
	// MetricCurrentPhase1 through MetricCurrentPhase3 are the per-phase
	// currents, in A.
	MetricCurrentPhase1
	MetricCurrentPhase2
	MetricCurrentPhase3
	// MetricVoltagePhase1 through MetricVoltagePhase3 are the per-phase
	// voltages, in V.
	MetricVoltagePhase1
	MetricVoltagePhase2
	MetricVoltagePhase3
)

// String returns the stable metric name used inside channel keys.
func (m MetricID) String() string {
	switch m {
	case MetricActivePower:
		return "active_power"
	case MetricSoC:
		return "soc"
	case MetricCapacity:
		return "capacity"
	case MetricFrequency:
		return "frequency"
	case MetricCurrentPhase1:
		return "current_phase_1"
	case MetricCurrentPhase2:
		return "current_phase_2"
	case MetricCurrentPhase3:
		return "current_phase_3"
	case MetricVoltagePhase1:
		return "voltage_phase_1"
	case MetricVoltagePhase2:
		return "voltage_phase_2"
	case MetricVoltagePhase3:
		return "voltage_phase_3"
	default:
		return fmt.Sprintf("metric_%d", int(m))
	}
}

// RawMetricKey is the registry key of the unsampled telemetry channel for one
// metric of one component. The exact format is a stable contract consumers
// and mock fixtures depend on.
func RawMetricKey(id ComponentID, metric MetricID) string {
	return fmt.Sprintf("%d:%s", id, metric)
}

// BatteryDataKey is the registry key of the channel carrying full battery
// telemetry messages for one battery.
func BatteryDataKey(id ComponentID) string {
	return fmt.Sprintf("battery-data:%d", id)
}

// InverterDataKey is the registry key of the channel carrying full inverter
// telemetry messages for one inverter.
func InverterDataKey(id ComponentID) string {
	return fmt.Sprintf("inverter-data:%d", id)
}

// MetricValue extracts the value of the given metric from a telemetry
// message. The second return is false when the message's component kind does
// not carry that metric.
func MetricValue(data ComponentData, metric MetricID) (float64, bool) {
	switch d := data.(type) {
	case BatteryData:
		switch metric {
		case MetricActivePower:
			return d.Power, true
		case MetricSoC:
			return d.SoC, true
		case MetricCapacity:
			return d.Capacity, true
		}
	case InverterData:
		switch metric {
		case MetricActivePower:
			return d.ActivePower, true
		case MetricFrequency:
			return d.Frequency, true
		}
	}
	return 0, false
}
