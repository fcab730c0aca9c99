package microgrid

import "fmt"

// ComponentID uniquely identifies a physical component within a microgrid.
type ComponentID uint64

// ComponentCategory classifies the kind of hardware a component represents.
//
// The zero value, CategoryUnspecified, marks a component whose category is not
// (yet) known. Such components are rejected by graph validation unless a
// corrector fills them in (see CorrectImplicitGrid).
type ComponentCategory int

const (
	// CategoryUnspecified is the category of a component whose kind was not
	// reported by the API.
	CategoryUnspecified ComponentCategory = iota
	// CategoryNone marks a component that does not map to physical hardware
	// but is a valid graph node (e.g. a junction acting as the graph root).
	CategoryNone
	// CategoryGrid is the connection point to the utility grid. When present
	// it is always the root of the component graph.
	CategoryGrid
	// CategoryMeter measures power flow at its position in the graph.
	CategoryMeter
	// CategoryInverter converts between DC components (batteries, PV) and the
	// AC side of the microgrid.
	CategoryInverter
	// CategoryBattery is an electrical storage unit. Always a leaf.
	CategoryBattery
	// CategoryEVCharger is an electric-vehicle charging station. Always a leaf.
	CategoryEVCharger
	// CategoryCHP is a combined heat and power plant.
	CategoryCHP
	// CategoryLoad is a consumer of power.
	CategoryLoad
)

// String returns the category name as used in logs and error messages.
func (c ComponentCategory) String() string {
	switch c {
	case CategoryUnspecified:
		return "UNSPECIFIED"
	case CategoryNone:
		return "NONE"
	case CategoryGrid:
		return "GRID"
	case CategoryMeter:
		return "METER"
	case CategoryInverter:
		return "INVERTER"
	case CategoryBattery:
		return "BATTERY"
	case CategoryEVCharger:
		return "EV_CHARGER"
	case CategoryCHP:
		return "CHP"
	case CategoryLoad:
		return "LOAD"
	default:
		return fmt.Sprintf("ComponentCategory(%d)", int(c))
	}
}

// InverterType distinguishes the DC side an inverter is attached to.
type InverterType int

const (
	// InverterTypeUnspecified is the type of an inverter whose DC side was not
	// reported.
	InverterTypeUnspecified InverterType = iota
	// InverterTypeSolar marks a PV (photovoltaic) inverter.
	InverterTypeSolar
	// InverterTypeBattery marks a battery inverter.
	InverterTypeBattery
)

// String returns the inverter type name as used in logs and error messages.
func (t InverterType) String() string {
	switch t {
	case InverterTypeUnspecified:
		return "UNSPECIFIED"
	case InverterTypeSolar:
		return "SOLAR"
	case InverterTypeBattery:
		return "BATTERY"
	default:
		return fmt.Sprintf("InverterType(%d)", int(t))
	}
}

// A Component is a node of the component graph: a single piece of hardware (or
// a virtual junction) participating in the microgrid. Components are immutable
// once placed in a graph.
type Component struct {
	ID       ComponentID
	Category ComponentCategory
	// Type is only meaningful for inverters, where it records the DC side the
	// inverter is attached to.
	Type InverterType
}

// Validate reports whether the component is individually well-formed,
// irrespective of its position in any graph.
func (c Component) Validate() error {
	if c.Category < CategoryUnspecified || c.Category > CategoryLoad {
		return fmt.Errorf("component %d: unknown category %d", c.ID, int(c.Category))
	}
	if c.Type != InverterTypeUnspecified && c.Category != CategoryInverter {
		return fmt.Errorf("component %d: inverter type %s on non-inverter category %s", c.ID, c.Type, c.Category)
	}
	return nil
}

func (c Component) String() string {
	if c.Category == CategoryInverter && c.Type != InverterTypeUnspecified {
		return fmt.Sprintf("%s:%s(%d)", c.Category, c.Type, c.ID)
	}
	return fmt.Sprintf("%s(%d)", c.Category, c.ID)
}

// A Connection is an edge of the component graph: an ordered pair denoting
// directed power flow from one component to another.
type Connection struct {
	From ComponentID
	To   ComponentID
}

// Validate reports whether the connection is individually well-formed. A
// connection must not be a self-loop. From may be zero: the API reports
// components hanging off an implicit grid endpoint as children of node 0.
func (c Connection) Validate() error {
	if c.From == c.To {
		return fmt.Errorf("connection %d->%d: self-loop", c.From, c.To)
	}
	if c.To == 0 {
		return fmt.Errorf("connection %d->%d: connection into component 0", c.From, c.To)
	}
	return nil
}

func (c Connection) String() string {
	return fmt.Sprintf("%d->%d", c.From, c.To)
}

// IsPVInverter reports whether the component is a PV inverter.
func IsPVInverter(c Component) bool {
	return c.Category == CategoryInverter && c.Type == InverterTypeSolar
}

// IsBatteryInverter reports whether the component is a battery inverter.
func IsBatteryInverter(c Component) bool {
	return c.Category == CategoryInverter && c.Type == InverterTypeBattery
}

// IsCHP reports whether the component is a CHP plant.
func IsCHP(c Component) bool {
	return c.Category == CategoryCHP
}

// IsEVCharger reports whether the component is an EV charger.
func IsEVCharger(c Component) bool {
	return c.Category == CategoryEVCharger
}
