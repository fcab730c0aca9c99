/*
Package microgridtest provides reusable fixtures for testing code against the
microgrid runtime: canned component graphs, fabricators for valid-by-default
telemetry messages, and a static API client.

The canned graphs follow a fixed id scheme so tests can address components
without threading ids around: the grid endpoint is component 1, the grid meter
is component 4, and the i-th battery chain (starting at i = 0) is the meter
7+10i feeding the inverter 8+10i feeding the battery 9+10i.
*/
package microgridtest

import (
	"context"
	"time"

	"github.com/go-microgrid/go-microgrid"
)

// Fixed ids of the canned graphs.
const (
	GridID      microgrid.ComponentID = 1
	GridMeterID microgrid.ComponentID = 4
)

// ChainMeterID returns the id of the i-th battery chain's meter.
func ChainMeterID(i int) microgrid.ComponentID {
	return microgrid.ComponentID(7 + 10*i)
}

// ChainInverterID returns the id of the i-th battery chain's inverter.
func ChainInverterID(i int) microgrid.ComponentID {
	return microgrid.ComponentID(8 + 10*i)
}

// ChainBatteryID returns the id of the i-th battery chain's battery.
func ChainBatteryID(i int) microgrid.ComponentID {
	return microgrid.ComponentID(9 + 10*i)
}

// BatteryIDs returns the battery ids of a canned graph with n chains.
func BatteryIDs(n int) []microgrid.ComponentID {
	ids := make([]microgrid.ComponentID, n)
	for i := range ids {
		ids[i] = ChainBatteryID(i)
	}
	return ids
}

// BatteryGraphInput returns the components and connections of a microgrid
// with a grid meter and n battery chains, suitable for
// ComponentGraph.RefreshFrom.
func BatteryGraphInput(n int) ([]microgrid.Component, []microgrid.Connection) {
	components := []microgrid.Component{
		{ID: GridID, Category: microgrid.CategoryGrid},
		{ID: GridMeterID, Category: microgrid.CategoryMeter},
	}
	connections := []microgrid.Connection{
		{From: GridID, To: GridMeterID},
	}
	for i := 0; i < n; i++ {
		meter := ChainMeterID(i)
		inverter := ChainInverterID(i)
		battery := ChainBatteryID(i)
		components = append(components,
			microgrid.Component{ID: meter, Category: microgrid.CategoryMeter},
			microgrid.Component{ID: inverter, Category: microgrid.CategoryInverter, Type: microgrid.InverterTypeBattery},
			microgrid.Component{ID: battery, Category: microgrid.CategoryBattery},
		)
		connections = append(connections,
			microgrid.Connection{From: GridMeterID, To: meter},
			microgrid.Connection{From: meter, To: inverter},
			microgrid.Connection{From: inverter, To: battery},
		)
	}
	return components, connections
}

// NewBatteryGraph returns an installed component graph with a grid meter and
// n battery chains.
func NewBatteryGraph(n int) (*microgrid.ComponentGraph, error) {
	graph := microgrid.NewComponentGraph()
	components, connections := BatteryGraphInput(n)
	if err := graph.RefreshFrom(components, connections, nil); err != nil {
		return nil, err
	}
	return graph, nil
}

// BatteryData fabricates a battery telemetry message that is valid for the
// health tracker: stamped now, relays closed, charging, no errors, finite
// capacity. Modifiers adjust individual fields.
func BatteryData(id microgrid.ComponentID, now time.Time, modify ...func(*microgrid.BatteryData)) microgrid.BatteryData {
	d := microgrid.BatteryData{
		ComponentID: id,
		Timestamp:   now,
		State:       microgrid.StateCharging,
		RelayState:  microgrid.RelayClosed,
	}
	for _, m := range modify {
		m(&d)
	}
	return d
}

// InverterData fabricates an inverter telemetry message that is valid for the
// health tracker: stamped now, charging, no errors. Modifiers adjust
// individual fields.
func InverterData(id microgrid.ComponentID, now time.Time, modify ...func(*microgrid.InverterData)) microgrid.InverterData {
	d := microgrid.InverterData{
		ComponentID: id,
		Timestamp:   now,
		State:       microgrid.StateCharging,
	}
	for _, m := range modify {
		m(&d)
	}
	return d
}

// StaticAPIClient serves fixed component and connection lists, optionally
// failing every call with Err. It implements microgrid.APIClient.
type StaticAPIClient struct {
	ComponentList  []microgrid.Component
	ConnectionList []microgrid.Connection
	Err            error
}

// Components implements microgrid.APIClient.
func (c StaticAPIClient) Components(context.Context) ([]microgrid.Component, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.ComponentList, nil
}

// Connections implements microgrid.APIClient.
func (c StaticAPIClient) Connections(context.Context) ([]microgrid.Connection, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.ConnectionList, nil
}
