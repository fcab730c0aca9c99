package microgrid

import (
	"log/slog"
	"sync"
	"time"
)

// ComponentGraph is a directed acyclic representation of how microgrid
// components are connected. It is an approximate model of the electrical
// circuit, abstracted to the level needed for monitoring and control:
// identifying which inverters must be engaged to (dis)charge a particular
// battery, which meter measurements need to be combined to obtain grid power,
// and so on. It deliberately does not model electrical physics.
//
// A graph is refreshed wholesale via RefreshFrom or RefreshFromAPI; refreshes
// are atomic, and a failed refresh leaves the previously installed graph
// serving queries. Query methods copy data out, so returned values are safe to
// retain. All methods are safe for concurrent use.
type ComponentGraph struct {
	mu     sync.RWMutex
	data   *graphData
	logger *slog.Logger
}

// graphData is one immutable installed revision of the graph. Successor and
// predecessor lists preserve the insertion order of the connections they were
// built from, so traversals are stable.
type graphData struct {
	components   map[ComponentID]Component
	successors   map[ComponentID][]ComponentID
	predecessors map[ComponentID][]ComponentID
	connections  []Connection
}

func newGraphData() *graphData {
	return &graphData{
		components:   make(map[ComponentID]Component),
		successors:   make(map[ComponentID][]ComponentID),
		predecessors: make(map[ComponentID][]ComponentID),
	}
}

// nodeIDs returns every id that appears in the graph, whether as a defined
// component or only as a connection endpoint.
func (d *graphData) nodeIDs() map[ComponentID]struct{} {
	ids := make(map[ComponentID]struct{}, len(d.components))
	for id := range d.components {
		ids[id] = struct{}{}
	}
	for _, c := range d.connections {
		ids[c.From] = struct{}{}
		ids[c.To] = struct{}{}
	}
	return ids
}

func (d *graphData) inDegree(id ComponentID) int  { return len(d.predecessors[id]) }
func (d *graphData) outDegree(id ComponentID) int { return len(d.successors[id]) }

// A Corrector is invoked once by RefreshFrom when the provisional graph fails
// validation, and may amend the provisional data (e.g. filling in a missing
// category) before validation runs again. Correctors must only use the
// graph's query methods and AmendComponent.
type Corrector func(g *ComponentGraph)

// NewComponentGraph returns an empty component graph. The graph serves no
// queries until the first successful RefreshFrom.
func NewComponentGraph() *ComponentGraph {
	return &ComponentGraph{data: newGraphData(), logger: slog.Default()}
}

// Component fetches the component with the given id.
//
// It returns an UnknownComponentError if the id is not part of the current
// graph.
func (g *ComponentGraph) Component(id ComponentID) (Component, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.data.components[id]
	if !ok {
		return Component{}, &UnknownComponentError{ID: id}
	}
	return c, nil
}

// Components fetches the components of the microgrid, optionally filtered by
// category and inverter type. Passing CategoryUnspecified (respectively
// InverterTypeUnspecified) disables the corresponding filter. The result is
// a copy in unspecified order.
func (g *ComponentGraph) Components(category ComponentCategory, typ InverterType) []Component {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var selection []Component
	for _, c := range g.data.components {
		if category != CategoryUnspecified && c.Category != category {
			continue
		}
		if typ != InverterTypeUnspecified && c.Type != typ {
			continue
		}
		selection = append(selection, c)
	}
	return selection
}

// Connections fetches the connections between microgrid components. The result
// is a copy in unspecified order.
func (g *ComponentGraph) Connections() []Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Connection, len(g.data.connections))
	copy(out, g.data.connections)
	return out
}

// Predecessors fetches the components from which power flows directly into the
// specified component.
//
// It returns an UnknownComponentError if the id is not part of the current
// graph.
func (g *ComponentGraph) Predecessors(id ComponentID) ([]Component, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data.neighbours(id, g.data.predecessors)
}

// Successors fetches the components into which power flows directly from the
// specified component.
//
// It returns an UnknownComponentError if the id is not part of the current
// graph.
func (g *ComponentGraph) Successors(id ComponentID) ([]Component, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data.neighbours(id, g.data.successors)
}

func (d *graphData) neighbours(id ComponentID, adjacency map[ComponentID][]ComponentID) ([]Component, error) {
	if _, ok := d.components[id]; !ok {
		return nil, &UnknownComponentError{ID: id}
	}
	ids := adjacency[id]
	out := make([]Component, 0, len(ids))
	for _, n := range ids {
		// Endpoints without a component definition cannot survive validation,
		// so the lookup cannot miss on an installed graph.
		out = append(out, d.components[n])
	}
	return out, nil
}

// RefreshFrom completely replaces the current graph data with the provided
// components and connections.
//
// Each component and connection is first checked individually; then a
// provisional graph is built and validated structurally. If validation fails
// and a corrector is provided, the corrector is invoked once and validation
// runs again. Only a provisional graph that passes validation is installed;
// on any failure the previous graph is unchanged and an *InvalidGraphError is
// returned.
func (g *ComponentGraph) RefreshFrom(components []Component, connections []Connection, corrector Corrector) (err error) {
	defer func(start time.Time) {
		measureRefresh(err == nil, time.Since(start))
	}(time.Now())

	if len(components) == 0 {
		return invalidGraph("no components in input")
	}
	if len(connections) == 0 {
		return invalidGraph("no connections in input")
	}
	for _, c := range components {
		if cerr := c.Validate(); cerr != nil {
			return &InvalidGraphError{Reason: "invalid component in input", Err: cerr}
		}
	}
	for _, c := range connections {
		if cerr := c.Validate(); cerr != nil {
			return &InvalidGraphError{Reason: "invalid connection in input", Err: cerr}
		}
	}

	data := newGraphData()
	for _, c := range components {
		data.components[c.ID] = c
	}
	for _, c := range connections {
		data.connections = append(data.connections, c)
		data.successors[c.From] = append(data.successors[c.From], c.To)
		data.predecessors[c.To] = append(data.predecessors[c.To], c.From)
	}

	provisional := &ComponentGraph{data: data, logger: g.logger}
	if corrector != nil {
		if verr := data.validate(); verr != nil {
			g.logger.Warn("Attempting to fix invalid component data", slog.Any("error", verr))
			corrector(provisional)
		}
	}
	if verr := data.validate(); verr != nil {
		g.logger.Error("Failed to parse component graph", slog.Any("error", verr))
		return verr
	}

	g.mu.Lock()
	g.data = data
	g.mu.Unlock()
	return nil
}

// AmendComponent replaces (or adds) the definition of a single component. It
// is intended for Corrector callbacks operating on a provisional graph; graphs
// already installed should only ever be replaced wholesale by RefreshFrom.
func (g *ComponentGraph) AmendComponent(c Component) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.data.components[c.ID] = c
}

// InDegree returns the number of connections into the given id, counting
// endpoints that have no component definition yet.
func (g *ComponentGraph) InDegree(id ComponentID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data.inDegree(id)
}

// OutDegree returns the number of connections out of the given id, counting
// endpoints that have no component definition yet.
func (g *ComponentGraph) OutDegree(id ComponentID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data.outDegree(id)
}

// Defined reports whether the given id has a component definition with a known
// category. Connection endpoints can appear in a provisional graph without
// one.
func (g *ComponentGraph) Defined(id ComponentID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.data.components[id]
	return ok && c.Category != CategoryUnspecified
}

// Validate checks that the currently installed graph data forms a valid
// microgrid. Graphs installed through RefreshFrom have always been validated
// already; this re-check is exposed for provisional graphs and tests.
func (g *ComponentGraph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data.validate()
}

func (d *graphData) validate() error {
	if err := d.validateGraph(); err != nil {
		return err
	}
	if err := d.validateRoot(); err != nil {
		return err
	}
	if err := d.validateGridEndpoint(); err != nil {
		return err
	}
	if err := d.validateIntermediaryComponents(); err != nil {
		return err
	}
	return d.validateLeafComponents()
}

// validateGraph checks the raw graph shape: non-empty, acyclic, every
// connection endpoint defined, no isolated components.
func (d *graphData) validateGraph() error {
	if len(d.components) == 0 {
		return invalidGraph("no components in graph")
	}
	if len(d.connections) == 0 {
		return invalidGraph("no connections in component graph")
	}
	if cycle := d.findCycle(); cycle != 0 {
		return invalidGraph("component graph is not a tree: cycle through component %d", cycle)
	}

	var undefined []ComponentID
	for id := range d.nodeIDs() {
		if c, ok := d.components[id]; !ok || c.Category == CategoryUnspecified {
			undefined = append(undefined, id)
		}
	}
	if len(undefined) > 0 {
		return invalidGraph("missing definition for graph components: %v", undefined)
	}

	for id := range d.components {
		if d.inDegree(id)+d.outDegree(id) == 0 {
			return invalidGraph("component %d has no connections", id)
		}
	}
	return nil
}

// findCycle returns an id participating in a cycle, or zero if the graph is
// acyclic, using recursive three-colour depth-first search.
func (d *graphData) findCycle() ComponentID {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[ComponentID]int)
	var visit func(id ComponentID) ComponentID
	visit = func(id ComponentID) ComponentID {
		colour[id] = grey
		for _, next := range d.successors[id] {
			switch colour[next] {
			case grey:
				return next
			case white:
				if hit := visit(next); hit != 0 {
					return hit
				}
			}
		}
		colour[id] = black
		return 0
	}
	for id := range d.nodeIDs() {
		if colour[id] == white {
			if hit := visit(id); hit != 0 {
				return hit
			}
		}
	}
	return 0
}

// validateRoot checks that among the components without predecessors there is
// exactly one of a root-capable category (GRID or NONE), and that it feeds at
// least one other component.
func (d *graphData) validateRoot() error {
	var roots []Component
	for id, c := range d.components {
		if d.inDegree(id) != 0 {
			continue
		}
		if c.Category == CategoryGrid || c.Category == CategoryNone {
			roots = append(roots, c)
		}
	}
	if len(roots) == 0 {
		return invalidGraph("no valid root nodes of component graph")
	}
	if len(roots) > 1 {
		return invalidGraph("multiple potential root nodes: %v", roots)
	}
	if d.outDegree(roots[0].ID) == 0 {
		return invalidGraph("graph root %s has no successors", roots[0])
	}
	return nil
}

// validateGridEndpoint checks that at most one grid endpoint exists and that,
// when present, it is the root of the tree.
func (d *graphData) validateGridEndpoint() error {
	var grids []Component
	for _, c := range d.components {
		if c.Category == CategoryGrid {
			grids = append(grids, c)
		}
	}
	if len(grids) == 0 {
		// A graph without a grid endpoint is an islanded microgrid; the root
		// checks still hold through a NONE-category root.
		return nil
	}
	if len(grids) > 1 {
		return invalidGraph("multiple grid endpoints in component graph: %v", grids)
	}
	grid := grids[0]
	if d.inDegree(grid.ID) > 0 {
		return invalidGraph("grid endpoint %d has graph predecessors", grid.ID)
	}
	if d.outDegree(grid.ID) == 0 {
		return invalidGraph("grid endpoint %d has no graph successors", grid.ID)
	}
	return nil
}

// validateIntermediaryComponents checks components that must sit between
// others in the tree: every inverter needs at least one predecessor.
func (d *graphData) validateIntermediaryComponents() error {
	var missing []Component
	for id, c := range d.components {
		if c.Category == CategoryInverter && d.inDegree(id) == 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return invalidGraph("intermediary components without graph predecessors: %v", missing)
	}
	return nil
}

// validateLeafComponents checks components that must be leaves of the tree:
// batteries and EV chargers have at least one predecessor and no successors.
func (d *graphData) validateLeafComponents() error {
	var missing, withSuccessors []Component
	for id, c := range d.components {
		if c.Category != CategoryBattery && c.Category != CategoryEVCharger {
			continue
		}
		if d.inDegree(id) == 0 {
			missing = append(missing, c)
		}
		if d.outDegree(id) > 0 {
			withSuccessors = append(withSuccessors, c)
		}
	}
	if len(missing) > 0 {
		return invalidGraph("leaf components without graph predecessors: %v", missing)
	}
	if len(withSuccessors) > 0 {
		return invalidGraph("leaf components with graph successors: %v", withSuccessors)
	}
	return nil
}

// CorrectImplicitGrid is a Corrector handling the case of graph data that is
// missing an explicit grid endpoint but has an implicit one: the API may
// report components connected to the grid as children of node 0 without ever
// listing node 0 itself (or listing it without a category). If node 0 exists
// as an endpoint, has no predecessors, at least one successor, and no defined
// category, it is promoted to a GRID component.
func CorrectImplicitGrid(g *ComponentGraph) {
	if g.InDegree(0) != 0 || g.OutDegree(0) == 0 || g.Defined(0) {
		return
	}
	g.AmendComponent(Component{ID: 0, Category: CategoryGrid})
}

// ------------------------------------------------------------------------
// Role predicates.

// IsGridMeter reports whether the component with the given id is a grid
// meter: a meter whose sole predecessor is the grid endpoint, the meter being
// the grid endpoint's only successor.
func (g *ComponentGraph) IsGridMeter(id ComponentID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data.isGridMeter(id)
}

func (d *graphData) isGridMeter(id ComponentID) bool {
	c, ok := d.components[id]
	if !ok || c.Category != CategoryMeter {
		return false
	}
	preds := d.predecessors[id]
	if len(preds) != 1 {
		return false
	}
	pred, ok := d.components[preds[0]]
	if !ok || pred.Category != CategoryGrid {
		return false
	}
	return d.outDegree(pred.ID) == 1
}

// isKindMeter implements the shared shape of the non-grid meter roles: a
// meter, not the grid meter, with a non-empty successor set in which every
// successor satisfies the kind predicate.
func (d *graphData) isKindMeter(id ComponentID, kind func(Component) bool) bool {
	c, ok := d.components[id]
	if !ok || c.Category != CategoryMeter || d.isGridMeter(id) {
		return false
	}
	succs := d.successors[id]
	if len(succs) == 0 {
		return false
	}
	for _, s := range succs {
		if !kind(d.components[s]) {
			return false
		}
	}
	return true
}

// IsBatteryMeter reports whether the component with the given id is a battery
// meter: a non-grid meter all of whose successors are battery inverters.
func (g *ComponentGraph) IsBatteryMeter(id ComponentID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data.isKindMeter(id, IsBatteryInverter)
}

// IsPVMeter reports whether the component with the given id is a PV meter: a
// non-grid meter all of whose successors are PV inverters.
func (g *ComponentGraph) IsPVMeter(id ComponentID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data.isKindMeter(id, IsPVInverter)
}

// IsEVChargerMeter reports whether the component with the given id is an EV
// charger meter: a non-grid meter all of whose successors are EV chargers.
func (g *ComponentGraph) IsEVChargerMeter(id ComponentID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data.isKindMeter(id, IsEVCharger)
}

// IsCHPMeter reports whether the component with the given id is a CHP meter:
// a non-grid meter all of whose successors are CHPs.
func (g *ComponentGraph) IsCHPMeter(id ComponentID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data.isKindMeter(id, IsCHP)
}

// BatteryInverter returns the inverter feeding the given battery: the
// battery's single predecessor. It returns an UnknownComponentError for ids
// not in the graph, and an *InvalidGraphError if the id does not denote a
// battery with exactly one inverter predecessor.
func (g *ComponentGraph) BatteryInverter(batteryID ComponentID) (Component, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.data.components[batteryID]
	if !ok {
		return Component{}, &UnknownComponentError{ID: batteryID}
	}
	if c.Category != CategoryBattery {
		return Component{}, invalidGraph("component %d is %s, not a battery", batteryID, c.Category)
	}
	preds := g.data.predecessors[batteryID]
	if len(preds) != 1 {
		return Component{}, invalidGraph("battery %d has %d predecessors, expected exactly one inverter", batteryID, len(preds))
	}
	inverter := g.data.components[preds[0]]
	if inverter.Category != CategoryInverter {
		return Component{}, invalidGraph("predecessor of battery %d is %s, not an inverter", batteryID, inverter.Category)
	}
	return inverter, nil
}
