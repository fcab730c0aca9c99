package microgrid

import (
	"slices"
)

// DFS searches the graph depth-first from the given start component for
// components that fulfill the predicate. Traversal stops descending into a
// node once the predicate matches it, so the result holds the shallowest
// matching components along each path.
//
// The visited set is threaded through recursive calls to prevent re-work;
// callers start a fresh search with an empty (or nil-initialised) map and may
// share the set between searches that must not revisit nodes. Successor lists
// keep the insertion order of the connections they came from, so the
// traversal order is stable.
func DFS(g *ComponentGraph, start Component, visited map[ComponentID]struct{}, predicate func(Component) bool) map[ComponentID]Component {
	found := make(map[ComponentID]Component)
	dfs(g, start, visited, predicate, found)
	return found
}

func dfs(g *ComponentGraph, current Component, visited map[ComponentID]struct{}, predicate func(Component) bool, found map[ComponentID]Component) {
	if _, seen := visited[current.ID]; seen {
		return
	}
	visited[current.ID] = struct{}{}

	if predicate(current) {
		found[current.ID] = current
		return
	}

	successors, err := g.Successors(current.ID)
	if err != nil {
		// The start component may come from an older graph revision; a node
		// that is gone has nothing to descend into.
		return
	}
	for _, successor := range successors {
		dfs(g, successor, visited, predicate, found)
	}
}

// FindFirstDescendantComponent searches for the root component within the
// provided root category (an arbitrary one if multiple share it), sorts its
// immediate successors by component id, and returns the first successor whose
// category is the earliest entry of descendantCategories that yields a hit.
//
// The priority of the component to search for is determined by the order of
// the descendant categories, with the first category having the highest
// priority.
//
// It returns a *NoMatchingDescendantError when no component of the root
// category exists or when none of the immediate successors matches any of the
// descendant categories.
func FindFirstDescendantComponent(g *ComponentGraph, rootCategory ComponentCategory, descendantCategories []ComponentCategory) (Component, error) {
	candidates := g.Components(rootCategory, InverterTypeUnspecified)
	if len(candidates) == 0 {
		return Component{}, &NoMatchingDescendantError{
			RootCategory:         rootCategory,
			DescendantCategories: descendantCategories,
			Reason:               "root component not found",
		}
	}
	root := candidates[0]

	successors, err := g.Successors(root.ID)
	if err != nil {
		return Component{}, &NoMatchingDescendantError{
			RootCategory:         rootCategory,
			DescendantCategories: descendantCategories,
			Reason:               "root component vanished from graph",
		}
	}
	// Sort by component id to ensure consistent results.
	slices.SortFunc(successors, func(a, b Component) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	for _, category := range descendantCategories {
		for _, successor := range successors {
			if successor.Category == category {
				return successor, nil
			}
		}
	}
	return Component{}, &NoMatchingDescendantError{
		RootCategory:         rootCategory,
		DescendantCategories: descendantCategories,
		Reason:               "component not found in any of the descendant categories",
	}
}

// IsBatteryChain reports whether the component is part of a battery chain: it
// is either a battery inverter or a battery meter.
func IsBatteryChain(g *ComponentGraph, c Component) bool {
	return IsBatteryInverter(c) || g.IsBatteryMeter(c.ID)
}

// IsPVChain reports whether the component is part of a PV chain: it is either
// a PV inverter or a PV meter.
func IsPVChain(g *ComponentGraph, c Component) bool {
	return IsPVInverter(c) || g.IsPVMeter(c.ID)
}

// IsEVChargerChain reports whether the component is part of an EV charger
// chain: it is either an EV charger or an EV charger meter.
func IsEVChargerChain(g *ComponentGraph, c Component) bool {
	return IsEVCharger(c) || g.IsEVChargerMeter(c.ID)
}

// IsCHPChain reports whether the component is part of a CHP chain: it is
// either a CHP or a CHP meter.
func IsCHPChain(g *ComponentGraph, c Component) bool {
	return IsCHP(c) || g.IsCHPMeter(c.ID)
}
