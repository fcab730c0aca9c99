package microgrid

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// APIClient is the contract of the remote microgrid API from which graph data
// is fetched. Implementations live outside this module; microgridtest ships a
// static one for tests.
type APIClient interface {
	// Components lists the components of the microgrid.
	Components(ctx context.Context) ([]Component, error)
	// Connections lists the connections between components.
	Connections(ctx context.Context) ([]Connection, error)
}

// RefreshFromAPI refreshes the contents of the component graph from the
// remote API. Components and connections are fetched concurrently; a fetch
// failure propagates as a refresh error and leaves the current graph intact.
func (g *ComponentGraph) RefreshFromAPI(ctx context.Context, client APIClient, corrector Corrector) error {
	var (
		components  []Component
		connections []Connection
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		components, err = client.Components(ctx)
		if err != nil {
			return fmt.Errorf("fetch components: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		connections, err = client.Connections(ctx)
		if err != nil {
			return fmt.Errorf("fetch connections: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	return g.RefreshFrom(components, connections, corrector)
}
