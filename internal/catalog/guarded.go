package catalog

import (
	"context"

	"github.com/platemate/order-core/internal/circuitbreaker"
)

// GuardedClient routes catalog fetches through a circuit breaker so a
// misbehaving catalog service sheds load instead of queueing timeouts.
type GuardedClient struct {
	client  *Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewGuardedClient(client *Client, breaker *circuitbreaker.CircuitBreaker) *GuardedClient {
	return &GuardedClient{client: client, breaker: breaker}
}

func (g *GuardedClient) FetchBranchCatalog(ctx context.Context, restaurantID string) (*Catalog, error) {
	var cat *Catalog
	err := g.breaker.Execute(func() error {
		var fetchErr error
		cat, fetchErr = g.client.FetchBranchCatalog(ctx, restaurantID)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	return cat, nil
}
