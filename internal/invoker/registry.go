// Package invoker implements resilient HTTP calls to the console's backend
// services, with circuit breaking, retries, rate limiting and a check of
// each backend's published contract.
package invoker

import (
	"fmt"
	"sort"

	"github.com/pitabwire/sentinel/internal/config"
)

// Service ids of the configured backends.
const (
	ServiceBank = "bank"
	ServiceFeed = "feed"
)

// Registry holds one Client per backend service.
type Registry struct {
	clients map[string]*Client
}

// NewRegistry creates a client for every configured service.
func NewRegistry(services config.ServicesConfig, opts ...Option) *Registry {
	r := &Registry{clients: make(map[string]*Client)}
	r.Register(NewClient(ServiceBank, services.Bank, opts...))
	r.Register(NewClient(ServiceFeed, services.Feed, opts...))
	return r
}

// Register adds a client under its service id, replacing any previous one.
func (r *Registry) Register(c *Client) {
	r.clients[c.ServiceID()] = c
}

// Get returns the client for serviceID.
func (r *Registry) Get(serviceID string) (*Client, error) {
	c, ok := r.clients[serviceID]
	if !ok {
		return nil, fmt.Errorf("invoker: service %q not configured", serviceID)
	}
	return c, nil
}

// MustGet returns the client for serviceID and panics when it is missing,
// which indicates a wiring mistake at startup.
func (r *Registry) MustGet(serviceID string) *Client {
	c, err := r.Get(serviceID)
	if err != nil {
		panic(err)
	}
	return c
}

// Services returns the registered service ids, sorted.
func (r *Registry) Services() []string {
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BreakerStates reports the circuit breaker state of every service.
func (r *Registry) BreakerStates() map[string]string {
	out := make(map[string]string, len(r.clients))
	for id, c := range r.clients {
		out[id] = c.BreakerState()
	}
	return out
}
