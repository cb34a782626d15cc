// Package registry keeps track of where live services can be reached.
//
// A service registers one ServiceInstance per process under its service name
// when it starts listening and removes it when it stops. Callers discover the
// instances of a name and let a load balancer pick one address.
package registry

import "context"

// ServiceInstance describes one running service process.
type ServiceInstance struct {
	ID      string `json:"id"`   // Service id, unique per process
	Addr    string `json:"addr"` // host:port or socket path, as accepted by Dial
	Weight  int    `json:"weight,omitempty"`
	Version string `json:"version,omitempty"`
}

// Key returns the identity the instance is stored under.
func (i ServiceInstance) Key() string {
	if i.ID != "" {
		return i.ID
	}
	return i.Addr
}

// Registry stores service instances by service name.
type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, instance ServiceInstance) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
