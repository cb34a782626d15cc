// Package loadbalance picks one service instance out of a discovered set.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  instances with different capacity
//   - ConsistentHash:  sticky placement, the same key lands on the same instance
package loadbalance

import (
	"socketrpc/registry"

	"github.com/pkg/errors"
)

// ErrNoInstances is returned when there is nothing to pick from.
var ErrNoInstances = errors.New("no instances available")

// Balancer selects an instance for a new connection.
// key identifies the caller; strategies that do not need it ignore it.
type Balancer interface {
	Pick(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error)
	Name() string
}

// New returns the balancer registered under name, or round robin for an
// unknown name.
func New(name string) Balancer {
	switch name {
	case "weighted", "WeightedRandom":
		return &WeightedRandomBalancer{}
	case "hash", "ConsistentHash":
		return NewConsistentHashBalancer()
	default:
		return &RoundRobinBalancer{}
	}
}
