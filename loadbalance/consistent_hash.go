package loadbalance

import (
	"fmt"
	"hash/crc32"
	"socketrpc/registry"
	"sort"
	"sync"
)

// ConsistentHashBalancer maps caller keys onto a hash ring of instances.
// Each instance owns `replicas` virtual nodes so load spreads evenly. The ring
// is rebuilt whenever the instance set changes.
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.Mutex
	sig   string
	ring  []uint32
	nodes map[uint32]int // hash → index into the last instance slice
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebuild(instances)

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return &instances[b.nodes[b.ring[idx]]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

// rebuild places every instance on the ring unless the set is unchanged.
// Caller holds mu.
func (b *ConsistentHashBalancer) rebuild(instances []registry.ServiceInstance) {
	sig := ""
	for _, inst := range instances {
		sig += inst.Key() + "|"
	}
	if sig == b.sig {
		return
	}

	b.sig = sig
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]int, len(instances)*b.replicas)
	for i, inst := range instances {
		for r := 0; r < b.replicas; r++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Key(), r)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = i
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}
