// Package idgen produces hierarchical string identifiers from a monotonic counter.
//
// Identifiers are built by nesting prefixes: a service generator hands out
// connection ids, and each connection owns a generator prefixed with its own id
// that hands out request ids:
//
//	host-lq2x9k0c           service
//	host-lq2x9k0c.1         connection 1
//	host-lq2x9k0c.1.a       request 10 on connection 1
package idgen

import (
	"strconv"
	"sync/atomic"
)

const (
	// Radix is the base used to format counter values.
	Radix = 36
	// Join separates a prefix from the counter value.
	Join = "."
)

// Generator is a monotonic counter. Generators never share state, and a single
// generator is safe for concurrent use.
type Generator struct {
	prefix string
	count  atomic.Uint64
}

// New returns a generator whose ids are prefix + Join + counter.
// An empty prefix yields the bare counter.
func New(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// Next increments the counter and returns the new id.
func (g *Generator) Next() string {
	n := g.count.Add(1)
	return g.format(n)
}

// Child returns a fresh generator nested under the next id of g.
// It is how a connection namespace is derived from a service generator.
func (g *Generator) Child() *Generator {
	return New(g.Next())
}

// Count returns how many ids have been produced so far.
func (g *Generator) Count() uint64 {
	return g.count.Load()
}

// Prefix returns the prefix ids are nested under.
func (g *Generator) Prefix() string {
	return g.prefix
}

func (g *Generator) format(n uint64) string {
	v := strconv.FormatUint(n, Radix)
	if g.prefix == "" {
		return v
	}
	return g.prefix + Join + v
}
