package idgen

import (
	"strconv"
	"strings"
	"sync"
	"testing"
)

func TestNextWithoutPrefix(t *testing.T) {
	g := New("")

	for i := 1; i <= 40; i++ {
		want := strconv.FormatUint(uint64(i), Radix)
		if got := g.Next(); got != want {
			t.Fatalf("id %d: got %s, want %s", i, got, want)
		}
	}
}

func TestNextWithPrefix(t *testing.T) {
	g := New("svc")

	if got := g.Next(); got != "svc.1" {
		t.Fatalf("expect svc.1, got %s", got)
	}
	if got := g.Next(); got != "svc.2" {
		t.Fatalf("expect svc.2, got %s", got)
	}
	if g.Count() != 2 {
		t.Fatalf("expect count 2, got %d", g.Count())
	}
}

func TestMonotonic(t *testing.T) {
	for _, prefix := range []string{"", "a", "host-xyz.3"} {
		g := New(prefix)
		var last uint64
		for i := 0; i < 1000; i++ {
			id := g.Next()
			tail := id
			if prefix != "" {
				if !strings.HasPrefix(id, prefix+Join) {
					t.Fatalf("id %s does not carry prefix %s", id, prefix)
				}
				tail = strings.TrimPrefix(id, prefix+Join)
			}
			n, err := strconv.ParseUint(tail, Radix, 64)
			if err != nil {
				t.Fatalf("parse %s: %v", tail, err)
			}
			if n <= last {
				t.Fatalf("counter not increasing: %d after %d", n, last)
			}
			last = n
		}
	}
}

func TestChildNesting(t *testing.T) {
	svc := New("host-1")
	conn := svc.Child()
	if conn.Prefix() != "host-1.1" {
		t.Fatalf("expect connection prefix host-1.1, got %s", conn.Prefix())
	}
	if got := conn.Next(); got != "host-1.1.1" {
		t.Fatalf("expect host-1.1.1, got %s", got)
	}

	// Generators never share state.
	other := svc.Child()
	if got := other.Next(); got != "host-1.2.1" {
		t.Fatalf("expect host-1.2.1, got %s", got)
	}
	if conn.Count() != 1 {
		t.Fatalf("sibling generator changed count: %d", conn.Count())
	}
}

func TestConcurrentNoRepeats(t *testing.T) {
	g := New("c")
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := g.Next()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 4000 {
		t.Fatalf("expect 4000 ids, got %d", len(seen))
	}
}
