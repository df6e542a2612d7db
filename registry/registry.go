// Package registry resolves node endpoints for a chain from a shared
// registry, as an alternative to passing the address on the command line.
package registry

import (
	"fmt"
	"sync/atomic"
)

// NodeInstance describes one registered node endpoint.
type NodeInstance struct {
	Addr        string // WebSocket address, e.g. ws://10.0.0.5:9944
	GenesisHash string // Hex genesis hash of the chain the node serves
	Version     string // Advertised node software version, informational
}

// Registry stores and resolves node endpoints keyed by chain name.
type Registry interface {
	Register(chain string, instance NodeInstance, ttl int64) error
	Deregister(chain string, addr string) error
	Discover(chain string) ([]NodeInstance, error)
	Watch(chain string) <-chan []NodeInstance
}

// Picker selects one instance out of a discovered set.
type Picker interface {
	Pick(instances []NodeInstance) (*NodeInstance, error)
}

// RoundRobinPicker cycles through instances in order, using an atomic
// counter for lock-free goroutine-safe selection.
type RoundRobinPicker struct {
	counter int64
}

// Pick returns the next instance in round-robin order.
func (p *RoundRobinPicker) Pick(instances []NodeInstance) (*NodeInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no node instances available")
	}
	index := atomic.AddInt64(&p.counter, 1) % int64(len(instances))
	return &instances[index], nil
}
