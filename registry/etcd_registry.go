package registry

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/node-probe/"

// EtcdRegistry implements Registry on etcd v3.
//
// Layout in etcd:
//
//	Key:   /node-probe/{chain}/{addr}
//	Value: JSON-encoded NodeInstance
//
// Registration uses TTL-based leases: if the registering node crashes, the
// lease expires and the entry disappears on its own, so clients never
// discover dead endpoints for long.
type EtcdRegistry struct {
	client *clientv3.Client // Thread-safe, shared across goroutines
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

// Register adds a node endpoint under the chain with a TTL lease and keeps
// the lease alive in the background.
func (r *EtcdRegistry) Register(chain string, instance NodeInstance, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, keyPrefix+chain+"/"+instance.Addr, string(val),
		clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	// Drain KeepAlive responses so the channel never fills up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes a node endpoint.
func (r *EtcdRegistry) Deregister(chain string, addr string) error {
	_, err := r.client.Delete(context.TODO(), keyPrefix+chain+"/"+addr)
	return err
}

// Discover returns all currently registered endpoints for a chain.
func (r *EtcdRegistry) Discover(chain string) ([]NodeInstance, error) {
	resp, err := r.client.Get(context.TODO(), keyPrefix+chain+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]NodeInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance NodeInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch emits the full endpoint list for a chain whenever it changes.
func (r *EtcdRegistry) Watch(chain string) <-chan []NodeInstance {
	ch := make(chan []NodeInstance, 1)

	go func() {
		watchChan := r.client.Watch(context.TODO(), keyPrefix+chain+"/", clientv3.WithPrefix())
		for range watchChan {
			instances, _ := r.Discover(chain)
			ch <- instances
		}
	}()

	return ch
}
