// etcd-backed Registry.
//
//	Key:   /socketrpc/{ServiceName}/{InstanceKey}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL leases: if the service process dies, the lease expires
// and the entry disappears on its own.
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// KeyPrefix is the root of every key written by EtcdRegistry.
const KeyPrefix = "/socketrpc/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client

	mu     sync.Mutex
	leases map[string]registration // by instance key
}

type registration struct {
	lease  clientv3.LeaseID
	cancel context.CancelFunc
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect etcd")
	}
	return &EtcdRegistry{client: c, leases: make(map[string]registration)}, nil
}

func serviceKey(serviceName, instanceKey string) string {
	return KeyPrefix + serviceName + "/" + instanceKey
}

func servicePrefix(serviceName string) string {
	return KeyPrefix + serviceName + "/"
}

// Register stores instance under a lease of ttl seconds and keeps the lease
// alive until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "grant lease")
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := serviceKey(serviceName, instance.Key())
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}

	// The keepalive outlives ctx, it is stopped by Deregister.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return errors.Wrap(err, "keep lease alive")
	}
	go func() {
		for range ch {
		}
		log.WithField("key", key).Debug("registry lease keepalive stopped")
	}()

	r.mu.Lock()
	if prev, ok := r.leases[instance.Key()]; ok {
		prev.cancel()
	}
	r.leases[instance.Key()] = registration{lease: lease.ID, cancel: cancel}
	r.mu.Unlock()
	return nil
}

// Deregister removes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, instance ServiceInstance) error {
	r.mu.Lock()
	reg, ok := r.leases[instance.Key()]
	delete(r.leases, instance.Key())
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, serviceKey(serviceName, instance.Key())); err != nil {
		return errors.Wrap(err, "delete instance")
	}
	if ok {
		reg.cancel()
		if _, err := r.client.Revoke(ctx, reg.lease); err != nil {
			return errors.Wrap(err, "revoke lease")
		}
	}
	return nil
}

// Discover returns every instance currently registered under serviceName.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "discover")
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			log.WithField("key", string(kv.Key)).Warn("skipping malformed registry entry")
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch emits the full instance list of serviceName after every change, until
// ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, servicePrefix(serviceName), clientv3.WithPrefix()) {
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close stops every keepalive and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for key, reg := range r.leases {
		reg.cancel()
		delete(r.leases, key)
	}
	r.mu.Unlock()
	return r.client.Close()
}
