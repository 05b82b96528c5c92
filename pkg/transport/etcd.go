package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"k8s.io/apimachinery/pkg/util/uuid"
	"k8s.io/klog/v2"
)

const DefaultEventTTL = 5 * time.Minute

// EtcdClient is the part of the etcd client used by the transport.
type EtcdClient interface {
	clientv3.KV
	clientv3.Watcher
	clientv3.Lease
}

// Etcd is a Transport storing every payload under
// <prefix>/<channel>/<sortable id> with a lease so stale events expire.
// Consumers watch the channel prefix and receive new puts.
type Etcd struct {
	client EtcdClient
	prefix string
	ttl    time.Duration

	lock    sync.Mutex
	closed  bool
	cancels map[int]context.CancelFunc
	nextID  int
}

// NewEtcd returns an etcd backed Transport. A zero ttl means DefaultEventTTL.
func NewEtcd(client EtcdClient, prefix string, ttl time.Duration) *Etcd {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	return &Etcd{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		ttl:     ttl,
		cancels: map[int]context.CancelFunc{},
	}
}

func (e *Etcd) channelKey(channel string) string {
	return e.prefix + "/" + channel + "/"
}

func (e *Etcd) Send(ctx context.Context, channel string, payload []byte) error {
	if e.isClosed() {
		return ErrClosed
	}
	lease, err := e.client.Grant(ctx, int64(e.ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to grant lease for channel %s: %w", channel, err)
	}
	key := fmt.Sprintf("%s%020d-%s", e.channelKey(channel), time.Now().UnixNano(), uuid.NewUUID())
	if _, err := e.client.Put(ctx, key, string(payload), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to put event on channel %s: %w", channel, err)
	}
	klog.V(4).Infof("sent %d bytes on channel %s as %s", len(payload), channel, key)
	return nil
}

func (e *Etcd) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	e.lock.Lock()
	if e.closed {
		e.lock.Unlock()
		return nil, ErrClosed
	}
	watchCtx, cancel := context.WithCancel(ctx)
	id := e.nextID
	e.nextID++
	e.cancels[id] = cancel
	e.lock.Unlock()

	out := make(chan []byte, defaultBufferSize)
	watchChan := e.client.Watch(clientv3.WithRequireLeader(watchCtx), e.channelKey(channel), clientv3.WithPrefix())

	go func() {
		defer func() {
			e.lock.Lock()
			delete(e.cancels, id)
			e.lock.Unlock()
			cancel()
			close(out)
		}()
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				klog.Warningf("watch on channel %s ended: %v", channel, err)
				return
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				select {
				case out <- ev.Kv.Value:
				case <-watchCtx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (e *Etcd) isClosed() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.closed
}

// Close stops all watches. The etcd client itself is owned by the caller.
func (e *Etcd) Close() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.closed = true
	for _, cancel := range e.cancels {
		cancel()
	}
	return nil
}
