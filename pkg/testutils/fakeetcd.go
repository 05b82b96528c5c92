package testutils

import (
	"context"
	"sort"
	"sync"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// FakeEtcd is an in-memory stand-in for the KV, Watcher and Lease parts of
// an etcd client. Only the calls used by this repository are implemented,
// anything else panics through the nil embedded interfaces.
type FakeEtcd struct {
	clientv3.KV
	clientv3.Watcher
	clientv3.Lease

	lock     sync.Mutex
	data     map[string]*mvccpb.KeyValue
	rev      int64
	leaseID  clientv3.LeaseID
	watchers []*fakeWatch

	// Err is returned by every KV and Lease call when set.
	Err error
	// Grants records the TTL of every granted lease.
	Grants []int64
}

type fakeWatch struct {
	ctx        context.Context
	start, end string
	ch         chan clientv3.WatchResponse
}

func NewFakeEtcd() *FakeEtcd {
	return &FakeEtcd{data: map[string]*mvccpb.KeyValue{}}
}

func (f *FakeEtcd) Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.rev++
	kv := &mvccpb.KeyValue{Key: []byte(key), Value: []byte(val), ModRevision: f.rev}
	if old, ok := f.data[key]; ok {
		kv.CreateRevision = old.CreateRevision
	} else {
		kv.CreateRevision = f.rev
	}
	f.data[key] = kv

	resp := clientv3.WatchResponse{Events: []*clientv3.Event{{Type: mvccpb.PUT, Kv: kv}}}
	for _, w := range f.watchers {
		if !inRange(key, w.start, w.end) {
			continue
		}
		select {
		case w.ch <- resp:
		case <-w.ctx.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &clientv3.PutResponse{}, nil
}

func (f *FakeEtcd) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	op := clientv3.OpGet(key, opts...)
	end := string(op.RangeBytes())

	var keys []string
	for k := range f.data {
		if inRange(k, key, end) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	resp := &clientv3.GetResponse{Count: int64(len(keys))}
	for _, k := range keys {
		resp.Kvs = append(resp.Kvs, f.data[k])
	}
	return resp, nil
}

func (f *FakeEtcd) Delete(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	_, ok := f.data[key]
	delete(f.data, key)
	resp := &clientv3.DeleteResponse{}
	if ok {
		resp.Deleted = 1
	}
	return resp, nil
}

func (f *FakeEtcd) Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan {
	op := clientv3.OpGet(key, opts...)
	w := &fakeWatch{
		ctx:   ctx,
		start: key,
		end:   string(op.RangeBytes()),
		ch:    make(chan clientv3.WatchResponse, 16),
	}
	f.lock.Lock()
	f.watchers = append(f.watchers, w)
	f.lock.Unlock()

	go func() {
		<-ctx.Done()
		f.lock.Lock()
		defer f.lock.Unlock()
		for i, other := range f.watchers {
			if other == w {
				f.watchers = append(f.watchers[:i], f.watchers[i+1:]...)
				break
			}
		}
		close(w.ch)
	}()
	return w.ch
}

// Close satisfies both clientv3.Watcher and clientv3.Lease.
func (f *FakeEtcd) Close() error {
	return nil
}

// WatcherCount returns the number of open watches.
func (f *FakeEtcd) WatcherCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.watchers)
}

func (f *FakeEtcd) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.leaseID++
	f.Grants = append(f.Grants, ttl)
	return &clientv3.LeaseGrantResponse{ID: f.leaseID, TTL: ttl}, nil
}

// Keys returns all stored keys in lexical order.
func (f *FakeEtcd) Keys() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// inRange mirrors etcd range semantics, with "\x00" meaning "to the end of
// the keyspace" and an empty end meaning the single key.
func inRange(key, start, end string) bool {
	switch end {
	case "":
		return key == start
	case "\x00":
		return key >= start
	}
	return key >= start && key < end
}
