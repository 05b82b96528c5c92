package kvstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/etcd/client/pkg/v3/transport"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"k8s.io/klog/v2"
)

const DefaultDialTimeout = 15 * time.Second

// EtcdClientConfig describes how to reach the etcd cluster backing the
// subscription table and the event transport.
type EtcdClientConfig struct {
	Endpoints     []string
	DialTimeout   time.Duration
	CertFile      string
	KeyFile       string
	TrustedCAFile string
}

// NewEtcdClient dials etcd and blocks until the connection is up or the dial
// timeout expires.
func NewEtcdClient(cfg EtcdClientConfig, logger *zap.Logger) (*clientv3.Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints configured")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}

	clientCfg := clientv3.Config{
		DialOptions: []grpc.DialOption{
			grpc.WithBlock(), // block until the underlying connection is up
		},
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger,
	}
	if cfg.CertFile != "" || cfg.TrustedCAFile != "" {
		tlsInfo := transport.TLSInfo{
			CertFile:      cfg.CertFile,
			KeyFile:       cfg.KeyFile,
			TrustedCAFile: cfg.TrustedCAFile,
		}
		tlsConfig, err := tlsInfo.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load etcd client TLS config: %w", err)
		}
		clientCfg.TLS = tlsConfig
	}

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client for %v: %w", cfg.Endpoints, err)
	}
	klog.V(2).Infof("connected to etcd endpoints %v", cfg.Endpoints)
	return cli, nil
}

type etcdStore struct {
	kv     clientv3.KV
	prefix string
}

// NewEtcd returns a Store persisting keys below prefix through kv.
func NewEtcd(kv clientv3.KV, prefix string) Store {
	return &etcdStore{kv: kv, prefix: strings.TrimSuffix(prefix, "/")}
}

func (e *etcdStore) key(k string) string {
	if e.prefix == "" {
		return k
	}
	return e.prefix + "/" + k
}

func (e *etcdStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := e.kv.Get(ctx, e.key(key))
	if err != nil {
		return nil, fmt.Errorf("etcd get %q: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (e *etcdStore) Set(ctx context.Context, key string, value []byte) error {
	if _, err := e.kv.Put(ctx, e.key(key), string(value)); err != nil {
		return fmt.Errorf("etcd put %q: %w", key, err)
	}
	return nil
}

func (e *etcdStore) Delete(ctx context.Context, key string) error {
	if _, err := e.kv.Delete(ctx, e.key(key)); err != nil {
		return fmt.Errorf("etcd delete %q: %w", key, err)
	}
	return nil
}

func (e *etcdStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	resp, err := e.kv.Get(ctx, e.key(prefix), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd list %q: %w", prefix, err)
	}
	out := make(map[string][]byte, len(resp.Kvs))
	strip := ""
	if e.prefix != "" {
		strip = e.prefix + "/"
	}
	for _, kv := range resp.Kvs {
		out[strings.TrimPrefix(string(kv.Key), strip)] = kv.Value
	}
	return out, nil
}
