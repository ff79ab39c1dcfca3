// Package catalogstore persists monitor catalog snapshots to etcd, so a
// restarted monitor doesn't start from an empty catalog. Grounded on the
// teacher's internal/store package: etcdv3.go's small Put/Get/Close
// wrapper around clientv3, carried over near-verbatim because the wrapper
// itself is domain-agnostic, with store.go's higher-level
// marshal/store/unmarshal flow retargeted from cluster repgroup data onto
// catalog.Snapshot.
package catalogstore

import (
	"context"
	"time"

	etcdclientv3 "go.etcd.io/etcd/clientv3"
)

const requestTimeout = 5 * time.Second

// DefaultEndpoints mirrors the teacher's DefaultEtcdEndpoints.
var DefaultEndpoints = []string{"http://127.0.0.1:2379"}

// KVPair represents a {Key, Value, LastIndex} tuple, LastIndex being the
// etcd mod revision — useful for an optimistic-concurrency Put later, not
// exercised by the monitor today since it is the only writer to its own
// snapshot key.
type KVPair struct {
	Key       string
	Value     []byte
	LastIndex uint64
}

type etcdV3Store struct {
	c *etcdclientv3.Client
}

func newEtcdV3Store(endpoints []string, tlsConfig *etcdclientv3.Config) (*etcdV3Store, error) {
	cfg := etcdclientv3.Config{Endpoints: endpoints}
	if tlsConfig != nil {
		cfg = *tlsConfig
		cfg.Endpoints = endpoints
	}
	cli, err := etcdclientv3.New(cfg)
	if err != nil {
		return nil, err
	}
	return &etcdV3Store{c: cli}, nil
}

func (s *etcdV3Store) Put(pctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(pctx, requestTimeout)
	defer cancel()
	_, err := s.c.Put(ctx, key, string(value))
	return err
}

func (s *etcdV3Store) Get(pctx context.Context, key string) (*KVPair, error) {
	ctx, cancel := context.WithTimeout(pctx, requestTimeout)
	defer cancel()
	resp, err := s.c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	kv := resp.Kvs[0]
	return &KVPair{Key: string(kv.Key), Value: kv.Value, LastIndex: uint64(kv.ModRevision)}, nil
}

func (s *etcdV3Store) Close() error {
	return s.c.Close()
}
