package catalogstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	etcdclientv3 "go.etcd.io/etcd/clientv3"
	"github.com/pkg/errors"

	"postgrespro.ru/pgautofailover/internal/catalog"
)

// Store persists and restores a monitor's catalog.Snapshot, the same way
// the teacher's ClusterStoreImpl persists repgroup metadata: one JSON blob
// under a cluster-scoped path.
type Store struct {
	storePath string
	store     *etcdV3Store
}

// Config configures a Store. Endpoints defaults to DefaultEndpoints when
// empty; TLS is optional (nil means a plaintext connection, matching the
// teacher's NewClusterStore which always passes TLS: nil).
type Config struct {
	Endpoints   []string
	ClusterName string
	TLS         *etcdclientv3.Config
}

func NewStore(cfg Config) (*Store, error) {
	endpoints := cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	s, err := newEtcdV3Store(endpoints, cfg.TLS)
	if err != nil {
		return nil, errors.Wrap(err, "connect to etcd")
	}
	clusterName := cfg.ClusterName
	if clusterName == "" {
		clusterName = "default"
	}
	storePath := filepath.Join("pgautofailover", clusterName)
	return &Store{storePath: storePath, store: s}, nil
}

// NewStoreFromEndpointsString is a convenience constructor matching the
// teacher's cfg.StoreEndpoints comma-separated flag convention.
func NewStoreFromEndpointsString(endpointsCSV, clusterName string) (*Store, error) {
	var endpoints []string
	if endpointsCSV != "" {
		endpoints = strings.Split(endpointsCSV, ",")
	}
	return NewStore(Config{Endpoints: endpoints, ClusterName: clusterName})
}

// SaveSnapshot marshals snap and writes it under the store's snapshot key.
func (s *Store) SaveSnapshot(ctx context.Context, snap catalog.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal catalog snapshot")
	}
	return s.store.Put(ctx, filepath.Join(s.storePath, "snapshot"), data)
}

// LoadSnapshot reads back the last snapshot saved by SaveSnapshot. Returns
// (nil, nil, nil) if no snapshot has ever been saved for this cluster name.
func (s *Store) LoadSnapshot(ctx context.Context) (*catalog.Snapshot, *KVPair, error) {
	pair, err := s.store.Get(ctx, filepath.Join(s.storePath, "snapshot"))
	if err != nil {
		return nil, nil, errors.Wrap(err, "get catalog snapshot")
	}
	if pair == nil {
		return nil, nil, nil
	}
	var snap catalog.Snapshot
	if err := json.Unmarshal(pair.Value, &snap); err != nil {
		return nil, nil, errors.Wrap(err, "unmarshal catalog snapshot")
	}
	return &snap, pair, nil
}

func (s *Store) Close() error {
	return s.store.Close()
}
