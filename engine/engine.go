// Package engine is a single node Executor implementation. Collection
// metadata lives in a kv store as raw json records, snapshot archives live on
// the local filesystem. It has no cross peer coordination - shard placement
// changes record intent that a replication driver would act on.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nqd/flat"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"github.com/stratabase/strata"
	"github.com/stratabase/strata/errors"
	"github.com/stratabase/strata/internal/locks"
	"github.com/stratabase/strata/kv"
	_ "github.com/stratabase/strata/kv/badger"
	"github.com/stratabase/strata/kv/kvutil"
	"github.com/stratabase/strata/kv/registry"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	collectionPrefix = "collections"
	aliasPrefix      = "aliases"
)

type placement struct {
	PeerID uint64              `json:"peer_id"`
	State  strata.ReplicaState `json:"state"`
}

type clusterState struct {
	ShardCount int                        `json:"shard_count"`
	Placements map[string][]placement     `json:"placements"`
	Transfers  []strata.ShardTransferInfo `json:"transfers"`
}

// record is the persisted form of a collection
type record struct {
	Name      string                  `json:"name"`
	Status    strata.CollectionStatus `json:"status"`
	Config    strata.CollectionConfig `json:"config"`
	Cluster   clusterState            `json:"cluster"`
	CreatedAt time.Time               `json:"created_at"`
}

type aliasRecord struct {
	AliasName      string `json:"alias_name"`
	CollectionName string `json:"collection_name"`
}

// Engine is a single node Executor backed by a kv store and the local filesystem
type Engine struct {
	db        kv.DB
	snapshots string
	peerID    uint64
	logger    strata.Logger
	locks     *locks.Keyed
}

// Opt is an option for configuring an engine
type Opt func(e *Engine)

// WithLogger overrides the engine's default logger
func WithLogger(logger strata.Logger) Opt {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSnapshotsPath sets the directory snapshot archives live under
func WithSnapshotsPath(dir string) Opt {
	return func(e *Engine) {
		e.snapshots = dir
	}
}

// WithPeerID sets the peer id the engine answers cluster queries with
func WithPeerID(id uint64) Opt {
	return func(e *Engine) {
		e.peerID = id
	}
}

// New opens a single node executor backed by the named kv provider
func New(ctx context.Context, provider string, providerParams map[string]any, opts ...Opt) (*Engine, error) {
	db, err := registry.Open(provider, providerParams)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to open %s storage", provider)
	}
	e := &Engine{
		db:     db,
		peerID: 1,
		locks:  locks.NewKeyed(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		logger, err := strata.NewLogger("info", map[string]any{"service": "strata.engine"})
		if err != nil {
			return nil, err
		}
		e.logger = logger
	}
	if e.snapshots == "" {
		storagePath := cast.ToString(providerParams["storage_path"])
		if storagePath == "" {
			e.snapshots = filepath.Join(os.TempDir(), "strata-snapshots")
		} else {
			e.snapshots = filepath.Join(storagePath, "snapshots")
		}
	}
	if err := os.MkdirAll(filepath.Join(e.snapshots, fullSnapshotDir), 0700); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "creating snapshots directory")
	}
	return e, nil
}

// Submit applies a meta operation atomically. The timeout bounds cluster
// agreement waits, of which a single node engine has none.
func (e *Engine) Submit(ctx context.Context, op strata.MetaOperation, timeout time.Duration) (bool, error) {
	if err := op.Validate(); err != nil {
		return false, err
	}
	lockKey := op.Collection()
	if lockKey == "" {
		lockKey = aliasPrefix
	}
	unlock := e.locks.Lock(lockKey)
	defer unlock()
	var err error
	switch op := op.(type) {
	case strata.CreateCollectionOp:
		err = e.createCollection(ctx, op)
	case strata.UpdateCollectionOp:
		err = e.updateCollection(ctx, op)
	case strata.DeleteCollectionOp:
		err = e.deleteCollection(ctx, op)
	case strata.ChangeAliasesOp:
		err = e.changeAliases(ctx, op)
	case strata.ClusterOp:
		err = e.updateCluster(ctx, op)
	default:
		return false, errors.New(errors.BadInput, "unsupported operation %s", op.Kind())
	}
	if err != nil {
		return false, err
	}
	e.logger.Info(ctx, "operation applied", map[string]any{
		"kind":       op.Kind(),
		"collection": op.Collection(),
	})
	return true, nil
}

func (e *Engine) createCollection(ctx context.Context, op strata.CreateCollectionOp) error {
	return e.db.Tx(true, func(tx kv.Tx) error {
		key := kvutil.Key(collectionPrefix, op.Name)
		existing, err := tx.Get(key)
		if err != nil {
			return errors.Wrap(err, errors.Internal, "")
		}
		if existing != nil {
			return errors.New(errors.Conflict, "collection %s already exists", op.Name)
		}
		if alias, _ := tx.Get(kvutil.Key(aliasPrefix, op.Name)); alias != nil {
			return errors.New(errors.Conflict, "alias %s already exists", op.Name)
		}
		params := strata.CollectionParams{
			Vectors:                op.Config.Vectors,
			ShardNumber:            orDefault(op.Config.ShardNumber, 1),
			ReplicationFactor:      orDefault(op.Config.ReplicationFactor, 1),
			WriteConsistencyFactor: orDefault(op.Config.WriteConsistencyFactor, 1),
		}
		if op.Config.OnDiskPayload != nil {
			params.OnDiskPayload = *op.Config.OnDiskPayload
		}
		placements := map[string][]placement{}
		for shard := uint32(0); shard < params.ShardNumber; shard++ {
			placements[fmt.Sprint(shard)] = []placement{{PeerID: e.peerID, State: strata.ReplicaActive}}
		}
		rec := record{
			Name:   op.Name,
			Status: strata.StatusGreen,
			Config: strata.CollectionConfig{
				Params:           params,
				OptimizersConfig: map[string]any{},
			},
			Cluster: clusterState{
				ShardCount: int(params.ShardNumber),
				Placements: placements,
			},
			CreatedAt: time.Now(),
		}
		bits, err := json.Marshal(rec)
		if err != nil {
			return errors.Wrap(err, errors.Internal, "")
		}
		return errors.Wrap(tx.Set(key, bits), errors.Internal, "")
	})
}

func (e *Engine) updateCollection(ctx context.Context, op strata.UpdateCollectionOp) error {
	return e.db.Tx(true, func(tx kv.Tx) error {
		key := kvutil.Key(collectionPrefix, op.Name)
		raw, err := tx.Get(key)
		if err != nil {
			return errors.Wrap(err, errors.Internal, "")
		}
		if raw == nil {
			return errors.New(errors.NotFound, "collection %s does not exist", op.Name)
		}
		if len(op.Update.OptimizersConfig) > 0 {
			flattened, err := flat.Flatten(op.Update.OptimizersConfig, nil)
			if err != nil {
				return errors.Wrap(err, errors.BadInput, "flattening optimizers config")
			}
			for path, value := range flattened {
				raw, err = sjson.SetBytes(raw, "config.optimizers_config."+path, value)
				if err != nil {
					return errors.Wrap(err, errors.BadInput, "applying optimizers config")
				}
			}
		}
		if diff := op.Update.Params; diff != nil {
			if diff.ReplicationFactor != nil {
				raw, err = sjson.SetBytes(raw, "config.params.replication_factor", *diff.ReplicationFactor)
				if err != nil {
					return errors.Wrap(err, errors.Internal, "")
				}
			}
			if diff.WriteConsistencyFactor != nil {
				raw, err = sjson.SetBytes(raw, "config.params.write_consistency_factor", *diff.WriteConsistencyFactor)
				if err != nil {
					return errors.Wrap(err, errors.Internal, "")
				}
			}
		}
		return errors.Wrap(tx.Set(key, raw), errors.Internal, "")
	})
}

func (e *Engine) deleteCollection(ctx context.Context, op strata.DeleteCollectionOp) error {
	err := e.db.Tx(true, func(tx kv.Tx) error {
		key := kvutil.Key(collectionPrefix, op.Name)
		raw, err := tx.Get(key)
		if err != nil {
			return errors.Wrap(err, errors.Internal, "")
		}
		if raw == nil {
			return errors.New(errors.NotFound, "collection %s does not exist", op.Name)
		}
		if err := tx.Delete(key); err != nil {
			return errors.Wrap(err, errors.Internal, "")
		}
		// aliases pointing at the collection die with it
		var stale [][]byte
		iter := tx.NewIterator(kv.IterOpts{Prefix: kvutil.Prefix(aliasPrefix)})
		for iter.Valid() {
			item := iter.Item()
			val, err := item.Value()
			if err != nil {
				iter.Close()
				return errors.Wrap(err, errors.Internal, "")
			}
			if gjson.GetBytes(val, "collection_name").String() == op.Name {
				stale = append(stale, append([]byte{}, item.Key()...))
			}
			iter.Next()
		}
		iter.Close()
		for _, aliasKey := range stale {
			if err := tx.Delete(aliasKey); err != nil {
				return errors.Wrap(err, errors.Internal, "")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	// snapshots of a deleted collection die with it
	return errors.Wrap(os.RemoveAll(filepath.Join(e.snapshots, op.Name)), errors.Internal, "")
}

func (e *Engine) changeAliases(ctx context.Context, op strata.ChangeAliasesOp) error {
	return e.db.Tx(true, func(tx kv.Tx) error {
		for _, action := range op.Actions {
			switch {
			case action.CreateAlias != nil:
				if err := createAlias(tx, *action.CreateAlias); err != nil {
					return err
				}
			case action.DeleteAlias != nil:
				if err := deleteAlias(tx, *action.DeleteAlias); err != nil {
					return err
				}
			case action.RenameAlias != nil:
				if err := renameAlias(tx, *action.RenameAlias); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func createAlias(tx kv.Tx, action strata.CreateAlias) error {
	collection, err := tx.Get(kvutil.Key(collectionPrefix, action.CollectionName))
	if err != nil {
		return errors.Wrap(err, errors.Internal, "")
	}
	if collection == nil {
		return errors.New(errors.NotFound, "collection %s does not exist", action.CollectionName)
	}
	if shadowed, _ := tx.Get(kvutil.Key(collectionPrefix, action.AliasName)); shadowed != nil {
		return errors.New(errors.Conflict, "collection %s already exists", action.AliasName)
	}
	key := kvutil.Key(aliasPrefix, action.AliasName)
	existing, err := tx.Get(key)
	if err != nil {
		return errors.Wrap(err, errors.Internal, "")
	}
	if existing != nil {
		return errors.New(errors.Conflict, "alias %s already exists", action.AliasName)
	}
	bits, err := json.Marshal(aliasRecord{AliasName: action.AliasName, CollectionName: action.CollectionName})
	if err != nil {
		return errors.Wrap(err, errors.Internal, "")
	}
	return errors.Wrap(tx.Set(key, bits), errors.Internal, "")
}

func deleteAlias(tx kv.Tx, action strata.DeleteAlias) error {
	key := kvutil.Key(aliasPrefix, action.AliasName)
	existing, err := tx.Get(key)
	if err != nil {
		return errors.Wrap(err, errors.Internal, "")
	}
	if existing == nil {
		return errors.New(errors.NotFound, "alias %s does not exist", action.AliasName)
	}
	return errors.Wrap(tx.Delete(key), errors.Internal, "")
}

func renameAlias(tx kv.Tx, action strata.RenameAlias) error {
	oldKey := kvutil.Key(aliasPrefix, action.OldAliasName)
	existing, err := tx.Get(oldKey)
	if err != nil {
		return errors.Wrap(err, errors.Internal, "")
	}
	if existing == nil {
		return errors.New(errors.NotFound, "alias %s does not exist", action.OldAliasName)
	}
	newKey := kvutil.Key(aliasPrefix, action.NewAliasName)
	taken, err := tx.Get(newKey)
	if err != nil {
		return errors.Wrap(err, errors.Internal, "")
	}
	if taken != nil {
		return errors.New(errors.Conflict, "alias %s already exists", action.NewAliasName)
	}
	renamed, err := sjson.SetBytes(existing, "alias_name", action.NewAliasName)
	if err != nil {
		return errors.Wrap(err, errors.Internal, "")
	}
	if err := tx.Set(newKey, renamed); err != nil {
		return errors.Wrap(err, errors.Internal, "")
	}
	return errors.Wrap(tx.Delete(oldKey), errors.Internal, "")
}

// ListCollections lists all collections
func (e *Engine) ListCollections(ctx context.Context) ([]strata.CollectionSummary, error) {
	var names []string
	err := e.db.Tx(false, func(tx kv.Tx) error {
		iter := tx.NewIterator(kv.IterOpts{Prefix: kvutil.Prefix(collectionPrefix)})
		defer iter.Close()
		for iter.Valid() {
			val, err := iter.Item().Value()
			if err != nil {
				return errors.Wrap(err, errors.Internal, "")
			}
			names = append(names, gjson.GetBytes(val, "name").String())
			iter.Next()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(names, func(name string, _ int) strata.CollectionSummary {
		return strata.CollectionSummary{Name: name}
	}), nil
}

// DescribeCollection returns the detail view of a collection. Alias names resolve
// to the collection they point at.
func (e *Engine) DescribeCollection(ctx context.Context, collection string) (*strata.CollectionInfo, error) {
	rec, err := e.getRecord(collection)
	if err != nil {
		if errors.Extract(err).Code != errors.NotFound {
			return nil, err
		}
		resolved, aliasErr := e.resolveAlias(collection)
		if aliasErr != nil {
			return nil, err
		}
		if rec, err = e.getRecord(resolved); err != nil {
			return nil, err
		}
	}
	return &strata.CollectionInfo{
		Status: rec.Status,
		Config: rec.Config,
	}, nil
}

// ListAliases lists all aliases across all collections
func (e *Engine) ListAliases(ctx context.Context) ([]strata.AliasDescription, error) {
	var aliases []strata.AliasDescription
	err := e.db.Tx(false, func(tx kv.Tx) error {
		iter := tx.NewIterator(kv.IterOpts{Prefix: kvutil.Prefix(aliasPrefix)})
		defer iter.Close()
		for iter.Valid() {
			val, err := iter.Item().Value()
			if err != nil {
				return errors.Wrap(err, errors.Internal, "")
			}
			aliases = append(aliases, strata.AliasDescription{
				AliasName:      gjson.GetBytes(val, "alias_name").String(),
				CollectionName: gjson.GetBytes(val, "collection_name").String(),
			})
			iter.Next()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return aliases, nil
}

// ListCollectionAliases lists the aliases pointing at a collection
func (e *Engine) ListCollectionAliases(ctx context.Context, collection string) ([]strata.AliasDescription, error) {
	if _, err := e.getRecord(collection); err != nil {
		return nil, err
	}
	aliases, err := e.ListAliases(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(aliases, func(alias strata.AliasDescription, _ int) bool {
		return alias.CollectionName == collection
	}), nil
}

// Close shuts down the engine's storage
func (e *Engine) Close(ctx context.Context) error {
	return errors.Wrap(e.db.Close(), errors.Internal, "closing storage")
}

func (e *Engine) getRecord(collection string) (*record, error) {
	var raw []byte
	err := e.db.Tx(false, func(tx kv.Tx) error {
		bits, err := tx.Get(kvutil.Key(collectionPrefix, collection))
		if err != nil {
			return errors.Wrap(err, errors.Internal, "")
		}
		raw = bits
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New(errors.NotFound, "collection %s does not exist", collection)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "corrupt record for collection %s", collection)
	}
	return &rec, nil
}

func (e *Engine) resolveAlias(alias string) (string, error) {
	var raw []byte
	err := e.db.Tx(false, func(tx kv.Tx) error {
		bits, err := tx.Get(kvutil.Key(aliasPrefix, alias))
		if err != nil {
			return errors.Wrap(err, errors.Internal, "")
		}
		raw = bits
		return nil
	})
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", errors.New(errors.NotFound, "alias %s does not exist", alias)
	}
	return gjson.GetBytes(raw, "collection_name").String(), nil
}

func orDefault(value *uint32, fallback uint32) uint32 {
	if value == nil {
		return fallback
	}
	return *value
}
