package badger

import (
	"github.com/dgraph-io/badger/v3"
	"github.com/stratabase/strata/kv"
	"github.com/stratabase/strata/kv/registry"
	"github.com/stratabase/strata/util"
)

type providerParams struct {
	StoragePath string `json:"storage_path"`
}

func init() {
	registry.Register("badger", func(params map[string]interface{}) (kv.DB, error) {
		var config providerParams
		if err := util.Decode(params, &config); err != nil {
			return nil, err
		}
		return open(config.StoragePath)
	})
}

type badgerKV struct {
	db *badger.DB
}

// open opens a badger database at the given path - an empty path opens an in-memory database
func open(storagePath string) (kv.DB, error) {
	opts := badger.DefaultOptions(storagePath)
	if storagePath == "" {
		opts.InMemory = true
		opts.Dir = ""
		opts.ValueDir = ""
	}
	opts = opts.WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerKV{
		db: db,
	}, nil
}

func (b *badgerKV) Tx(isUpdate bool, fn func(kv.Tx) error) error {
	if isUpdate {
		return b.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTx{txn: txn})
		})
	}
	return b.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (b *badgerKV) NewBatch() kv.Batch {
	return &badgerBatch{batch: b.db.NewWriteBatch()}
}

func (b *badgerKV) DropPrefix(prefix ...[]byte) error {
	return b.db.DropPrefix(prefix...)
}

func (b *badgerKV) Close() error {
	if !b.db.Opts().InMemory {
		if err := b.db.Sync(); err != nil {
			return err
		}
	}
	return b.db.Close()
}
