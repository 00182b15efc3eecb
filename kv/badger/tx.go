package badger

import (
	"github.com/dgraph-io/badger/v3"
	"github.com/stratabase/strata/kv"
)

type badgerTx struct {
	txn *badger.Txn
}

func (b *badgerTx) Get(key []byte) ([]byte, error) {
	i, err := b.txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return i.ValueCopy(nil)
}

func (b *badgerTx) Set(key, value []byte) error {
	return b.txn.SetEntry(&badger.Entry{
		Key:   key,
		Value: value,
	})
}

func (b *badgerTx) Delete(key []byte) error {
	return b.txn.Delete(key)
}

func (b *badgerTx) NewIterator(kopts kv.IterOpts) kv.Iterator {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.PrefetchSize = 10
	opts.Prefix = kopts.Prefix
	opts.Reverse = kopts.Reverse
	iter := b.txn.NewIterator(opts)
	if kopts.Seek == nil {
		iter.Rewind()
	} else {
		iter.Seek(kopts.Seek)
	}
	return &badgerIterator{iter: iter, opts: kopts}
}
