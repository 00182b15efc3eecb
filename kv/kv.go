package kv

// DB is a key value database abstraction
type DB interface {
	// Tx executes the function against a new transaction - writes are only visible once committed
	Tx(isUpdate bool, fn func(Tx) error) error
	// NewBatch returns a write batch for bulk mutations
	NewBatch() Batch
	// DropPrefix deletes all keys under the given prefixes
	DropPrefix(prefix ...[]byte) error
	Close() error
}

type IterOpts struct {
	Prefix  []byte `json:"prefix"`
	Seek    []byte `json:"seek"`
	Reverse bool   `json:"reverse"`
}

type Tx interface {
	// Get returns the value of the key - a missing key returns nil, nil
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	NewIterator(opts IterOpts) Iterator
}

type Iterator interface {
	Seek(key []byte)
	Close()
	Valid() bool
	Item() Item
	Next()
}

type Item interface {
	Key() []byte
	Value() ([]byte, error)
}

type Batch interface {
	Flush() error
	Set(key, value []byte) error
	Delete(key []byte) error
}
