// Package strata is the submission boundary of a multi-node collection store.
// It accepts collection and snapshot lifecycle operations, dispatches them to
// an Executor, and decides per request whether the caller blocks until
// completion or receives an immediate acknowledgment while the work continues
// in the background.
package strata

import (
	"context"
	"time"
)

// Executor runs operations against the storage layer. Implementations may be a
// local single-node engine or a remote cluster dispatcher.
type Executor interface {
	// Submitter dispatches collection meta operations
	Submitter
	// Reader serves point-in-time views of collection state
	Reader
	// Snapshotter creates, serves and restores snapshots
	Snapshotter
	// Close shuts down the executor
	Close(ctx context.Context) error
}

// Submitter applies collection meta operations atomically
type Submitter interface {
	// Submit applies the operation, blocking until it completes or fails. A positive
	// timeout bounds any internal coordination waits - zero means unbounded. The
	// returned bool reports whether the change was fully applied.
	Submit(ctx context.Context, op MetaOperation, timeout time.Duration) (bool, error)
}

// Reader performs read operations against collection metadata
type Reader interface {
	// ListCollections lists all collections
	ListCollections(ctx context.Context) ([]CollectionSummary, error)
	// DescribeCollection returns the detail view of a collection(if it exists)
	DescribeCollection(ctx context.Context, collection string) (*CollectionInfo, error)
	// ListAliases lists all aliases across all collections
	ListAliases(ctx context.Context) ([]AliasDescription, error)
	// ListCollectionAliases lists the aliases pointing at a collection
	ListCollectionAliases(ctx context.Context, collection string) ([]AliasDescription, error)
	// ClusterInfo returns the shard topology of a collection
	ClusterInfo(ctx context.Context, collection string) (*CollectionClusterInfo, error)
}

// Snapshotter manages snapshot archives for collections and for the whole node.
// All methods block - the gateway decides whether callers wait on them.
type Snapshotter interface {
	// CreateSnapshot archives a collection and returns its description
	CreateSnapshot(ctx context.Context, collection string) (*SnapshotDescription, error)
	// ListSnapshots lists the stored snapshots of a collection
	ListSnapshots(ctx context.Context, collection string) ([]SnapshotDescription, error)
	// DeleteSnapshot removes a stored snapshot
	DeleteSnapshot(ctx context.Context, collection, name string) error
	// SnapshotPath resolves a snapshot name to a readable local file path
	SnapshotPath(ctx context.Context, collection, name string) (string, error)
	// RecoverSnapshot restores a collection from a snapshot location
	RecoverSnapshot(ctx context.Context, collection string, source SnapshotRecover) (bool, error)
	// CreateFullSnapshot archives the whole node
	CreateFullSnapshot(ctx context.Context) (*SnapshotDescription, error)
	// ListFullSnapshots lists the stored full node snapshots
	ListFullSnapshots(ctx context.Context) ([]SnapshotDescription, error)
	// DeleteFullSnapshot removes a stored full node snapshot
	DeleteFullSnapshot(ctx context.Context, name string) error
	// FullSnapshotPath resolves a full snapshot name to a readable local file path
	FullSnapshotPath(ctx context.Context, name string) (string, error)
	// SnapshotsRoot is the directory uploaded and created snapshots live under
	SnapshotsRoot() string
}
