package strata

import (
	"github.com/stratabase/strata/errors"
	"github.com/stratabase/strata/util"
)

// ReplicaState is the lifecycle state of a shard replica on a peer
type ReplicaState string

const (
	ReplicaActive  ReplicaState = "Active"
	ReplicaDead    ReplicaState = "Dead"
	ReplicaPartial ReplicaState = "Partial"
)

// MoveShard moves or replicates a shard between two peers
type MoveShard struct {
	ShardID    uint32 `json:"shard_id"`
	FromPeerID uint64 `json:"from_peer_id" validate:"required"`
	ToPeerID   uint64 `json:"to_peer_id" validate:"required"`
}

// Replica identifies a single shard replica on a peer
type Replica struct {
	ShardID uint32 `json:"shard_id"`
	PeerID  uint64 `json:"peer_id" validate:"required"`
}

// ClusterOperation is a shard placement change - exactly one member must be set
type ClusterOperation struct {
	MoveShard      *MoveShard `json:"move_shard,omitempty"`
	ReplicateShard *MoveShard `json:"replicate_shard,omitempty"`
	AbortTransfer  *MoveShard `json:"abort_transfer,omitempty"`
	DropReplica    *Replica   `json:"drop_replica,omitempty"`
}

// Validate checks that exactly one operation member is set
func (c ClusterOperation) Validate() error {
	count := 0
	if c.MoveShard != nil {
		count++
	}
	if c.ReplicateShard != nil {
		count++
	}
	if c.AbortTransfer != nil {
		count++
	}
	if c.DropReplica != nil {
		count++
	}
	if count != 1 {
		return errors.New(errors.BadInput, "cluster operation must set exactly one of move_shard, replicate_shard, abort_transfer, drop_replica")
	}
	switch {
	case c.MoveShard != nil:
		return util.ValidateStruct(c.MoveShard)
	case c.ReplicateShard != nil:
		return util.ValidateStruct(c.ReplicateShard)
	case c.AbortTransfer != nil:
		return util.ValidateStruct(c.AbortTransfer)
	default:
		return util.ValidateStruct(c.DropReplica)
	}
}

// LocalShardInfo describes a shard hosted on the answering peer
type LocalShardInfo struct {
	ShardID uint32       `json:"shard_id"`
	State   ReplicaState `json:"state"`
}

// RemoteShardInfo describes a shard hosted on another peer
type RemoteShardInfo struct {
	ShardID uint32       `json:"shard_id"`
	PeerID  uint64       `json:"peer_id"`
	State   ReplicaState `json:"state"`
}

// ShardTransferInfo describes an in-flight shard transfer
type ShardTransferInfo struct {
	ShardID uint32 `json:"shard_id"`
	From    uint64 `json:"from"`
	To      uint64 `json:"to"`
	Sync    bool   `json:"sync"`
}

// CollectionClusterInfo is the shard topology of a collection as seen by one peer
type CollectionClusterInfo struct {
	PeerID         uint64              `json:"peer_id"`
	ShardCount     int                 `json:"shard_count"`
	LocalShards    []LocalShardInfo    `json:"local_shards"`
	RemoteShards   []RemoteShardInfo   `json:"remote_shards"`
	ShardTransfers []ShardTransferInfo `json:"shard_transfers"`
}
