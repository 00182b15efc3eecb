package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/spf13/cast"
	"github.com/stratabase/strata"
	"github.com/stratabase/strata/errors"
	"github.com/stratabase/strata/kv"
	"github.com/stratabase/strata/kv/kvutil"
	"github.com/stratabase/strata/util"
)

func (e *Engine) updateCluster(ctx context.Context, op strata.ClusterOp) error {
	return e.db.Tx(true, func(tx kv.Tx) error {
		key := kvutil.Key(collectionPrefix, op.Name)
		raw, err := tx.Get(key)
		if err != nil {
			return errors.Wrap(err, errors.Internal, "")
		}
		if raw == nil {
			return errors.New(errors.NotFound, "collection %s does not exist", op.Name)
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return errors.Wrap(err, errors.Internal, "corrupt record for collection %s", op.Name)
		}
		switch {
		case op.Operation.MoveShard != nil:
			err = rec.Cluster.startTransfer(*op.Operation.MoveShard, false)
		case op.Operation.ReplicateShard != nil:
			err = rec.Cluster.startTransfer(*op.Operation.ReplicateShard, true)
		case op.Operation.AbortTransfer != nil:
			err = rec.Cluster.abortTransfer(*op.Operation.AbortTransfer)
		case op.Operation.DropReplica != nil:
			err = rec.Cluster.dropReplica(*op.Operation.DropReplica)
		}
		if err != nil {
			return err
		}
		bits, err := json.Marshal(rec)
		if err != nil {
			return errors.Wrap(err, errors.Internal, "")
		}
		return errors.Wrap(tx.Set(key, bits), errors.Internal, "")
	})
}

// ClusterInfo returns the shard topology of a collection
func (e *Engine) ClusterInfo(ctx context.Context, collection string) (*strata.CollectionClusterInfo, error) {
	rec, err := e.getRecord(collection)
	if err != nil {
		return nil, err
	}
	info := &strata.CollectionClusterInfo{
		PeerID:         e.peerID,
		ShardCount:     rec.Cluster.ShardCount,
		LocalShards:    []strata.LocalShardInfo{},
		RemoteShards:   []strata.RemoteShardInfo{},
		ShardTransfers: []strata.ShardTransferInfo{},
	}
	shards := lo.Keys(rec.Cluster.Placements)
	sort.Slice(shards, func(i, j int) bool {
		return cast.ToUint64(shards[i]) < cast.ToUint64(shards[j])
	})
	for _, shard := range shards {
		shardID := cast.ToUint32(shard)
		for _, p := range rec.Cluster.Placements[shard] {
			if p.PeerID == e.peerID {
				info.LocalShards = append(info.LocalShards, strata.LocalShardInfo{
					ShardID: shardID,
					State:   p.State,
				})
				continue
			}
			info.RemoteShards = append(info.RemoteShards, strata.RemoteShardInfo{
				ShardID: shardID,
				PeerID:  p.PeerID,
				State:   p.State,
			})
		}
	}
	info.ShardTransfers = append(info.ShardTransfers, rec.Cluster.Transfers...)
	return info, nil
}

func (c *clusterState) replicas(shardID uint32) ([]placement, string, error) {
	shard := fmt.Sprint(shardID)
	replicas, ok := c.Placements[shard]
	if !ok {
		return nil, "", errors.New(errors.NotFound, "shard %d does not exist", shardID)
	}
	return replicas, shard, nil
}

func (c *clusterState) replicaIndex(replicas []placement, peerID uint64) int {
	for i, p := range replicas {
		if p.PeerID == peerID {
			return i
		}
	}
	return -1
}

func (c *clusterState) transferIndex(transfer strata.MoveShard) int {
	for i, t := range c.Transfers {
		if t.ShardID == transfer.ShardID && t.From == transfer.FromPeerID && t.To == transfer.ToPeerID {
			return i
		}
	}
	return -1
}

func (c *clusterState) transferInvolves(shardID uint32, peerID uint64) bool {
	for _, t := range c.Transfers {
		if t.ShardID == shardID && (t.From == peerID || t.To == peerID) {
			return true
		}
	}
	return false
}

// startTransfer registers a move or replication. The target replica stays
// partial until a replication driver completes the transfer - the single node
// engine only records intent.
func (c *clusterState) startTransfer(m strata.MoveShard, sync bool) error {
	replicas, shard, err := c.replicas(m.ShardID)
	if err != nil {
		return err
	}
	if c.replicaIndex(replicas, m.FromPeerID) == -1 {
		return errors.New(errors.BadInput, "shard %d is not hosted on peer %d", m.ShardID, m.FromPeerID)
	}
	if c.replicaIndex(replicas, m.ToPeerID) != -1 {
		return errors.New(errors.Conflict, "shard %d is already hosted on peer %d", m.ShardID, m.ToPeerID)
	}
	if c.transferIndex(m) != -1 {
		return errors.New(errors.Conflict, "transfer of shard %d from peer %d to peer %d is already in flight", m.ShardID, m.FromPeerID, m.ToPeerID)
	}
	c.Placements[shard] = append(replicas, placement{PeerID: m.ToPeerID, State: strata.ReplicaPartial})
	c.Transfers = append(c.Transfers, strata.ShardTransferInfo{
		ShardID: m.ShardID,
		From:    m.FromPeerID,
		To:      m.ToPeerID,
		Sync:    sync,
	})
	return nil
}

func (c *clusterState) abortTransfer(m strata.MoveShard) error {
	idx := c.transferIndex(m)
	if idx == -1 {
		return errors.New(errors.NotFound, "transfer of shard %d from peer %d to peer %d does not exist", m.ShardID, m.FromPeerID, m.ToPeerID)
	}
	c.Transfers = util.RemoveElement(idx, c.Transfers)
	replicas, shard, err := c.replicas(m.ShardID)
	if err != nil {
		return err
	}
	if i := c.replicaIndex(replicas, m.ToPeerID); i != -1 && replicas[i].State == strata.ReplicaPartial {
		c.Placements[shard] = util.RemoveElement(i, replicas)
	}
	return nil
}

func (c *clusterState) dropReplica(r strata.Replica) error {
	replicas, shard, err := c.replicas(r.ShardID)
	if err != nil {
		return err
	}
	idx := c.replicaIndex(replicas, r.PeerID)
	if idx == -1 {
		return errors.New(errors.NotFound, "shard %d has no replica on peer %d", r.ShardID, r.PeerID)
	}
	if c.transferInvolves(r.ShardID, r.PeerID) {
		return errors.New(errors.Conflict, "shard %d has a transfer in flight involving peer %d", r.ShardID, r.PeerID)
	}
	active := 0
	for i, p := range replicas {
		if p.State == strata.ReplicaActive && i != idx {
			active++
		}
	}
	if replicas[idx].State == strata.ReplicaActive && active == 0 {
		return errors.New(errors.BadInput, "cannot drop the last active replica of shard %d", r.ShardID)
	}
	c.Placements[shard] = util.RemoveElement(idx, replicas)
	return nil
}
