package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stratabase/strata"
	"github.com/stratabase/strata/engine"
)

// CollectionName returns a random name safe to use as a collection or alias
func CollectionName() string {
	return strings.ToLower(gofakeit.LetterN(12))
}

// NewCreateCollection returns a create operation with a randomized vector config
func NewCreateCollection(name string) strata.CreateCollectionOp {
	shards := uint32(gofakeit.IntRange(1, 4))
	return strata.CreateCollectionOp{
		Name: name,
		Config: strata.CreateCollection{
			Vectors: strata.VectorParams{
				Size:     uint64(gofakeit.IntRange(2, 512)),
				Distance: gofakeit.RandomString([]string{"Cosine", "Euclid", "Dot"}),
			},
			ShardNumber: &shards,
		},
	}
}

// LatencyExecutor wraps an Executor and injects a fixed delay into mutating
// calls. The delay ignores context cancellation, matching an engine that
// cannot abandon work once started.
type LatencyExecutor struct {
	strata.Executor
	Latency   time.Duration
	completed int64
}

// Completed reports how many delayed calls have finished
func (l *LatencyExecutor) Completed() int64 {
	return atomic.LoadInt64(&l.completed)
}

func (l *LatencyExecutor) Submit(ctx context.Context, op strata.MetaOperation, timeout time.Duration) (bool, error) {
	time.Sleep(l.Latency)
	applied, err := l.Executor.Submit(ctx, op, timeout)
	atomic.AddInt64(&l.completed, 1)
	return applied, err
}

func (l *LatencyExecutor) CreateSnapshot(ctx context.Context, collection string) (*strata.SnapshotDescription, error) {
	time.Sleep(l.Latency)
	desc, err := l.Executor.CreateSnapshot(ctx, collection)
	atomic.AddInt64(&l.completed, 1)
	return desc, err
}

func (l *LatencyExecutor) RecoverSnapshot(ctx context.Context, collection string, source strata.SnapshotRecover) (bool, error) {
	time.Sleep(l.Latency)
	applied, err := l.Executor.RecoverSnapshot(ctx, collection, source)
	atomic.AddInt64(&l.completed, 1)
	return applied, err
}

// TestGateway runs fn against a gateway over a throwaway single node engine
func TestGateway(fn func(ctx context.Context, g *strata.Gateway)) error {
	return TestSlowGateway(0, func(ctx context.Context, g *strata.Gateway, _ *LatencyExecutor) {
		fn(ctx, g)
	})
}

// TestSlowGateway runs fn against a gateway whose executor delays every
// mutating call by latency
func TestSlowGateway(latency time.Duration, fn func(ctx context.Context, g *strata.Gateway, slow *LatencyExecutor)) error {
	dir, err := os.MkdirTemp("", "strata")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e, err := engine.New(ctx, "badger", map[string]any{
		"storage_path": filepath.Join(dir, "storage"),
	}, engine.WithSnapshotsPath(filepath.Join(dir, "snapshots")))
	if err != nil {
		return err
	}
	slow := &LatencyExecutor{Executor: e, Latency: latency}
	g, err := strata.NewGateway(ctx, slow)
	if err != nil {
		return err
	}
	defer g.Close(ctx)
	fn(ctx, g, slow)
	return nil
}
