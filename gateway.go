package strata

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/autom8ter/machine/v4"
	"github.com/google/uuid"
	"github.com/stratabase/strata/errors"
)

// Gateway converts lifecycle requests into executor operations and enforces
// the wait/timeout contract. It holds no per-request state - background work
// is bound to the context given at construction, never to a request.
type Gateway struct {
	ctx      context.Context
	executor Executor
	machine  machine.Machine
	logger   Logger
}

// NewGateway returns a gateway dispatching operations to the given executor
func NewGateway(ctx context.Context, executor Executor, opts ...GatewayOpt) (*Gateway, error) {
	if executor == nil {
		return nil, errors.New(errors.BadInput, "executor is required")
	}
	g := &Gateway{
		ctx:      ctx,
		executor: executor,
		machine:  machine.New(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		logger, err := NewLogger("info", map[string]any{"service": "strata"})
		if err != nil {
			return nil, err
		}
		g.logger = logger
	}
	return g, nil
}

// Executor returns the executor operations are dispatched to
func (g *Gateway) Executor() Executor {
	return g.executor
}

// Logger returns the gateway's logger
func (g *Gateway) Logger() Logger {
	return g.logger
}

type submitOutcome struct {
	applied bool
	err     error
}

// Submit dispatches a collection meta operation. Without a timeout it blocks
// until the executor finishes. With a timeout it waits at most that long and
// then fails with Timeout while the operation keeps running unsupervised:
// expiry cancels the wait, never the work. A non waiting policy returns
// immediately with the outcome unobserved.
func (g *Gateway) Submit(ctx context.Context, op MetaOperation, policy WaitPolicy) (bool, error) {
	if err := op.Validate(); err != nil {
		return false, err
	}
	done := make(chan submitOutcome, 1)
	g.machine.Go(g.ctx, func(taskCtx context.Context) error {
		applied, err := g.executor.Submit(taskCtx, op, policy.Timeout)
		if err == nil {
			g.publishEvent(taskCtx, op)
		}
		done <- submitOutcome{applied: applied, err: err}
		return nil
	})
	g.logger.Debug(ctx, "operation dispatched", map[string]any{
		"kind":       op.Kind(),
		"collection": op.Collection(),
	})
	if !policy.Wait {
		g.detach(op, done)
		return false, nil
	}
	if !policy.Bounded() {
		select {
		case out := <-done:
			return out.applied, out.err
		case <-ctx.Done():
			g.detach(op, done)
			return false, errors.Wrap(ctx.Err(), errors.Timeout, "%s: caller gone while waiting", op.Kind())
		}
	}
	timer := time.NewTimer(policy.Timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.applied, out.err
	case <-timer.C:
		// an operation that finished in the same instant beats the expiry
		select {
		case out := <-done:
			return out.applied, out.err
		default:
		}
		g.detach(op, done)
		return false, errors.New(errors.Timeout, "%s: timed out after %s, operation continues in background", op.Kind(), policy.Timeout)
	case <-ctx.Done():
		g.detach(op, done)
		return false, errors.Wrap(ctx.Err(), errors.Timeout, "%s: caller gone while waiting", op.Kind())
	}
}

// detach stops observing an in-flight operation and logs its eventual outcome
func (g *Gateway) detach(op MetaOperation, done <-chan submitOutcome) {
	g.machine.Go(g.ctx, func(taskCtx context.Context) error {
		out := <-done
		if out.err != nil {
			g.logger.Error(taskCtx, "detached operation failed", out.err, map[string]any{
				"kind":       op.Kind(),
				"collection": op.Collection(),
			})
			return nil
		}
		g.logger.Info(taskCtx, "detached operation completed", map[string]any{
			"kind":       op.Kind(),
			"collection": op.Collection(),
			"applied":    out.applied,
		})
		return nil
	})
}

// Run executes task on the gateway's scheduler. A waiting policy blocks until
// the task finishes and returns its outcome. A background policy returns
// (nil, nil) immediately - the accepted sentinel - while the task keeps
// running with its failures logged out-of-band. The task's lifetime is bound
// to the gateway, not to the request context.
func Run[T any](ctx context.Context, g *Gateway, name string, policy WaitPolicy, task func(ctx context.Context) (*T, error)) (*T, error) {
	type outcome struct {
		value *T
		err   error
	}
	done := make(chan outcome, 1)
	g.machine.Go(g.ctx, func(taskCtx context.Context) error {
		value, err := task(taskCtx)
		if err != nil && !policy.Wait {
			g.logger.Error(taskCtx, "detached task failed", err, map[string]any{"task": name})
		}
		done <- outcome{value: value, err: err}
		return nil
	})
	if !policy.Wait {
		return nil, nil
	}
	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		g.machine.Go(g.ctx, func(taskCtx context.Context) error {
			out := <-done
			if out.err != nil {
				g.logger.Error(taskCtx, "abandoned task failed", out.err, map[string]any{"task": name})
			}
			return nil
		})
		return nil, errors.Wrap(ctx.Err(), errors.Timeout, "%s: caller gone while waiting", name)
	}
}

// SaveUploadedSnapshot persists an uploaded snapshot stream under the
// executor's snapshot root and returns the stored location. A missing
// filename gets a freshly generated unique name. Failures here never reach
// the executor.
func (g *Gateway) SaveUploadedSnapshot(ctx context.Context, collection, filename string, src io.Reader) (SnapshotLocation, error) {
	if filename == "" {
		filename = uuid.New().String()
	}
	dir := filepath.Join(g.executor.SnapshotsRoot(), collection)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", errors.Wrap(err, errors.Internal, "creating snapshot directory for %s", collection)
	}
	path := filepath.Join(dir, filepath.Base(filename))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, errors.Internal, "persisting uploaded snapshot %s", filename)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return "", errors.Wrap(err, errors.Internal, "persisting uploaded snapshot %s", filename)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, errors.Internal, "persisting uploaded snapshot %s", filename)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, errors.Internal, "resolving uploaded snapshot %s", filename)
	}
	g.logger.Info(ctx, "snapshot uploaded", map[string]any{
		"collection": collection,
		"location":   abs,
	})
	return SnapshotLocation(abs), nil
}

// UploadAndRecover persists an uploaded snapshot and then restores the
// collection from it. The upload phase runs synchronously on the caller -
// an upload failure short-circuits without contacting the executor. The
// recover phase follows the given wait policy.
func (g *Gateway) UploadAndRecover(ctx context.Context, collection, filename string, src io.Reader, priority SnapshotPriority, policy WaitPolicy) (*bool, error) {
	location, err := g.SaveUploadedSnapshot(ctx, collection, filename, src)
	if err != nil {
		return nil, err
	}
	return Run(ctx, g, "recover_uploaded_snapshot", policy, func(taskCtx context.Context) (*bool, error) {
		applied, err := g.executor.RecoverSnapshot(taskCtx, collection, SnapshotRecover{
			Location: location,
			Priority: priority,
		})
		if err != nil {
			return nil, err
		}
		return &applied, nil
	})
}

// Close drains in-flight background tasks and shuts down the executor
func (g *Gateway) Close(ctx context.Context) error {
	if err := g.machine.Wait(); err != nil {
		g.logger.Error(ctx, "background task failure during shutdown", err, map[string]any{})
	}
	return g.executor.Close(ctx)
}
