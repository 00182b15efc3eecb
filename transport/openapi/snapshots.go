package openapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"github.com/stratabase/strata"
	"github.com/stratabase/strata/errors"
)

func (o *OpenAPIServer) listSnapshotsHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := snapshotPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		collection := mux.Vars(r)["collection"]
		descriptions, err := strata.Run(r.Context(), g, "list_snapshots", policy, func(ctx context.Context) (*[]strata.SnapshotDescription, error) {
			listed, err := g.Executor().ListSnapshots(ctx, collection)
			if err != nil {
				return nil, err
			}
			return &listed, nil
		})
		if err != nil {
			respondError(w, started, err)
			return
		}
		if descriptions == nil {
			respondAccepted(w, started)
			return
		}
		respondOk(w, started, *descriptions)
	}
}

func (o *OpenAPIServer) createSnapshotHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := snapshotPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		collection := mux.Vars(r)["collection"]
		description, err := strata.Run(r.Context(), g, "create_snapshot", policy, func(ctx context.Context) (*strata.SnapshotDescription, error) {
			return g.Executor().CreateSnapshot(ctx, collection)
		})
		if err != nil {
			respondError(w, started, err)
			return
		}
		if description == nil {
			respondAccepted(w, started)
			return
		}
		respondOk(w, started, description)
	}
}

func (o *OpenAPIServer) deleteSnapshotHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := snapshotPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		vars := mux.Vars(r)
		collection, name := vars["collection"], vars["snapshot"]
		deleted, err := strata.Run(r.Context(), g, "delete_snapshot", policy, func(ctx context.Context) (*bool, error) {
			if err := g.Executor().DeleteSnapshot(ctx, collection, name); err != nil {
				return nil, err
			}
			return lo.ToPtr(true), nil
		})
		if err != nil {
			respondError(w, started, err)
			return
		}
		if deleted == nil {
			respondAccepted(w, started)
			return
		}
		respondOk(w, started, *deleted)
	}
}

// downloadSnapshotHandler streams a snapshot archive. A non waiting request
// gets the accepted envelope instead of a stream, it never errors with not
// found for work that is still in flight.
func (o *OpenAPIServer) downloadSnapshotHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := snapshotPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		if !policy.Wait {
			respondAccepted(w, started)
			return
		}
		vars := mux.Vars(r)
		path, err := g.Executor().SnapshotPath(r.Context(), vars["collection"], vars["snapshot"])
		if err != nil {
			respondError(w, started, err)
			return
		}
		o.streamSnapshot(w, r, path, vars["snapshot"])
	}
}

func (o *OpenAPIServer) recoverSnapshotHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := snapshotPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		var source strata.SnapshotRecover
		if err := decodeBody(r, recoverSnapshotSchema, &source); err != nil {
			respondError(w, started, err)
			return
		}
		collection := mux.Vars(r)["collection"]
		applied, err := strata.Run(r.Context(), g, "recover_snapshot", policy, func(ctx context.Context) (*bool, error) {
			recovered, err := g.Executor().RecoverSnapshot(ctx, collection, source)
			if err != nil {
				return nil, err
			}
			return &recovered, nil
		})
		if err != nil {
			respondError(w, started, err)
			return
		}
		if applied == nil {
			respondAccepted(w, started)
			return
		}
		respondOk(w, started, *applied)
	}
}

func (o *OpenAPIServer) uploadSnapshotHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := snapshotPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		priority, err := snapshotPriority(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, o.params.MaxUploadSize)
		if err := r.ParseMultipartForm(o.params.MaxUploadSize); err != nil {
			respondError(w, started, errors.Wrap(err, errors.BadInput, "failed to parse multipart upload"))
			return
		}
		file, header, err := r.FormFile("snapshot")
		if err != nil {
			respondError(w, started, errors.Wrap(err, errors.BadInput, "upload is missing the snapshot file"))
			return
		}
		defer file.Close()
		applied, err := g.UploadAndRecover(r.Context(), mux.Vars(r)["collection"], header.Filename, file, priority, policy)
		if err != nil {
			respondError(w, started, err)
			return
		}
		if applied == nil {
			respondAccepted(w, started)
			return
		}
		respondOk(w, started, *applied)
	}
}

func (o *OpenAPIServer) listFullSnapshotsHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := snapshotPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		descriptions, err := strata.Run(r.Context(), g, "list_full_snapshots", policy, func(ctx context.Context) (*[]strata.SnapshotDescription, error) {
			listed, err := g.Executor().ListFullSnapshots(ctx)
			if err != nil {
				return nil, err
			}
			return &listed, nil
		})
		if err != nil {
			respondError(w, started, err)
			return
		}
		if descriptions == nil {
			respondAccepted(w, started)
			return
		}
		respondOk(w, started, *descriptions)
	}
}

func (o *OpenAPIServer) createFullSnapshotHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := snapshotPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		description, err := strata.Run(r.Context(), g, "create_full_snapshot", policy, func(ctx context.Context) (*strata.SnapshotDescription, error) {
			return g.Executor().CreateFullSnapshot(ctx)
		})
		if err != nil {
			respondError(w, started, err)
			return
		}
		if description == nil {
			respondAccepted(w, started)
			return
		}
		respondOk(w, started, description)
	}
}

func (o *OpenAPIServer) downloadFullSnapshotHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := snapshotPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		if !policy.Wait {
			respondAccepted(w, started)
			return
		}
		name := mux.Vars(r)["snapshot"]
		path, err := g.Executor().FullSnapshotPath(r.Context(), name)
		if err != nil {
			respondError(w, started, err)
			return
		}
		o.streamSnapshot(w, r, path, name)
	}
}

func (o *OpenAPIServer) deleteFullSnapshotHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := snapshotPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		name := mux.Vars(r)["snapshot"]
		deleted, err := strata.Run(r.Context(), g, "delete_full_snapshot", policy, func(ctx context.Context) (*bool, error) {
			if err := g.Executor().DeleteFullSnapshot(ctx, name); err != nil {
				return nil, err
			}
			return lo.ToPtr(true), nil
		})
		if err != nil {
			respondError(w, started, err)
			return
		}
		if deleted == nil {
			respondAccepted(w, started)
			return
		}
		respondOk(w, started, *deleted)
	}
}

func (o *OpenAPIServer) streamSnapshot(w http.ResponseWriter, r *http.Request, path, name string) {
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, path)
}
