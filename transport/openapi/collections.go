package openapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/stratabase/strata"
)

func (o *OpenAPIServer) listCollectionsHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		summaries, err := g.Executor().ListCollections(r.Context())
		if err != nil {
			respondError(w, started, err)
			return
		}
		respondOk(w, started, map[string]any{"collections": summaries})
	}
}

func (o *OpenAPIServer) getCollectionHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		info, err := g.Executor().DescribeCollection(r.Context(), mux.Vars(r)["collection"])
		if err != nil {
			respondError(w, started, err)
			return
		}
		respondOk(w, started, info)
	}
}

func (o *OpenAPIServer) createCollectionHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := metaPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		var config strata.CreateCollection
		if err := decodeBody(r, createCollectionSchema, &config); err != nil {
			respondError(w, started, err)
			return
		}
		applied, err := g.Submit(r.Context(), strata.CreateCollectionOp{
			Name:   mux.Vars(r)["collection"],
			Config: config,
		}, policy)
		if err != nil {
			respondError(w, started, err)
			return
		}
		respondOk(w, started, applied)
	}
}

func (o *OpenAPIServer) updateCollectionHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := metaPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		var update strata.UpdateCollection
		if err := decodeBody(r, updateCollectionSchema, &update); err != nil {
			respondError(w, started, err)
			return
		}
		applied, err := g.Submit(r.Context(), strata.UpdateCollectionOp{
			Name:   mux.Vars(r)["collection"],
			Update: update,
		}, policy)
		if err != nil {
			respondError(w, started, err)
			return
		}
		respondOk(w, started, applied)
	}
}

func (o *OpenAPIServer) deleteCollectionHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := metaPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		applied, err := g.Submit(r.Context(), strata.DeleteCollectionOp{
			Name: mux.Vars(r)["collection"],
		}, policy)
		if err != nil {
			respondError(w, started, err)
			return
		}
		respondOk(w, started, applied)
	}
}

type changeAliasesRequest struct {
	Actions []strata.AliasAction `json:"actions"`
}

func (o *OpenAPIServer) changeAliasesHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := metaPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		var request changeAliasesRequest
		if err := decodeBody(r, changeAliasesSchema, &request); err != nil {
			respondError(w, started, err)
			return
		}
		applied, err := g.Submit(r.Context(), strata.ChangeAliasesOp{Actions: request.Actions}, policy)
		if err != nil {
			respondError(w, started, err)
			return
		}
		respondOk(w, started, applied)
	}
}

func (o *OpenAPIServer) listAliasesHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		aliases, err := g.Executor().ListAliases(r.Context())
		if err != nil {
			respondError(w, started, err)
			return
		}
		respondOk(w, started, map[string]any{"aliases": aliases})
	}
}

func (o *OpenAPIServer) collectionAliasesHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		aliases, err := g.Executor().ListCollectionAliases(r.Context(), mux.Vars(r)["collection"])
		if err != nil {
			respondError(w, started, err)
			return
		}
		respondOk(w, started, map[string]any{"aliases": aliases})
	}
}

func (o *OpenAPIServer) clusterInfoHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		info, err := g.Executor().ClusterInfo(r.Context(), mux.Vars(r)["collection"])
		if err != nil {
			respondError(w, started, err)
			return
		}
		respondOk(w, started, info)
	}
}

func (o *OpenAPIServer) updateClusterHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		policy, err := metaPolicy(r)
		if err != nil {
			respondError(w, started, err)
			return
		}
		var operation strata.ClusterOperation
		if err := decodeBody(r, updateClusterSchema, &operation); err != nil {
			respondError(w, started, err)
			return
		}
		applied, err := g.Submit(r.Context(), strata.ClusterOp{
			Name:      mux.Vars(r)["collection"],
			Operation: operation,
		}, policy)
		if err != nil {
			respondError(w, started, err)
			return
		}
		respondOk(w, started, applied)
	}
}
