// Package openapi is the http transport of a strata node. Routes accept
// collection and snapshot lifecycle requests, resolve their wait policy and
// dispatch them through the gateway.
package openapi

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stratabase/strata"
	"github.com/stratabase/strata/util"
	"golang.org/x/sync/errgroup"
)

//go:embed openapi.yaml.tmpl
var openapiTemplate string

// Config are custom params for the http transport
type Config struct {
	Title             string   `json:"title" yaml:"title" validate:"required"`
	Version           string   `json:"version" yaml:"version" validate:"required"`
	Description       string   `json:"description" yaml:"description" validate:"required"`
	Port              int      `json:"port" yaml:"port" validate:"required"`
	LogLevel          string   `json:"log_level" yaml:"log_level"`
	AllowedOrigins    []string `json:"allowed_origins" yaml:"allowed_origins"`
	RequestValidation bool     `json:"request_validation" yaml:"request_validation"`
	RateLimit         float64  `json:"rate_limit" yaml:"rate_limit"`
	MaxUploadSize     int64    `json:"max_upload_size" yaml:"max_upload_size"`
}

// OpenAPIServer serves the strata http api
type OpenAPIServer struct {
	params        Config
	router        *mux.Router
	upgrader      websocket.Upgrader
	spec          []byte
	openapiRouter routers.Router
	logger        strata.Logger
}

// New creates a new openapi server
func New(params Config, opts ...Opt) (*OpenAPIServer, error) {
	if err := util.ValidateStruct(&params); err != nil {
		return nil, err
	}
	if params.MaxUploadSize == 0 {
		params.MaxUploadSize = 32 << 20
	}
	o := &OpenAPIServer{
		params:   params,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		logger, err := strata.NewLogger(params.LogLevel, map[string]any{"service": "strata.transport"})
		if err != nil {
			return nil, err
		}
		o.logger = logger
	}
	if err := o.buildSpec(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *OpenAPIServer) buildSpec() error {
	t, err := template.New("").Funcs(sprig.FuncMap()).Parse(openapiTemplate)
	if err != nil {
		return err
	}
	buf := bytes.NewBuffer(nil)
	err = t.Execute(buf, map[string]any{
		"title":       o.params.Title,
		"description": o.params.Description,
		"version":     o.params.Version,
		"port":        o.params.Port,
	})
	if err != nil {
		return err
	}
	o.spec = buf.Bytes()
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(o.spec)
	if err != nil {
		return err
	}
	if err := doc.Validate(loader.Context); err != nil {
		return err
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return err
	}
	o.openapiRouter = router
	return nil
}

// Spec returns the rendered openapi document
func (o *OpenAPIServer) Spec() []byte {
	return o.spec
}

// RegisterRoutes mounts the api onto the server's router
func (o *OpenAPIServer) RegisterRoutes(ctx context.Context, g *strata.Gateway) {
	mwares := []mux.MiddlewareFunc{
		handlers.CORS(
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			handlers.AllowedOrigins(o.params.AllowedOrigins),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		),
	}
	if o.params.RateLimit > 0 {
		mwares = append(mwares, o.rateLimitWare())
	}
	if o.params.RequestValidation {
		mwares = append(mwares, o.openAPIValidator())
	}
	mwares = append(mwares, o.loggerWare(), handlers.RecoveryHandler())
	o.router.Use(mwares...)

	o.router.HandleFunc("/healthz", o.healthzHandler()).Methods(http.MethodGet)
	o.router.HandleFunc("/openapi.yaml", o.specHandler()).Methods(http.MethodGet)
	o.router.HandleFunc("/openapi.json", o.specHandler()).Methods(http.MethodGet)
	o.router.HandleFunc("/api/sdk", o.getSDKHandler()).Methods(http.MethodGet)
	o.router.HandleFunc("/events", o.eventsHandler(g))

	o.router.HandleFunc("/aliases", o.listAliasesHandler(g)).Methods(http.MethodGet)
	o.router.HandleFunc("/collections", o.listCollectionsHandler(g)).Methods(http.MethodGet)
	o.router.HandleFunc("/collections/aliases", o.changeAliasesHandler(g)).Methods(http.MethodPost)
	o.router.HandleFunc("/collections/{collection}", o.getCollectionHandler(g)).Methods(http.MethodGet)
	o.router.HandleFunc("/collections/{collection}", o.createCollectionHandler(g)).Methods(http.MethodPut)
	o.router.HandleFunc("/collections/{collection}", o.updateCollectionHandler(g)).Methods(http.MethodPatch)
	o.router.HandleFunc("/collections/{collection}", o.deleteCollectionHandler(g)).Methods(http.MethodDelete)
	o.router.HandleFunc("/collections/{collection}/aliases", o.collectionAliasesHandler(g)).Methods(http.MethodGet)
	o.router.HandleFunc("/collections/{collection}/cluster", o.clusterInfoHandler(g)).Methods(http.MethodGet)
	o.router.HandleFunc("/collections/{collection}/cluster", o.updateClusterHandler(g)).Methods(http.MethodPost)

	o.router.HandleFunc("/collections/{collection}/snapshots/upload", o.uploadSnapshotHandler(g)).Methods(http.MethodPost)
	o.router.HandleFunc("/collections/{collection}/snapshots/recover", o.recoverSnapshotHandler(g)).Methods(http.MethodPut)
	o.router.HandleFunc("/collections/{collection}/snapshots", o.listSnapshotsHandler(g)).Methods(http.MethodGet)
	o.router.HandleFunc("/collections/{collection}/snapshots", o.createSnapshotHandler(g)).Methods(http.MethodPost)
	o.router.HandleFunc("/collections/{collection}/snapshots/{snapshot}", o.downloadSnapshotHandler(g)).Methods(http.MethodGet)
	o.router.HandleFunc("/collections/{collection}/snapshots/{snapshot}", o.deleteSnapshotHandler(g)).Methods(http.MethodDelete)

	o.router.HandleFunc("/snapshots", o.listFullSnapshotsHandler(g)).Methods(http.MethodGet)
	o.router.HandleFunc("/snapshots", o.createFullSnapshotHandler(g)).Methods(http.MethodPost)
	o.router.HandleFunc("/snapshots/{snapshot}", o.downloadFullSnapshotHandler(g)).Methods(http.MethodGet)
	o.router.HandleFunc("/snapshots/{snapshot}", o.deleteFullSnapshotHandler(g)).Methods(http.MethodDelete)
}

// Handler returns the mounted router for tests and embedding
func (o *OpenAPIServer) Handler() http.Handler {
	return o.router
}

func (o *OpenAPIServer) healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"title":   o.params.Title,
			"version": o.params.Version,
		})
	}
}

// Serve starts the http server and blocks until the context is cancelled or
// serving fails
func (o *OpenAPIServer) Serve(ctx context.Context, g *strata.Gateway) error {
	o.RegisterRoutes(ctx, g)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%v", o.params.Port),
		Handler: o.router,
	}
	egp, ctx := errgroup.WithContext(ctx)
	egp.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	egp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return egp.Wait()
}

// Logger returns the transport's logging instance
func (o *OpenAPIServer) Logger() strata.Logger {
	return o.logger
}
