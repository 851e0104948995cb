package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/edgeflare/pgapi/pkg/apierr"
	"github.com/edgeflare/pgapi/pkg/document"
	"github.com/edgeflare/pgapi/pkg/executor"
	"github.com/edgeflare/pgapi/pkg/hooks"
	"github.com/edgeflare/pgapi/pkg/httputil"
	"github.com/edgeflare/pgapi/pkg/metrics"
	pg "github.com/edgeflare/pgapi/pkg/pgx"
	"github.com/edgeflare/pgapi/pkg/query"
	"github.com/edgeflare/pgapi/pkg/schema"
	"github.com/edgeflare/pgapi/pkg/translate"
	"go.uber.org/zap"
)

// Options configure a Server.
type Options struct {
	// BaseURL prefixes every link in responses. Routing is unaffected.
	BaseURL string
	Query   query.Options
	// RelationshipLimit caps the linkage rendered per to-many relationship.
	RelationshipLimit int
	Logger            *zap.Logger
	// Middleware wraps every route, outermost first.
	Middleware []httputil.Middleware
	// RouterOptions configure the router's http.Server.
	RouterOptions []httputil.RouterOptions
}

// Server serves every resource type of a Model. It holds one Resource per type and
// dispatches to it by the {type} path segment.
type Server struct {
	model      *schema.Model
	hooks      *hooks.Registry
	translator *translate.Translator
	exec       *executor.Executor
	serializer *document.Serializer
	db         pg.Conn
	logger     *zap.Logger
	opts       Options
	resources  map[string]*Resource
	router     *httputil.Router
}

// Resource is the handler state of one resource type.
type Resource struct {
	Type *schema.ResourceType
}

// NewServer builds the handlers of every type of m. reg is frozen; a nil reg serves
// without hooks. db is used when no request-scoped connection is attached by
// middleware.Postgres.
func NewServer(m *schema.Model, reg *hooks.Registry, db pg.Conn, opts Options) *Server {
	if reg == nil {
		reg = hooks.NewRegistry(m)
	}
	reg.Freeze()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RelationshipLimit <= 0 {
		opts.RelationshipLimit = opts.Query.DefaultLimit
	}

	tr := translate.New(m)
	s := &Server{
		model:      m,
		hooks:      reg,
		translator: tr,
		exec:       executor.New(tr),
		serializer: document.NewSerializer(m, reg, document.Options{
			BaseURL:           opts.BaseURL,
			RelationshipLimit: opts.RelationshipLimit,
		}),
		db:        db,
		logger:    opts.Logger,
		opts:      opts,
		resources: make(map[string]*Resource),
		router:    httputil.NewRouter(append([]httputil.RouterOptions{httputil.WithLogger(opts.Logger)}, opts.RouterOptions...)...),
	}
	for _, rt := range m.Types() {
		s.resources[rt.Name] = &Resource{Type: rt}
	}
	if len(opts.Middleware) > 0 {
		s.router.Use(opts.Middleware[0], opts.Middleware[1:]...)
	}
	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.router.HandleFunc("GET /{type}", s.handle("collection_get", s.collectionGet))
	s.router.HandleFunc("POST /{type}", s.handle("collection_post", s.collectionPost))
	s.router.HandleFunc("GET /{type}/{id}", s.handle("get", s.get))
	s.router.HandleFunc("PATCH /{type}/{id}", s.handle("patch", s.patch))
	s.router.HandleFunc("DELETE /{type}/{id}", s.handle("delete", s.delete))
	s.router.HandleFunc("GET /{type}/{id}/{rel}", s.handle("related_get", s.relatedGet))
	s.router.HandleFunc("GET /{type}/{id}/relationships/{rel}", s.handle("relationships_get", s.relationshipsGet))
	s.router.HandleFunc("POST /{type}/{id}/relationships/{rel}", s.handle("relationships_post", s.relationshipsMutate(hooks.BeforeRelationshipsPost)))
	s.router.HandleFunc("PATCH /{type}/{id}/relationships/{rel}", s.handle("relationships_patch", s.relationshipsMutate(hooks.BeforeRelationshipsPatch)))
	s.router.HandleFunc("DELETE /{type}/{id}/relationships/{rel}", s.handle("relationships_delete", s.relationshipsMutate(hooks.BeforeRelationshipsDelete)))
	// catch-all so preflight requests and unknown paths pass through the middleware chain
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions} {
		s.router.HandleFunc(method+" /", s.fallback)
	}
}

// ServeHTTP dispatches through the registered routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router, e.g. to ListenAndServe or add routes.
func (s *Server) Router() *httputil.Router {
	return s.router
}

// Model returns the served model.
func (s *Server) Model() *schema.Model {
	return s.model
}

// response is what a handler produced. A nil doc is written as 204 No Content.
type response struct {
	status   int
	doc      *document.Document
	location string
}

type handlerFunc func(r *http.Request, res *Resource) (*response, error)

func (s *Server) fallback(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	apierr.Write(w, apierr.UnknownPath("no route for %s %s", r.Method, r.URL.Path))
}

func (s *Server) handle(op string, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		typ := r.PathValue("type")

		var (
			resp *response
			err  error
		)
		res, ok := s.resources[typ]
		if !ok {
			typ = "unknown"
			err = apierr.UnknownPath("no resource type %q", r.PathValue("type"))
		} else {
			resp, err = fn(r, res)
		}

		var status int
		if err != nil {
			status = s.fail(w, r, typ, err)
		} else {
			status = resp.status
			s.write(w, r, resp)
		}
		metrics.Observe(typ, op, status, time.Since(start))
	}
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, resp *response) {
	if resp.location != "" {
		w.Header().Set("Location", resp.location)
	}
	if resp.doc == nil {
		w.WriteHeader(resp.status)
		return
	}
	data, err := json.Marshal(resp.doc)
	if err != nil {
		s.fail(w, r, r.PathValue("type"), err)
		return
	}
	w.Header().Set("Content-Type", apierr.MediaType)
	w.WriteHeader(resp.status)
	w.Write(data)
}

// fail renders err and returns the status written. Rejections become 403.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, typ string, err error) int {
	logger := s.log(r)

	var rej *hooks.Rejection
	if errors.As(err, &rej) {
		metrics.HookRejections.WithLabelValues(typ, string(rej.Event)).Inc()
		logger.Info("request rejected by hook",
			zap.String("type", typ), zap.String("hook", rej.Hook),
			zap.String("event", string(rej.Event)), zap.String("reason", rej.Reason))
		err = apierr.Forbidden(rej.Reason, err)
	}

	apiErr := apierr.From(err)
	if apiErr.Status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("type", typ), zap.Error(apiErr.Err))
	}
	apierr.Write(w, apiErr)
	return apiErr.Status
}

func (s *Server) log(r *http.Request) *zap.Logger {
	if l, ok := r.Context().Value(httputil.LogEntryCtxKey).(*zap.Logger); ok {
		return l
	}
	return s.logger
}

// conn returns the request-scoped connection, falling back to the server's.
func (s *Server) conn(r *http.Request) pg.Conn {
	if c, ok := httputil.Conn(r); ok {
		return c
	}
	return s.db
}

func (s *Server) hookContext(r *http.Request, conn pg.Querier, rt *schema.ResourceType) *hooks.Context {
	return &hooks.Context{Context: r.Context(), Request: r, Conn: conn, Type: rt}
}

// inTx runs fn in a transaction that commits only if fn succeeds.
func (s *Server) inTx(ctx context.Context, conn pg.Conn, fn func(tx pg.Querier) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
