package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/pgapi/pkg/hooks"
	"github.com/edgeflare/pgapi/pkg/httputil"
	mw "github.com/edgeflare/pgapi/pkg/httputil/middleware"
	"github.com/edgeflare/pgapi/pkg/metrics"
	pg "github.com/edgeflare/pgapi/pkg/pgx"
	"github.com/edgeflare/pgapi/pkg/rest"
	"github.com/edgeflare/pgapi/pkg/schema"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Connects to PostgreSQL, builds the resource model and serves it over HTTP until interrupted`,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("rest.pg.connString", "c", "", "PostgreSQL connection string")
	f.StringP("rest.listenAddr", "l", "", "REST server listen address")
	f.String("rest.baseURL", "", "Base URL for links in responses")
	f.String("rest.tls.certFile", "", "TLS certificate file, enables HTTPS with rest.tls.keyFile")
	f.String("rest.tls.keyFile", "", "TLS private key file")
	f.Bool("rest.schema.introspect", false, "Build the resource model from the database catalog")
	f.String("metrics.addr", "", "Prometheus metrics listen address, empty disables")
}

// flagOverrides applies flags given on the command line over the loaded config.
func flagOverrides(cmd *cobra.Command) {
	v := viper.New()
	v.BindPFlags(cmd.Flags())
	f := cmd.Flags()
	if f.Changed("rest.pg.connString") {
		cfg.REST.PG.ConnString = v.GetString("rest.pg.connString")
	}
	if f.Changed("rest.listenAddr") {
		cfg.REST.ListenAddr = v.GetString("rest.listenAddr")
	}
	if f.Changed("rest.baseURL") {
		cfg.REST.BaseURL = v.GetString("rest.baseURL")
	}
	if f.Changed("rest.tls.certFile") {
		cfg.REST.TLS.CertFile = v.GetString("rest.tls.certFile")
	}
	if f.Changed("rest.tls.keyFile") {
		cfg.REST.TLS.KeyFile = v.GetString("rest.tls.keyFile")
	}
	if f.Changed("rest.schema.introspect") {
		cfg.REST.Schema.Introspect = v.GetBool("rest.schema.introspect")
	}
	if f.Changed("metrics.addr") {
		cfg.Metrics.Addr = v.GetString("metrics.addr")
	}
}

// connect opens the pool, retrying the first ping for rest.pg.connectTimeout.
func connect(ctx context.Context, logger *zap.Logger) (*pg.PoolManager, *pgxpool.Pool, error) {
	if cfg.REST.PG.ConnString == "" {
		return nil, nil, errors.New("PostgreSQL connection string required (rest.pg.connString or PGAPI_REST_PG_CONNSTRING)")
	}
	timeout, err := time.ParseDuration(cfg.REST.PG.ConnectTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("rest.pg.connectTimeout: %w", err)
	}

	pools := pg.NewPoolManager(logger)
	if err := pools.Add(ctx, pg.Pool{Name: "default", ConnString: cfg.REST.PG.ConnString, ConnectTimeout: timeout}, true); err != nil {
		return nil, nil, err
	}
	pool, err := pools.Active()
	if err != nil {
		pools.Close()
		return nil, nil, err
	}
	return pools, pool, nil
}

// routerOptions configures the HTTP server from rest.readHeaderTimeout and rest.tls.
func routerOptions() ([]httputil.RouterOptions, error) {
	var opts []httputil.RouterOptions
	if cfg.REST.ReadHeaderTimeout != "" {
		d, err := time.ParseDuration(cfg.REST.ReadHeaderTimeout)
		if err != nil {
			return nil, fmt.Errorf("rest.readHeaderTimeout: %w", err)
		}
		opts = append(opts, httputil.WithServerOptions(func(s *http.Server) { s.ReadHeaderTimeout = d }))
	}
	if cfg.REST.TLS.Enabled() {
		opts = append(opts, httputil.WithTLS(cfg.REST.TLS.CertFile, cfg.REST.TLS.KeyFile))
	}
	return opts, nil
}

// loadModel builds the resource model from the config's schema section, or from the
// catalog when introspection is enabled.
func loadModel(ctx context.Context, pool *pgxpool.Pool) (*schema.Model, error) {
	var decl schema.Declaration
	var err error
	if cfg.REST.Schema.Introspect {
		decl, err = schema.Introspect(ctx, pool, cfg.REST.Schema.Schemas...)
	} else {
		decl, err = cfg.Declaration()
	}
	if err != nil {
		return nil, err
	}
	if len(decl.Entities) == 0 {
		return nil, errors.New("no resource types declared; add a schema section or set rest.schema.introspect")
	}
	return schema.Build(decl)
}

func runServe(cmd *cobra.Command, args []string) error {
	flagOverrides(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}
	routerOpts, err := routerOptions()
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pools, pool, err := connect(ctx, logger)
	if err != nil {
		return err
	}
	defer pools.Close()

	model, err := loadModel(ctx, pool)
	if err != nil {
		return err
	}
	logger.Info("resource model loaded", zap.Int("types", len(model.Types())))

	var wg sync.WaitGroup
	if cfg.Metrics.Addr != "" {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{Addr: cfg.Metrics.Addr, Logger: logger})
	}

	middleware := []httputil.Middleware{mw.RequestID, mw.CORSWithOptions(nil)}
	if logLevel != "none" {
		middleware = append(middleware, mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger}))
	}
	middleware = append(middleware, mw.Postgres(pool))

	srv := rest.NewServer(model, hooks.NewRegistry(model), pool, rest.Options{
		BaseURL:           cfg.REST.BaseURL,
		Query:             cfg.QueryOptions(),
		RelationshipLimit: cfg.REST.Page.RelationshipLimit,
		Logger:            logger,
		Middleware:        middleware,
		RouterOptions:     routerOpts,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Router().ListenAndServe(cfg.REST.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Router().Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	wg.Wait()
	logger.Info("server gracefully stopped")
	return nil
}
