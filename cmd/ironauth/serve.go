package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/lborres/ironauth"
	"github.com/lborres/ironauth/adapters/memory"
	"github.com/lborres/ironauth/adapters/nethttp"
	pgxadapter "github.com/lborres/ironauth/adapters/pgx"
	redisadapter "github.com/lborres/ironauth/adapters/redis"
	"github.com/lborres/ironauth/broadcast"
	"github.com/lborres/ironauth/metrics"
	"github.com/lborres/ironauth/providers"
)

const (
	storeMemory   = "memory"
	storePostgres = "postgres"
	storeRedis    = "redis"
)

type serveOptions struct {
	addr        string
	store       string
	databaseURL string
	redisURL    string
	basePath    string
	metrics     bool
	debug       bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the auth routes",
		Long: `Serve the auth routes with the chosen account store.

Session changes announced by a signed-in browser tab are relayed over a
WebSocket at /ws to the other tabs of the same user. With a redis store, the
relay is shared by every instance.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&opts.store, "store", storeMemory, "Account store: memory, postgres or redis")
	cmd.Flags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
	cmd.Flags().StringVar(&opts.redisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis connection URL")
	cmd.Flags().StringVar(&opts.basePath, "base-path", "", "Mount path of the auth routes (default /api/auth)")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", true, "Expose Prometheus metrics at /metrics")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Log failed requests")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srv, err := newServer(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer srv.close()

	httpServer := &http.Server{
		Addr:              opts.addr,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ironauth: listening", "addr", opts.addr, "store", opts.store)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("ironauth: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// server is the wired HTTP handler plus everything that must be released
// when it stops.
type server struct {
	handler http.Handler
	relay   *broadcast.Relay
	closers []func()
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newServer(ctx context.Context, opts serveOptions, logger *slog.Logger) (_ *server, err error) {
	s := &server{}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	var (
		adapter   ironauth.Adapter
		transport broadcast.Transport
	)

	switch opts.store {
	case storeMemory:
		adapter = memory.New()
		transport = broadcast.NewMemoryTransport()

	case storePostgres:
		pool, err := pgxpool.New(ctx, opts.databaseURL)
		if err != nil {
			return nil, fmt.Errorf("pgxpool.New: %w", err)
		}
		s.closers = append(s.closers, pool.Close)

		pg := pgxadapter.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		adapter = pg
		transport = broadcast.NewMemoryTransport()

	case storeRedis:
		redisOpts, err := goredis.ParseURL(opts.redisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		rdb := goredis.NewClient(redisOpts)
		s.closers = append(s.closers, func() { _ = rdb.Close() })

		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		adapter = redisadapter.New(rdb)
		transport = broadcast.NewRedisTransport(rdb)

	default:
		return nil, fmt.Errorf("unknown store %q", opts.store)
	}

	authOpts := []ironauth.Option{}
	registry := prometheus.NewRegistry()
	if opts.metrics {
		authOpts = append(authOpts, ironauth.WithObserver(metrics.New(metrics.WithRegistry(registry))))
	}

	auth, err := ironauth.New(ironauth.Config{
		Adapter:   adapter,
		Providers: []ironauth.Provider{providers.Credentials()},
		BasePath:  opts.basePath,
		Debug:     opts.debug,
		Logger:    logger,
	}, authOpts...)
	if err != nil {
		return nil, err
	}

	// tabs connect with their session cookie and only see their user's events
	s.relay = broadcast.NewRelay(transport, auth, nil, broadcast.WithLogger(logger))
	s.closers = append(s.closers, s.relay.Close)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.debug {
		r.Use(middleware.Logger)
	}

	nethttp.Mount(r, auth)
	r.Handle("/ws", s.relay)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if opts.metrics {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	s.handler = r
	return s, nil
}
