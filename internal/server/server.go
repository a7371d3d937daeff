package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"siftsearch/internal/config"
	"siftsearch/internal/featuredb"
	"siftsearch/internal/features"
	mylog "siftsearch/internal/log"
	"siftsearch/internal/search"
)

// Loader reads a feature database from a path or URI.
type Loader func(ctx context.Context, uri string) (*featuredb.Database, error)

// API serves search, stats, reload and metrics over one Engine.
type API struct {
	engine   *search.Engine
	ex       features.Extractor
	cfg      config.ServerConfig
	log      *mylog.Logger
	metrics  *metricsCollector
	load     Loader
	loadedAt atomic.Int64 // unix nanos
	reloadMu sync.Mutex
}

// Option customises an API.
type Option func(a *API)

// WithLogger replaces the default stderr logger.
func WithLogger(lg *mylog.Logger) Option { return func(a *API) { a.log = lg } }

// WithLoader replaces featuredb.Open for /reload.
func WithLoader(l Loader) Option { return func(a *API) { a.load = l } }

// NewAPI wires the engine and extractor behind the HTTP handlers.
func NewAPI(e *search.Engine, ex features.Extractor, cfg config.ServerConfig, opts ...Option) *API {
	a := &API{
		engine:  e,
		ex:      ex,
		cfg:     cfg,
		log:     mylog.New(),
		metrics: newMetrics(),
		load:    featuredb.Open,
	}
	for _, o := range opts {
		o(a)
	}
	if a.cfg.MaxUploadBytes <= 0 {
		a.cfg.MaxUploadBytes = 16 << 20
	}
	a.loadedAt.Store(time.Now().UnixNano())
	return a
}

func (a *API) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/search", a.handleSearch)
	mux.HandleFunc("/stats", a.handleStats)
	mux.HandleFunc("/reload", a.handleReload)
	mux.HandleFunc("/metrics", a.handleMetrics)
	return mux
}

// Handler is the full middleware chain around the routes.
func (a *API) Handler() http.Handler {
	return a.logMiddleware(rateLimitMiddleware(a.mux()))
}

// Run serves until SIGINT/SIGTERM, then drains in-flight requests.
func Run(addr string, a *API) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	a.log.Info("server.listen", "addr", addr, "records", a.engine.Database().Len(), "read_only", a.cfg.ReadOnly)

	// graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	select {
	case sig := <-sigc:
		a.log.Info("server.shutdown", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
