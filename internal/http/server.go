package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dbsetup/internal/db"
	"dbsetup/internal/introspect"
	"dbsetup/internal/journal"
	"dbsetup/internal/refresh"
	"dbsetup/internal/script"
)

type Store interface {
	Ping(ctx context.Context) error
	Select(ctx context.Context, table string) ([]db.Row, error)
}

type ScriptRunner interface {
	Execute(ctx context.Context, s script.Script) (*script.Report, error)
}

type Refresher interface {
	Refresh(ctx context.Context) refresh.Result
}

type Inspector interface {
	Walk(ctx context.Context) (introspect.Inventory, error)
}

type Journal interface {
	RecordScript(ctx context.Context, report *script.Report) error
	RecordRefresh(ctx context.Context, res refresh.Result) error
	List(ctx context.Context, limit int) ([]journal.Run, error)
	Entries(ctx context.Context, runID string) ([]journal.Entry, error)
}

type Deps struct {
	Store     Store
	Scripts   ScriptRunner
	Refresher Refresher
	Inspector Inspector
	Journal   Journal
	// Tables whose rows may be read through the API.
	Tables []string
}

type Options struct {
	Addr string
	// Token, when set, is required as a bearer token on /api/v1.
	Token  string
	Logger *slog.Logger
}

type Server struct {
	addr   string
	token  string
	logger *slog.Logger
	deps   Deps
	// busy serializes operations that write to the store.
	busy sync.Mutex
}

func New(opts Options, deps Deps) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{addr: opts.Addr, token: opts.Token, logger: logger, deps: deps}
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.logger))

	r.Handle("/metrics", promhttp.Handler())

	ops := &OperationHandler{deps: s.deps, logger: s.logger}
	inv := &InventoryHandler{deps: s.deps, logger: s.logger}
	runs := &RunHandler{journal: s.deps.Journal, logger: s.logger}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(RequireToken(s.token))

		api.Group(func(read chi.Router) {
			read.Use(middleware.Timeout(60 * time.Second))
			read.Method(http.MethodGet, "/health", HealthHandler{Store: s.deps.Store})
			read.Get("/schemas", inv.Schemas)
			read.Get("/tables/{table}/rows", inv.Rows)
			read.Get("/runs", runs.List)
			read.Get("/runs/{id}", runs.Get)
		})

		api.Group(func(write chi.Router) {
			write.Use(s.exclusive)
			write.Post("/scripts/execute", ops.ExecuteScript)
			write.Post("/refresh", ops.Refresh)
		})
	})

	return r
}

// exclusive rejects a write while another one is still running.
func (s *Server) exclusive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.busy.TryLock() {
			writeError(w, http.StatusConflict, "busy", "another operation is in progress")
			return
		}
		defer s.busy.Unlock()
		next.ServeHTTP(w, r)
	})
}
