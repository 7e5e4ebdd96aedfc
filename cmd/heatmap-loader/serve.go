package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/heatmap"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/metrics"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run on a cron schedule and expose an HTTP trigger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		a, err := newApp(ctx, cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		loc, err := cfg.Location()
		if err != nil {
			return err
		}

		r := newRunner(ctx, a.Pipeline)
		defer r.Wait()

		scheduler := cron.NewWithLocation(loc)
		if err := scheduler.AddFunc(cfg.Schedule.Cron, func() { r.Start("schedule") }); err != nil {
			return fmt.Errorf("schedule %q: %w", cfg.Schedule.Cron, err)
		}
		scheduler.Start()
		defer scheduler.Stop()

		log.Info().
			Str("cron", cfg.Schedule.Cron).
			Str("timezone", loc.String()).
			Msg("Scheduler started")

		if cfg.Schedule.RunOnStart {
			r.Start("startup")
		}

		addr := serveAddr
		if addr == "" {
			addr = cfg.Server.Addr
		}

		srv := &http.Server{
			Addr:              addr,
			Handler:           newRouter(r),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			log.Info().Msg("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen: %w", err)
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// pipelineRunner is the part of *pipeline.Pipeline the runner needs.
type pipelineRunner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// runStatus describes the most recent run.
type runStatus struct {
	Source       string    `json:"source"`
	RunID        string    `json:"run_id,omitempty"`
	TargetDate   string    `json:"target_date,omitempty"`
	Tiles        int       `json:"tiles"`
	Records      int       `json:"records"`
	FailedChunks int       `json:"failed_chunks"`
	Degraded     bool      `json:"degraded"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// runner allows at most one pipeline run at a time. Triggers that arrive
// while a run is active are rejected, never queued.
type runner struct {
	ctx      context.Context
	pipeline pipelineRunner
	active   sync.Mutex
	wg       sync.WaitGroup
	logger   zerolog.Logger

	mu   sync.RWMutex
	last *runStatus
}

func newRunner(ctx context.Context, p pipelineRunner) *runner {
	return &runner{
		ctx:      ctx,
		pipeline: p,
		logger:   log.With().Str("component", "runner").Logger(),
	}
}

// Start launches a run in the background. It returns false if a run is
// already active.
func (r *runner) Start(source string) bool {
	if !r.active.TryLock() {
		r.logger.Warn().Str("source", source).Msg("Run skipped, previous run still active")
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.active.Unlock()
		r.execute(source)
	}()
	return true
}

func (r *runner) execute(source string) {
	status := &runStatus{Source: source, StartedAt: time.Now()}

	result, err := r.pipeline.Run(r.ctx)
	status.FinishedAt = time.Now()
	if err != nil {
		status.Error = err.Error()
	} else {
		status.RunID = result.RunID
		status.TargetDate = result.TargetDate.Format(heatmap.DateLayout)
		status.Tiles = result.TileCount
		status.Records = len(result.Records)
		status.FailedChunks = len(result.Report.Failed)
		status.Degraded = result.Degraded()
	}

	r.mu.Lock()
	r.last = status
	r.mu.Unlock()
}

// Last returns a copy of the most recent run status, or nil.
func (r *runner) Last() *runStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	s := *r.last
	return &s
}

// Wait blocks until all started runs have finished.
func (r *runner) Wait() {
	r.wg.Wait()
}

func newRouter(r *runner) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/health", healthHandler)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	router.Post("/run", runHandler(r))
	router.Get("/status", statusHandler(r))

	return router
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func runHandler(rn *runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rn.Start("http") {
			writeJSON(w, http.StatusConflict, map[string]string{"status": "busy", "error": "a run is already in progress"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func statusHandler(rn *runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		last := rn.Last()
		if last == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run yet"})
			return
		}
		writeJSON(w, http.StatusOK, last)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
