// Package ops exposes the read-only operational query surface over HTTP:
// audit buffer snapshots, per-actor history, manual flush and clear, shadow
// reports and CSV export, and scheduler tick statistics.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/stormglade/swingtimer/internal/audit"
	"github.com/stormglade/swingtimer/internal/config"
	"github.com/stormglade/swingtimer/internal/game/timing"
)

// Server is the ops HTTP endpoint. None of its handlers mutate scheduling
// state; flush and clear act only on the audit pipeline.
type Server struct {
	recorder  *audit.Recorder
	flusher   *audit.Flusher
	shadow    *audit.Shadow
	scheduler *timing.Scheduler
	logger    *zap.Logger
	http      *http.Server
}

// NewServer creates an ops Server bound per cfg. shadow may be nil when
// shadow mode is disabled; its endpoints then return 404.
//
// Precondition: recorder, flusher, scheduler, and logger must be non-nil.
func NewServer(cfg config.OpsConfig, recorder *audit.Recorder, flusher *audit.Flusher, shadow *audit.Shadow, scheduler *timing.Scheduler, logger *zap.Logger) *Server {
	s := &Server{
		recorder:  recorder,
		flusher:   flusher,
		shadow:    shadow,
		scheduler: scheduler,
		logger:    logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/audit/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/audit/history/{actor}", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/audit/flush", s.handleFlush).Methods(http.MethodPost)
	r.HandleFunc("/audit/clear", s.handleClear).Methods(http.MethodPost)
	r.HandleFunc("/shadow/report", s.handleShadowReport).Methods(http.MethodGet)
	r.HandleFunc("/shadow/export.csv", s.handleShadowCSV).Methods(http.MethodGet)
	r.HandleFunc("/scheduler/stats", s.handleSchedulerStats).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start begins serving. Blocks until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.http.Shutdown(ctx)
}

// Handler returns the underlying mux for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing ops response", zap.Error(err))
	}
}

// handleSnapshot returns a read-only copy of the unflushed audit buffer.
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	entries := s.recorder.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"level":   s.recorder.EffectiveLevel().String(),
		"entries": entries,
	})
}

// handleHistory returns an actor's recent entries, optionally limited to a
// trailing window via ?window=30s.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	actorID := mux.Vars(r)["actor"]
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid window: " + err.Error()})
			return
		}
		window = d
	}
	entries := s.recorder.History(actorID, window)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"actor_id": actorID,
		"count":    len(entries),
		"entries":  entries,
	})
}

// handleFlush triggers an immediate flush.
func (s *Server) handleFlush(w http.ResponseWriter, _ *http.Request) {
	n, err := s.flusher.Flush()
	if err != nil {
		s.logger.Warn("manual flush failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"flushed": n})
}

// handleClear discards the unflushed buffer.
func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	s.recorder.Clear()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleShadowReport returns aggregate shadow-comparison statistics.
func (s *Server) handleShadowReport(w http.ResponseWriter, _ *http.Request) {
	if s.shadow == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "shadow mode disabled"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.shadow.BuildReport())
}

// handleShadowCSV streams the comparison history as CSV.
func (s *Server) handleShadowCSV(w http.ResponseWriter, _ *http.Request) {
	if s.shadow == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "shadow mode disabled"})
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="shadow_comparisons.csv"`)
	if err := s.shadow.WriteCSV(w); err != nil {
		s.logger.Warn("shadow csv export failed", zap.Error(err))
	}
}

// handleSchedulerStats returns the rolling tick performance window.
func (s *Server) handleSchedulerStats(w http.ResponseWriter, _ *http.Request) {
	snap := s.scheduler.Stats().Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"participants":    s.scheduler.ParticipantCount(),
		"ticks":           snap.Ticks,
		"window_size":     snap.WindowSize,
		"average_ms":      float64(snap.Average.Microseconds()) / 1000.0,
		"max_ms":          float64(snap.Max.Microseconds()) / 1000.0,
		"all_time_max_ms": float64(snap.AllTimeMax.Microseconds()) / 1000.0,
		"p99_ms":          float64(snap.P99.Microseconds()) / 1000.0,
	})
}
