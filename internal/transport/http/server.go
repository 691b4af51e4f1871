// Package http exposes the control API: monitoring start/stop and status,
// detection settings, alert history, historical analysis jobs and the live
// alert websocket stream.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/jobs"
	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/metrics"
	"fleet-monitor/fueltheft/internal/notify"
	"fleet-monitor/fueltheft/internal/pipeline"
	"fleet-monitor/fueltheft/internal/store"
)

// Monitor is the detection engine as seen by the API.
type Monitor interface {
	Start(ctx context.Context) error
	Stop()
	Status() pipeline.PollerStatus
	Settings() domain.Settings
	UpdateSettings(ctx context.Context, s domain.Settings) error
}

type AlertLister interface {
	ListAlerts(ctx context.Context, f store.AlertFilter) ([]domain.Alert, error)
}

// Analyses starts and reports historical analysis jobs.
type Analyses interface {
	Start(ctx context.Context, from, to time.Time) jobs.Job
	Get(id string) (jobs.Job, error)
}

// Streamer accepts websocket subscribers.
type Streamer interface {
	Register(c notify.Subscriber, vehicleID string)
	Unregister(c notify.Subscriber)
	Len() int
}

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires a Server. Stream and Health may be empty.
type Options struct {
	Monitor     Monitor
	Alerts      AlertLister
	Analyses    Analyses
	Stream      Streamer
	Auth        KeyAuthenticator
	Health      map[string]Pinger
	MaxAnalysis time.Duration
	Logger      log.Logger
}

type Server struct {
	monitor     Monitor
	alerts      AlertLister
	analyses    Analyses
	stream      Streamer
	health      map[string]Pinger
	maxAnalysis time.Duration
	upgrader    websocket.Upgrader
	log         log.Logger
	router      *mux.Router
}

func NewServer(o Options) *Server {
	logger := o.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Server{
		monitor:     o.Monitor,
		alerts:      o.Alerts,
		analyses:    o.Analyses,
		stream:      o.Stream,
		health:      o.Health,
		maxAnalysis: o.MaxAnalysis,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logger.WithName("http"),
	}

	r := mux.NewRouter()
	r.Use(accessLog(s.log))
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	authed := NewAuthMiddleware(o.Auth)
	r.Handle("/ws/alerts", authed.Wrap(http.HandlerFunc(s.streamAlerts))).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authed.Wrap)
	api.HandleFunc("/monitor/start", s.startMonitor).Methods(http.MethodPost)
	api.HandleFunc("/monitor/stop", s.stopMonitor).Methods(http.MethodPost)
	api.HandleFunc("/status", s.status).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.getSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.putSettings).Methods(http.MethodPut)
	api.HandleFunc("/alerts", s.listAlerts).Methods(http.MethodGet)
	api.HandleFunc("/analyses", s.startAnalysis).Methods(http.MethodPost)
	api.HandleFunc("/analyses/{id}", s.getAnalysis).Methods(http.MethodGet)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info("http server stopped")
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
