package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/jobs"
	"fleet-monitor/fueltheft/internal/notify"
	"fleet-monitor/fueltheft/internal/pipeline"
	"fleet-monitor/fueltheft/internal/store"
)

const healthTimeout = 2 * time.Second

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.health))
	status := http.StatusOK
	for name, p := range s.health {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "unavailable"
	}
	writeJSON(w, status, body)
}

func (s *Server) startMonitor(w http.ResponseWriter, r *http.Request) {
	err := s.monitor.Start(r.Context())
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.log.Error(err, "start monitoring failed", "owner", Owner(r.Context()))
		writeError(w, http.StatusBadGateway, fmt.Sprintf("start monitoring: %v", err))
	default:
		s.log.Info("monitoring started via api", "owner", Owner(r.Context()))
		writeJSON(w, http.StatusOK, s.monitor.Status())
	}
}

func (s *Server) stopMonitor(w http.ResponseWriter, r *http.Request) {
	s.monitor.Stop()
	s.log.Info("monitoring stopped via api", "owner", Owner(r.Context()))
	writeJSON(w, http.StatusOK, s.monitor.Status())
}

type statusResponse struct {
	pipeline.PollerStatus
	Settings    domain.Settings `json:"settings"`
	Subscribers int             `json:"subscribers"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		PollerStatus: s.monitor.Status(),
		Settings:     s.monitor.Settings(),
	}
	if s.stream != nil {
		resp.Subscribers = s.stream.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Settings())
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var in domain.Settings
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid settings body: %v", err))
		return
	}

	err := s.monitor.UpdateSettings(r.Context(), in)
	switch {
	case errors.Is(err, domain.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.log.Error(err, "settings update failed")
		writeError(w, http.StatusInternalServerError, "settings not saved")
	default:
		writeJSON(w, http.StatusOK, s.monitor.Settings())
	}
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	var f store.AlertFilter
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	if v := q.Get("historical"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "historical must be true or false")
			return
		}
		f.Historical = &b
	}

	alerts, err := s.alerts.ListAlerts(r.Context(), f)
	if err != nil {
		s.log.Error(err, "list alerts failed")
		writeError(w, http.StatusInternalServerError, "could not list alerts")
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

type analysisRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (s *Server) startAnalysis(w http.ResponseWriter, r *http.Request) {
	var in analysisRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid analysis body: %v", err))
		return
	}
	if in.From.IsZero() || in.To.IsZero() {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	if !in.From.Before(in.To) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}
	if s.maxAnalysis > 0 && in.To.Sub(in.From) > s.maxAnalysis {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("range exceeds the maximum of %d days", int(s.maxAnalysis/(24*time.Hour))))
		return
	}

	job := s.analyses.Start(r.Context(), in.From, in.To)
	s.log.Info("analysis requested", "job", job.ID, "owner", Owner(r.Context()))
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	job, err := s.analyses.Get(mux.Vars(r)["id"])
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// streamAlerts upgrades to a websocket and streams alerts until the peer
// disconnects. ?vehicle= limits the stream to one vehicle.
func (s *Server) streamAlerts(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "alert stream disabled")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := notify.NewClient(conn, s.log)
	s.stream.Register(c, r.URL.Query().Get("vehicle"))
	c.ReadUntilClosed()
	s.stream.Unregister(c)
	c.Close()
}
