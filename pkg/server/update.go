package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ssdims/ssdims/pkg/coordinator"
	"github.com/ssdims/ssdims/pkg/log"
	"github.com/ssdims/ssdims/pkg/types"
)

// handleUpdate runs an update cycle right away and responds with its status.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := s.coordinator.Update(ctx)
	if errors.Is(err, coordinator.ErrCycleInProgress) {
		writeJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "manual update failed", slog.String("result", string(status.Result)), slog.Any("error", err))
		code := http.StatusBadGateway
		if status.Result == types.CycleResultCanceled {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type scanIntervalRequest struct {
	Interval string `json:"interval"`
}

type scanIntervalResponse struct {
	Interval string `json:"interval"`
}

func (s *Server) handleSetScanInterval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req scanIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	d, err := time.ParseDuration(req.Interval)
	if err != nil {
		writeJSONError(w, "invalid interval: "+err.Error(), http.StatusBadRequest)
		return
	}
	if d < time.Minute {
		writeJSONError(w, "interval must be at least 1m", http.StatusBadRequest)
		return
	}
	if err := s.coordinator.SetScanInterval(d); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "scan interval updated", slog.Duration("interval", d))
	writeJSON(w, http.StatusOK, scanIntervalResponse{Interval: d.String()})
}
