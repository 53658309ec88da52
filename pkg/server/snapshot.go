package server

import (
	"net/http"

	"github.com/ssdims/ssdims/pkg/registry"
	"github.com/ssdims/ssdims/pkg/types"
)

type statusResponse struct {
	Version      string            `json:"version"`
	Available    bool              `json:"available"`
	ScanInterval string            `json:"scanInterval"`
	LastCycle    types.CycleStatus `json:"lastCycle"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Version:      s.version,
		Available:    s.coordinator.Available(),
		ScanInterval: s.coordinator.ScanInterval().String(),
		LastCycle:    s.coordinator.Status(),
	})
}

type snapshotsResponse struct {
	Available bool                           `json:"available"`
	Points    map[string]types.PointSnapshot `json:"points"`
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	points := s.coordinator.Snapshots()
	if points == nil {
		points = map[string]types.PointSnapshot{}
	}
	writeJSON(w, http.StatusOK, snapshotsResponse{
		Available: s.coordinator.Available(),
		Points:    points,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	pointID := r.PathValue("pointID")
	if id, err := registry.ExtractStableID(pointID); err != nil || id != pointID {
		writeJSONError(w, "invalid point id", http.StatusBadRequest)
		return
	}
	if !s.coordinator.Available() {
		writeJSONError(w, "sensors unavailable", http.StatusServiceUnavailable)
		return
	}
	snap, ok := s.coordinator.Snapshot(pointID)
	if !ok {
		writeJSONError(w, "unknown point of delivery", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
