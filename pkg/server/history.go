package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ssdims/ssdims/pkg/log"
	"github.com/ssdims/ssdims/pkg/storage"
	"github.com/ssdims/ssdims/pkg/types"
)

const maxHistoryRange = 366 * 24 * time.Hour

type seriesListResponse struct {
	Series []types.StatisticMetadata `json:"series"`
}

type statisticsResponse struct {
	Metadata types.StatisticMetadata `json:"metadata"`
	Points   []types.StatisticPoint  `json:"points"`
}

// handleHistoryStatistics lists the known series, or returns the points of
// the series named by the "series" query parameter.
func (s *Server) handleHistoryStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	seriesID := r.URL.Query().Get("series")
	if seriesID == "" {
		list, err := s.storage.ListSeries(ctx)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to list series", slog.Any("error", err))
			writeJSONError(w, "failed to list series", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []types.StatisticMetadata{}
		}
		writeJSON(w, http.StatusOK, seriesListResponse{Series: list})
		return
	}

	start, end, err := parseTimeRange(r, time.Now())
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	md, err := s.storage.GetMetadata(ctx, seriesID)
	if errors.Is(err, storage.ErrSeriesNotFound) {
		writeJSONError(w, "series not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get series metadata", slog.String("seriesID", seriesID), slog.Any("error", err))
		writeJSONError(w, "failed to get series", http.StatusInternalServerError)
		return
	}

	points, err := s.storage.GetPoints(ctx, seriesID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get statistics", slog.String("seriesID", seriesID), slog.Any("error", err))
		writeJSONError(w, "failed to get statistics", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []types.StatisticPoint{}
	}

	// Statistics only ever cover complete past days, so a range ending before
	// today will not change unless history is re-imported.
	today := time.Now().Truncate(24 * time.Hour)
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=3600")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
	writeJSON(w, http.StatusOK, statisticsResponse{Metadata: md, Points: points})
}

// parseTimeRange reads the start and end query parameters. Without them the
// range is the 7 days before now.
func parseTimeRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" && endStr == "" {
		return now.Add(-7 * 24 * time.Hour), now, nil
	}
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("start and end must be given together")
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > maxHistoryRange {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed %d days", int(maxHistoryRange.Hours()/24))
	}

	return start, end, nil
}
