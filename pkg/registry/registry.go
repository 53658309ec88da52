package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ssdims/ssdims/pkg/log"
	"github.com/ssdims/ssdims/pkg/types"
)

const (
	minStableIDLength = 16
	maxStableIDLength = 20
)

// Lister is the part of the portal client the registry needs.
type Lister interface {
	ListPointsOfDelivery(ctx context.Context) ([]types.PointOfDeliveryEntry, error)
	SessionEpoch() uint64
}

// ExtractStableID returns the leading run of uppercase letters and digits in
// a display label, e.g. "99XXX1234560000G" from "99XXX1234560000G (Rodinný dom)".
func ExtractStableID(label string) (string, error) {
	end := 0
	for end < len(label) {
		c := label[end]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			break
		}
		end++
	}
	if end == 0 {
		return "", fmt.Errorf("%w: no identifier in %q", types.ErrMalformedIdentifier, label)
	}
	if end < minStableIDLength || end > maxStableIDLength {
		return "", fmt.Errorf("%w: identifier %q in %q has %d characters", types.ErrMalformedIdentifier, label[:end], label, end)
	}
	return label[:end], nil
}

// Registry maps stable point of delivery ids to what the portal last listed
// for them. The map is replaced wholesale on every discovery.
type Registry struct {
	api Lister

	mu         sync.Mutex
	points     map[string]types.PointOfDelivery
	epoch      uint64
	discovered bool
}

// New returns an empty registry backed by api.
func New(api Lister) *Registry {
	return &Registry{
		api:    api,
		points: make(map[string]types.PointOfDelivery),
	}
}

// Discover lists the points of delivery and replaces the registry's contents.
// Points whose label has no stable id are dropped with a warning.
func (r *Registry) Discover(ctx context.Context) (map[string]types.PointOfDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discoverLocked(ctx)
}

func (r *Registry) discoverLocked(ctx context.Context) (map[string]types.PointOfDelivery, error) {
	epoch := r.api.SessionEpoch()
	entries, err := r.api.ListPointsOfDelivery(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list points of delivery: %w", err)
	}
	if len(entries) == 0 {
		return nil, types.ErrEmptyResult
	}

	points := make(map[string]types.PointOfDelivery, len(entries))
	for _, e := range entries {
		id, err := ExtractStableID(e.DisplayLabel)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "dropping point of delivery", slog.String("label", e.DisplayLabel), slog.Any("error", err))
			continue
		}
		if _, ok := points[id]; ok {
			log.Ctx(ctx).WarnContext(ctx, "duplicate point of delivery", slog.String("pointID", id), slog.String("label", e.DisplayLabel))
			continue
		}
		points[id] = types.PointOfDelivery{
			StableID:      id,
			DisplayLabel:  e.DisplayLabel,
			SessionHandle: e.SessionHandle,
		}
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: all %d labels were malformed", types.ErrEmptyResult, len(entries))
	}

	r.points = points
	r.discovered = true
	// a login during the listing invalidates the handles we just got
	if now := r.api.SessionEpoch(); now != epoch {
		r.epoch = 0
	} else {
		r.epoch = epoch
	}
	log.Ctx(ctx).InfoContext(ctx, "discovered points of delivery", slog.Int("count", len(points)))
	return copyPoints(points), nil
}

// Ensure discovers points when the registry is empty, when any of the
// configured ids is missing or when the portal session changed since the last
// discovery.
func (r *Registry) Ensure(ctx context.Context, configured []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reason := ""
	switch {
	case !r.discovered || len(r.points) == 0:
		reason = "empty"
	case r.epoch != r.api.SessionEpoch():
		reason = "session changed"
	default:
		for _, id := range configured {
			if _, ok := r.points[id]; !ok {
				reason = "missing " + id
				break
			}
		}
	}
	if reason == "" {
		return nil
	}

	log.Ctx(ctx).DebugContext(ctx, "rediscovering points of delivery", slog.String("reason", reason))
	if _, err := r.discoverLocked(ctx); err != nil {
		return err
	}
	for _, id := range configured {
		if _, ok := r.points[id]; !ok {
			log.Ctx(ctx).WarnContext(ctx, "configured point of delivery not found", slog.String("pointID", id))
		}
	}
	return nil
}

// EnsureSession rediscovers only when the portal session changed since the
// last discovery, so handles returned by Get belong to the current session.
func (r *Registry) EnsureSession(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.discovered && len(r.points) > 0 && r.epoch == r.api.SessionEpoch() {
		return nil
	}
	log.Ctx(ctx).DebugContext(ctx, "rediscovering points of delivery", slog.String("reason", "session changed"))
	_, err := r.discoverLocked(ctx)
	return err
}

// Get returns the point with the given stable id.
func (r *Registry) Get(id string) (types.PointOfDelivery, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.points[id]
	return p, ok
}

// IDs returns the known stable ids sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.points))
	for id := range r.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Invalidate forces the next Ensure to rediscover.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovered = false
}

func copyPoints(points map[string]types.PointOfDelivery) map[string]types.PointOfDelivery {
	out := make(map[string]types.PointOfDelivery, len(points))
	for k, v := range points {
		out[k] = v
	}
	return out
}
