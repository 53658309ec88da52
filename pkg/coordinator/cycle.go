package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ssdims/ssdims/pkg/log"
	"github.com/ssdims/ssdims/pkg/stats"
	"github.com/ssdims/ssdims/pkg/types"
)

// cycleOutcome is what a finished cycle produced.
type cycleOutcome struct {
	snapshots      map[string]types.PointSnapshot
	pointsAppended int
	failedDays     int
}

// Update runs one update cycle. It returns ErrCycleInProgress without doing
// anything when another cycle is running. The returned status is also
// recorded for Status.
func (c *Coordinator) Update(ctx context.Context) (types.CycleStatus, error) {
	if !c.running.TryLock() {
		return types.CycleStatus{}, ErrCycleInProgress
	}
	defer c.running.Unlock()

	c.cycle++
	ctx = log.WithAttrs(ctx, slog.Uint64("cycle", c.cycle))
	cfg := c.config()

	status := types.CycleStatus{Started: c.now()}
	log.Ctx(ctx).InfoContext(ctx, "update cycle starting")

	out, err := c.runCycle(ctx, cfg, status.Started)
	status.Finished = c.now()
	status.PointsAppended = out.pointsAppended
	status.FailedDays = out.failedDays
	status.Result = classify(ctx, err)
	if err != nil {
		status.Error = err.Error()
	}
	status.NeedsReauth = status.Result == types.CycleResultAuth

	c.mu.Lock()
	c.status = status
	if status.Result == types.CycleResultSuccess {
		c.snapshots = out.snapshots
	}
	c.mu.Unlock()

	c.metrics.observeCycle(status)
	if status.Result == types.CycleResultSuccess {
		for _, snap := range out.snapshots {
			c.metrics.observeSnapshot(snap)
		}
		log.Ctx(ctx).InfoContext(ctx, "update cycle finished",
			slog.Int("points", len(out.snapshots)),
			slog.Int("appended", out.pointsAppended),
			slog.Int("failedDays", out.failedDays),
			slog.Duration("duration", status.Finished.Sub(status.Started)),
		)
	} else {
		log.Ctx(ctx).ErrorContext(ctx, "update cycle failed",
			slog.String("result", string(status.Result)),
			slog.Any("error", err),
		)
	}
	return status, err
}

func classify(ctx context.Context, err error) types.CycleResult {
	switch {
	case err == nil:
		return types.CycleResultSuccess
	case errors.Is(err, types.ErrAuthentication):
		return types.CycleResultAuth
	case errors.Is(err, types.ErrEmptyResult):
		return types.CycleResultEmpty
	case errors.Is(err, context.Canceled), ctx.Err() != nil:
		return types.CycleResultCanceled
	default:
		return types.CycleResultGeneric
	}
}

func (c *Coordinator) runCycle(ctx context.Context, cfg Config, now time.Time) (cycleOutcome, error) {
	out := cycleOutcome{snapshots: map[string]types.PointSnapshot{}}

	// log in when there is no session
	if !c.api.Authenticated() {
		ok, err := c.api.Login(ctx)
		if err != nil {
			return out, fmt.Errorf("failed to login: %w", err)
		}
		if !ok {
			return out, fmt.Errorf("portal rejected credentials: %w", types.ErrAuthentication)
		}
	}

	if err := c.registry.Ensure(ctx, cfg.Points); err != nil {
		if errors.Is(err, types.ErrAuthentication) {
			c.registry.Invalidate()
		}
		return out, fmt.Errorf("failed to discover points of delivery: %w", err)
	}

	pointIDs := cfg.Points
	if len(pointIDs) == 0 {
		pointIDs = c.registry.IDs()
	}

	prev := c.Snapshots()
	for _, id := range pointIDs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		pod, ok := c.registry.Get(id)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "skipping unknown point of delivery", slog.String("pointID", id))
			if snap, ok := prev[id]; ok {
				out.snapshots[id] = snap
			}
			continue
		}

		pctx := log.WithAttrs(ctx, slog.String("pointID", id))
		snap, res, err := c.processPoint(pctx, cfg, pod, now)
		out.pointsAppended += res.pointsAppended
		out.failedDays += res.failedDays
		if err != nil {
			if errors.Is(err, types.ErrAuthentication) {
				c.registry.Invalidate()
				return out, err
			}
			if ctx.Err() != nil {
				return out, err
			}
			log.Ctx(pctx).ErrorContext(pctx, "failed to update point of delivery", slog.Any("error", err))
			if snap, ok := prev[id]; ok {
				out.snapshots[id] = snap
			}
			continue
		}
		out.snapshots[id] = snap
	}
	return out, nil
}

type pointResult struct {
	pointsAppended int
	failedDays     int
}

// processPoint fetches the missing days of one point, appends their
// statistics and returns the point's new snapshot.
func (c *Coordinator) processPoint(ctx context.Context, cfg Config, pod types.PointOfDelivery, now time.Time) (types.PointSnapshot, pointResult, error) {
	var res pointResult
	displayName := cfg.displayName(pod.StableID)

	windows := make(map[types.SensorKind]window, len(cfg.Kinds))
	all := make([]window, 0, len(cfg.Kinds)+1)
	for _, kind := range cfg.Kinds {
		seriesID := stats.SeriesID(displayName, kind)
		last, err := c.db.GetLastPoint(ctx, seriesID)
		if err != nil {
			return types.PointSnapshot{}, res, fmt.Errorf("failed to get last statistic for %s: %w", seriesID, err)
		}
		w := seriesWindow(last, now, cfg.Location, cfg.HistoryDays)
		windows[kind] = w
		all = append(all, w)
		if w.empty() {
			log.Ctx(ctx).DebugContext(ctx, "statistics up to date", slog.String("seriesID", seriesID))
		}
	}
	// yesterday is always fetched for the period totals
	y := yesterday(now, cfg.Location)
	all = append(all, window{start: y, end: y})

	fetched := map[time.Time]types.ReadingsResponse{}
	for _, day := range union(all...).days() {
		if err := c.sleep(ctx, c.delay(cfg)); err != nil {
			return types.PointSnapshot{}, res, err
		}
		resp, err := c.fetchDay(ctx, &pod, day)
		if err != nil {
			if errors.Is(err, types.ErrAuthentication) || ctx.Err() != nil {
				return types.PointSnapshot{}, res, err
			}
			ferr := &types.TransientFetchError{PointID: pod.StableID, Day: day, Err: err}
			log.Ctx(ctx).WarnContext(ctx, "skipping day", slog.Any("error", ferr))
			c.metrics.fetchFailures.WithLabelValues(pod.StableID).Inc()
			res.failedDays++
			continue
		}
		fetched[day] = resp
	}

	snap := types.PointSnapshot{
		PointID:          pod.StableID,
		DisplayName:      displayName,
		PeriodTotals:     map[types.SensorKind]float64{},
		CumulativeTotals: map[types.SensorKind]float64{},
		LastUpdate:       now,
	}

	for _, kind := range cfg.Kinds {
		cumulative, ok, appended, err := c.reconcile(ctx, pod.StableID, displayName, kind, windows[kind], fetched)
		res.pointsAppended += appended
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to reconcile statistics",
				slog.String("kind", kind.String()),
				slog.Any("error", err),
			)
		}
		if ok {
			snap.CumulativeTotals[kind] = cumulative
		}

		if resp, ok := fetched[y]; ok {
			if sum := resp.PeriodSum(kind); sum != nil {
				snap.PeriodTotals[kind] = *sum
			}
		}
	}
	return snap, res, nil
}

// fetchDay requests one local day of readings for pod. Handles only live as
// long as the session that listed them, so pod is resolved again whenever the
// session changed, and the day is requested once more when the portal renewed
// the session during the request.
func (c *Coordinator) fetchDay(ctx context.Context, pod *types.PointOfDelivery, day time.Time) (types.ReadingsResponse, error) {
	from, to := dayRange(day)
	var err error
	for i := 0; i < 2; i++ {
		if err := c.resolvePoint(ctx, pod); err != nil {
			return types.ReadingsResponse{}, err
		}
		log.Ctx(ctx).DebugContext(ctx, "fetching readings", slog.Time("from", from), slog.Time("to", to))
		var resp types.ReadingsResponse
		resp, err = c.api.GetIntervalReadings(ctx, pod.SessionHandle, from, to)
		if !errors.Is(err, types.ErrStaleHandle) {
			return resp, err
		}
		log.Ctx(ctx).DebugContext(ctx, "session renewed during fetch", slog.Time("day", day))
	}
	return types.ReadingsResponse{}, err
}

// resolvePoint refreshes pod's handle from the registry, rediscovering first
// when the portal session changed.
func (c *Coordinator) resolvePoint(ctx context.Context, pod *types.PointOfDelivery) error {
	if err := c.registry.EnsureSession(ctx); err != nil {
		return fmt.Errorf("failed to resolve point of delivery %s: %w", pod.StableID, err)
	}
	fresh, ok := c.registry.Get(pod.StableID)
	if !ok {
		return fmt.Errorf("point of delivery %s not listed in the current session", pod.StableID)
	}
	*pod = fresh
	return nil
}

// reconcile appends the statistics for the successfully fetched prefix of w
// and returns the series' cumulative total afterwards. ok is false when the
// series has no statistics at all. A failed append still reports the
// previous total.
func (c *Coordinator) reconcile(
	ctx context.Context,
	pointID, displayName string,
	kind types.SensorKind,
	w window,
	fetched map[time.Time]types.ReadingsResponse,
) (cumulative float64, ok bool, appended int, err error) {
	md := stats.Metadata(displayName, kind)
	ctx = log.WithAttrs(ctx, slog.String("seriesID", md.SeriesID))

	// only the days before the first failed one are reconciled so a failed
	// day is retried next cycle instead of leaving a hole
	var readings []types.IntervalReading
	var through time.Time
	for _, day := range w.days() {
		resp, fetchedDay := fetched[day]
		if !fetchedDay {
			log.Ctx(ctx).WarnContext(ctx, "stopping at missing day", slog.Time("day", day))
			break
		}
		dayReadings := resp.Readings(pointID)
		if sum := resp.PeriodSum(kind); sum != nil {
			buckets := stats.AggregateBuckets(pointID, dayReadings, kind)
			if !stats.PeriodSumMatches(buckets, *sum) {
				log.Ctx(ctx).WarnContext(ctx, "interval readings do not add up to the period total",
					slog.Time("day", day),
					slog.Float64("periodSum", *sum),
				)
			}
		}
		readings = append(readings, dayReadings...)
		through = day
	}

	// the anchor is always re-read right before building
	last, err := c.db.GetLastPoint(ctx, md.SeriesID)
	if err != nil {
		return 0, false, 0, fmt.Errorf("failed to re-read last statistic: %w", err)
	}
	anchor := types.AnchorFrom(last)

	buckets := stats.AggregateBuckets(pointID, readings, kind)
	if incomplete := stats.IncompleteHours(buckets); len(incomplete) > 0 {
		log.Ctx(ctx).DebugContext(ctx, "hours with missing intervals", slog.Int("hours", len(incomplete)))
	}
	points := stats.Build(buckets, anchor)
	if len(points) == 0 {
		if last == nil {
			return 0, false, 0, nil
		}
		return anchor.Sum, true, 0, nil
	}

	if err := c.db.AppendPoints(ctx, md, points); err != nil {
		return anchor.Sum, last != nil, 0, fmt.Errorf("failed to append statistics: %w", err)
	}
	c.metrics.pointsAppended.WithLabelValues(md.SeriesID).Add(float64(len(points)))

	final := points[len(points)-1]
	log.Ctx(ctx).InfoContext(ctx, "appended statistics",
		slog.Int("points", len(points)),
		slog.Time("through", through),
		slog.Time("lastStart", final.Start),
		slog.Float64("sum", final.Sum),
	)
	return final.Sum, true, len(points), nil
}
