package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/ssdims/ssdims/pkg/ims"
	"github.com/ssdims/ssdims/pkg/registry"
	"github.com/ssdims/ssdims/pkg/storage"
	"github.com/ssdims/ssdims/pkg/types"
)

const (
	DefaultScanInterval = 6 * time.Hour
	DefaultHistoryDays  = 7
	DefaultDelayMin     = time.Second
	DefaultDelayMax     = 3 * time.Second
	DefaultTimezone     = "Europe/Bratislava"

	// minDelay is the least time between two portal requests regardless of
	// configuration.
	minDelay = 300 * time.Millisecond
)

// ErrCycleInProgress is returned by Update when another cycle is running.
var ErrCycleInProgress = errors.New("update cycle already in progress")

// Config controls which points and kinds are reconciled and how the portal is
// paced.
type Config struct {
	ScanInterval time.Duration
	// Points are the stable ids to process. Empty means every discovered point.
	Points []string
	// PointNames overrides the display name of a point by stable id.
	PointNames  map[string]string
	HistoryDays int
	DelayMin    time.Duration
	DelayMax    time.Duration
	Kinds       []types.SensorKind
	Location    *time.Location
}

func (c Config) withDefaults() Config {
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.HistoryDays < 0 {
		c.HistoryDays = 0
	}
	if c.DelayMin < minDelay {
		c.DelayMin = minDelay
	}
	if c.DelayMax < c.DelayMin {
		c.DelayMax = c.DelayMin
	}
	if len(c.Kinds) == 0 {
		c.Kinds = types.AllSensorKinds
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.PointNames == nil {
		c.PointNames = map[string]string{}
	}
	return c
}

// displayName returns the configured name of a point or its stable id.
func (c Config) displayName(pointID string) string {
	if name := strings.TrimSpace(c.PointNames[pointID]); name != "" {
		return name
	}
	return pointID
}

// Coordinator runs update cycles that pull readings from the portal and
// reconcile them into cumulative statistics, and holds the snapshot sensors
// read between cycles.
type Coordinator struct {
	api      ims.API
	db       storage.Database
	registry *registry.Registry
	metrics  *Metrics

	cfgMu sync.Mutex
	cfg   Config
	// intervalCh wakes Run when the scan interval changes
	intervalCh chan time.Duration

	// running is held for the duration of a cycle
	running sync.Mutex
	cycle   uint64

	mu        sync.RWMutex
	snapshots map[string]types.PointSnapshot
	status    types.CycleStatus

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func(n int64) int64
}

// New returns a Coordinator using api to read the portal and db to persist
// statistics.
func New(api ims.API, db storage.Database, cfg Config) *Coordinator {
	return &Coordinator{
		api:        api,
		db:         db,
		registry:   registry.New(api),
		metrics:    newMetrics(),
		cfg:        cfg.withDefaults(),
		intervalCh: make(chan time.Duration, 1),
		snapshots:  map[string]types.PointSnapshot{},
		now:        time.Now,
		sleep:      sleepContext,
		rand:       rand.Int64N,
	}
}

// Configured registers the coordinator's flags and returns a Coordinator that
// is configured once lflag.Configure runs.
func Configured(api ims.API, db storage.Database) *Coordinator {
	scanInterval := lflag.Duration("scan-interval", DefaultScanInterval, "How often to pull data from the portal")
	points := lflag.String("points", "", "Comma separated point of delivery ids to process (default all)")
	pointNames := map[string]string{}
	lflag.JSON(&pointNames, "point-names", pointNames, "JSON map of point of delivery id to display name")
	historyDays := lflag.Int("history-days", DefaultHistoryDays, "Days of history to import for series without statistics")
	delayMin := lflag.Duration("api-delay-min", DefaultDelayMin, "Minimum random delay between portal requests")
	delayMax := lflag.Duration("api-delay-max", DefaultDelayMax, "Maximum random delay between portal requests")
	sensorKinds := lflag.String("sensor-kinds", "consumption,supply", "Comma separated sensor kinds to import (consumption, supply)")
	timezone := lflag.String("timezone", DefaultTimezone, "Timezone the portal uses for day boundaries")

	c := New(api, db, Config{})

	lflag.Do(func() {
		kinds, err := types.ParseSensorKinds(*sensorKinds)
		if err != nil {
			panic(fmt.Sprintf("invalid sensor-kinds: %v", err))
		}
		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			panic(fmt.Sprintf("invalid timezone: %v", err))
		}
		if *historyDays < 0 {
			panic(fmt.Sprintf("history-days must not be negative: %d", *historyDays))
		}
		if *delayMax < *delayMin {
			panic(fmt.Sprintf("api-delay-max (%v) must not be less than api-delay-min (%v)", *delayMax, *delayMin))
		}
		var ids []string
		for _, id := range strings.Split(*points, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		for id, name := range pointNames {
			if _, err := registry.ExtractStableID(id); err != nil {
				panic(fmt.Sprintf("invalid point-names entry %q: %v", id, err))
			}
			if strings.TrimSpace(name) == "" {
				panic(fmt.Sprintf("empty point-names entry for %s", id))
			}
		}

		c.cfg = Config{
			ScanInterval: *scanInterval,
			Points:       ids,
			PointNames:   pointNames,
			HistoryDays:  *historyDays,
			DelayMin:     *delayMin,
			DelayMax:     *delayMax,
			Kinds:        kinds,
			Location:     loc,
		}.withDefaults()
	})

	return c
}

// Metrics returns the coordinator's collectors.
func (c *Coordinator) Metrics() *Metrics {
	return c.metrics
}

func (c *Coordinator) config() Config {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.cfg
}

// ScanInterval returns the current time between scheduled cycles.
func (c *Coordinator) ScanInterval() time.Duration {
	return c.config().ScanInterval
}

// SetScanInterval changes the time between scheduled cycles. A running
// scheduler picks the new interval up immediately.
func (c *Coordinator) SetScanInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("scan interval must be positive: %v", d)
	}
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.cfg.ScanInterval = d

	// drop a pending change that Run hasn't consumed yet
	select {
	case <-c.intervalCh:
	default:
	}
	c.intervalCh <- d
	return nil
}

// delay returns a random duration between the configured bounds.
func (c *Coordinator) delay(cfg Config) time.Duration {
	span := int64(cfg.DelayMax - cfg.DelayMin)
	if span <= 0 {
		return cfg.DelayMin
	}
	return cfg.DelayMin + time.Duration(c.rand(span+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
