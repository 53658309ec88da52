package main

import (
	"context"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/ssdims/ssdims/pkg/log"
	"github.com/ssdims/ssdims/pkg/stats"
	"github.com/ssdims/ssdims/pkg/storage"
	"github.com/ssdims/ssdims/pkg/types"
)

func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	s := storage.Configured()
	name := lflag.String("seed-point-name", "Rodinný dom", "Display name of the seeded point of delivery")
	days := lflag.Duration("seed-duration", 14*24*time.Hour, "How far back to seed statistics")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock statistics")

	// Use a new random source
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	now := time.Now().UTC().Truncate(time.Hour)
	start := now.Add(-*days)

	const (
		HouseAvgKWh = 0.45
		SolarPeakKW = 3.2
	)

	var consumption, supply []types.HourlyBucket
	for t := start; t.Before(now); t = t.Add(time.Hour) {
		hour := t.Hour()

		// Household load with morning and evening peaks
		load := HouseAvgKWh + rng.Float64()*0.2
		if hour >= 6 && hour < 9 {
			load += 0.6
		} else if hour >= 17 && hour < 22 {
			load += 0.9
		}

		// Solar (bell curve), exported only when it exceeds the load
		solar := 0.0
		if hour > 5 && hour < 19 {
			dist := math.Abs(float64(hour) - 12.0)
			solar = SolarPeakKW * math.Exp(-(dist*dist)/10.0) * (0.7 + rng.Float64()*0.3)
		}
		export := math.Max(0, solar-load)
		load = math.Max(0, load-solar)

		consumption = append(consumption, types.HourlyBucket{
			Kind:      types.KindConsumption,
			HourStart: t,
			DeltaKWh:  math.Round(load*1000) / 1000,
			Samples:   4,
		})
		supply = append(supply, types.HourlyBucket{
			Kind:      types.KindSupply,
			HourStart: t,
			DeltaKWh:  math.Round(export*1000) / 1000,
			Samples:   4,
		})
	}

	for kind, buckets := range map[types.SensorKind][]types.HourlyBucket{
		types.KindConsumption: consumption,
		types.KindSupply:      supply,
	} {
		md := stats.Metadata(*name, kind)
		last, err := s.GetLastPoint(ctx, md.SeriesID)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get last point", "seriesID", md.SeriesID, "error", err)
			os.Exit(1)
		}
		points := stats.Build(buckets, types.AnchorFrom(last))
		if err := s.AppendPoints(ctx, md, points); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to append points", "seriesID", md.SeriesID, "error", err)
			os.Exit(1)
		}
		log.Ctx(ctx).InfoContext(ctx, "seeded series", "seriesID", md.SeriesID, "points", len(points))
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding complete")
}
