package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/ssdims/ssdims/pkg/log"
	"github.com/ssdims/ssdims/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	statisticsCollection = "statistics"
	pointsCollection     = "points"
)

// FirestoreProvider implements Database using Google Cloud Firestore. Each
// series is a document under "statistics" holding its metadata with the
// hourly points in a "points" sub-collection keyed by RFC3339 start.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getPoints(seriesID string) (*firestore.CollectionRef, error) {
	if seriesID == "" {
		return nil, fmt.Errorf("seriesID cannot be empty")
	}
	return f.client.Collection(statisticsCollection).Doc(seriesID).Collection(pointsCollection), nil
}

type firestorePoint struct {
	Timestamp time.Time `firestore:"timestamp"`
	Sum       float64   `firestore:"sum"`
}

// GetLastPoint retrieves the point with the latest timestamp.
func (f *FirestoreProvider) GetLastPoint(ctx context.Context, seriesID string) (*types.StatisticPoint, error) {
	coll, err := f.getPoints(seriesID)
	if err != nil {
		return nil, err
	}
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last statistics doc: %w", err)
	}

	var p firestorePoint
	if err := doc.DataTo(&p); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode statistics doc", slog.String("docID", doc.Ref.ID), slog.String("seriesID", seriesID), slog.Any("err", err))
		return nil, fmt.Errorf("failed to decode statistics doc %s: %w", doc.Ref.ID, err)
	}
	return &types.StatisticPoint{Start: p.Timestamp.UTC(), Sum: p.Sum}, nil
}

// AppendPoints writes the series metadata document and then every point,
// oldest first. The document ID of a point is the RFC3339 timestamp of its
// start so rewriting an hour replaces it.
func (f *FirestoreProvider) AppendPoints(ctx context.Context, metadata types.StatisticMetadata, points []types.StatisticPoint) error {
	coll, err := f.getPoints(metadata.SeriesID)
	if err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal statistic metadata: %w", err)
	}

	_, err = f.client.Collection(statisticsCollection).Doc(metadata.SeriesID).Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"updated": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert statistic metadata: %w", err)
	}

	written, err := setPointsInOrder(ctx, points, func(ctx context.Context, p types.StatisticPoint) error {
		_, err := coll.Doc(p.Start.UTC().Format(time.RFC3339)).Set(ctx, firestorePoint{
			Timestamp: p.Start.UTC(),
			Sum:       p.Sum,
		})
		return err
	})
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "partially wrote statistics",
			slog.String("seriesID", metadata.SeriesID),
			slog.Int("written", written),
			slog.Int("points", len(points)),
		)
		return err
	}
	return nil
}

// setPointsInOrder calls set for each point in ascending start order and
// stops at the first failure. Whatever was written is then a prefix of the
// points, so the last stored point never sits after a missing hour.
func setPointsInOrder(ctx context.Context, points []types.StatisticPoint, set func(context.Context, types.StatisticPoint) error) (int, error) {
	sorted := make([]types.StatisticPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	for i, p := range sorted {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := set(ctx, p); err != nil {
			return i, fmt.Errorf("failed to write statistic %s: %w", p.Start.UTC().Format(time.RFC3339), err)
		}
	}
	return len(sorted), nil
}

// GetPoints retrieves points with start in [start, end).
func (f *FirestoreProvider) GetPoints(ctx context.Context, seriesID string, start, end time.Time) ([]types.StatisticPoint, error) {
	coll, err := f.getPoints(seriesID)
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where("timestamp", ">=", start).
		Where("timestamp", "<", end).
		OrderBy("timestamp", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var points []types.StatisticPoint
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating statistics: %w", err)
		}

		var p firestorePoint
		if err := doc.DataTo(&p); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode statistics doc", slog.String("docID", doc.Ref.ID), slog.String("seriesID", seriesID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to decode statistics doc %s: %w", doc.Ref.ID, err)
		}
		points = append(points, types.StatisticPoint{Start: p.Timestamp.UTC(), Sum: p.Sum})
	}
	return points, nil
}

// GetMetadata retrieves a single series' metadata.
func (f *FirestoreProvider) GetMetadata(ctx context.Context, seriesID string) (types.StatisticMetadata, error) {
	if seriesID == "" {
		return types.StatisticMetadata{}, fmt.Errorf("seriesID cannot be empty")
	}
	doc, err := f.client.Collection(statisticsCollection).Doc(seriesID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.StatisticMetadata{}, fmt.Errorf("%s: %w", seriesID, ErrSeriesNotFound)
		}
		return types.StatisticMetadata{}, fmt.Errorf("failed to fetch statistic metadata: %w", err)
	}
	return decodeMetadata(ctx, doc)
}

// ListSeries retrieves every series' metadata.
func (f *FirestoreProvider) ListSeries(ctx context.Context) ([]types.StatisticMetadata, error) {
	iter := f.client.Collection(statisticsCollection).Documents(ctx)
	defer iter.Stop()

	var list []types.StatisticMetadata
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating series: %w", err)
		}
		md, err := decodeMetadata(ctx, doc)
		if err != nil {
			return nil, err
		}
		list = append(list, md)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].SeriesID < list[j].SeriesID
	})
	return list, nil
}

func decodeMetadata(ctx context.Context, doc *firestore.DocumentSnapshot) (types.StatisticMetadata, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "statistic metadata doc missing json", slog.String("docID", doc.Ref.ID))
		return types.StatisticMetadata{}, fmt.Errorf("statistic metadata %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.StatisticMetadata{}, fmt.Errorf("statistic metadata %s 'json' field is not a string", doc.Ref.ID)
	}

	var md types.StatisticMetadata
	if err := json.Unmarshal([]byte(jsonStr), &md); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal statistic metadata", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return types.StatisticMetadata{}, fmt.Errorf("failed to unmarshal statistic metadata (id=%s): %w", doc.Ref.ID, err)
	}
	return md, nil
}
