package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/levenlabs/go-lflag"
	"github.com/ssdims/ssdims/pkg/log"
	"github.com/ssdims/ssdims/pkg/types"
)

const (
	influxStatisticsMeasurement = "statistics"
	influxMetadataMeasurement   = "statistic_metadata"
	influxSeriesTag             = "series_id"
)

// influxMetadataTime is where the single metadata point of each series lives
// so rewriting metadata replaces the previous one.
var influxMetadataTime = time.Unix(0, 0).UTC()

// InfluxDBProvider implements Database on an InfluxDB 2.x bucket. Points are
// written to the "statistics" measurement tagged by series id with a single
// "sum" field.
type InfluxDBProvider struct {
	client influxdb2.Client
	url    string
	token  string
	org    string
	bucket string
}

var _ Database = (*InfluxDBProvider)(nil)

func configuredInfluxDB() *InfluxDBProvider {
	url := lflag.String("influxdb-url", "http://localhost:8086", "InfluxDB server URL")
	token := lflag.String("influxdb-token", "", "InfluxDB API token")
	org := lflag.String("influxdb-org", "", "InfluxDB organization")
	bucket := lflag.String("influxdb-bucket", "ssd_ims", "InfluxDB bucket for statistics")

	p := &InfluxDBProvider{}

	lflag.Do(func() {
		p.url = *url
		p.token = *token
		p.org = *org
		p.bucket = *bucket
	})

	return p
}

// Validate checks if the provider is properly configured.
func (p *InfluxDBProvider) Validate() error {
	if p.url == "" {
		return errors.New("influxdb-url is required")
	}
	if p.bucket == "" {
		return errors.New("influxdb-bucket is required")
	}
	return nil
}

// Init creates the client and checks that the server is reachable.
func (p *InfluxDBProvider) Init(ctx context.Context) error {
	p.client = influxdb2.NewClient(p.url, p.token)
	ok, err := p.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping influxdb at %s: %w", p.url, err)
	}
	if !ok {
		return fmt.Errorf("influxdb at %s is not ready", p.url)
	}
	return nil
}

// Close closes the InfluxDB client.
func (p *InfluxDBProvider) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

func (p *InfluxDBProvider) lastPointQuery(seriesID string) string {
	return fmt.Sprintf(`from(bucket: %s)
	|> range(start: 0)
	|> filter(fn: (r) => r._measurement == %s and r._field == "sum" and r.%s == %s)
	|> last()`,
		strconv.Quote(p.bucket),
		strconv.Quote(influxStatisticsMeasurement),
		influxSeriesTag,
		strconv.Quote(seriesID),
	)
}

func (p *InfluxDBProvider) pointsQuery(seriesID string, start, end time.Time) string {
	return fmt.Sprintf(`from(bucket: %s)
	|> range(start: %s, stop: %s)
	|> filter(fn: (r) => r._measurement == %s and r._field == "sum" and r.%s == %s)
	|> sort(columns: ["_time"])`,
		strconv.Quote(p.bucket),
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
		strconv.Quote(influxStatisticsMeasurement),
		influxSeriesTag,
		strconv.Quote(seriesID),
	)
}

func (p *InfluxDBProvider) metadataQuery(seriesID string) string {
	filter := fmt.Sprintf(`r._measurement == %s`, strconv.Quote(influxMetadataMeasurement))
	if seriesID != "" {
		filter += fmt.Sprintf(` and r.%s == %s`, influxSeriesTag, strconv.Quote(seriesID))
	}
	return fmt.Sprintf(`from(bucket: %s)
	|> range(start: 0)
	|> filter(fn: (r) => %s)
	|> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")`,
		strconv.Quote(p.bucket),
		filter,
	)
}

// GetLastPoint implements Database.
func (p *InfluxDBProvider) GetLastPoint(ctx context.Context, seriesID string) (*types.StatisticPoint, error) {
	res, err := p.client.QueryAPI(p.org).Query(ctx, p.lastPointQuery(seriesID))
	if err != nil {
		return nil, fmt.Errorf("failed to query last statistic: %w", err)
	}
	defer res.Close()

	if !res.Next() {
		if res.Err() != nil {
			return nil, fmt.Errorf("failed to read last statistic: %w", res.Err())
		}
		return nil, nil
	}
	sum, ok := res.Record().Value().(float64)
	if !ok {
		return nil, fmt.Errorf("unexpected sum type %T for %s", res.Record().Value(), seriesID)
	}
	return &types.StatisticPoint{Start: res.Record().Time().UTC(), Sum: sum}, nil
}

// AppendPoints implements Database. The metadata point and every statistic
// are written in a single blocking batch.
func (p *InfluxDBProvider) AppendPoints(ctx context.Context, metadata types.StatisticMetadata, points []types.StatisticPoint) error {
	if metadata.SeriesID == "" {
		return fmt.Errorf("seriesID cannot be empty")
	}
	tags := map[string]string{influxSeriesTag: metadata.SeriesID}

	pts := make([]*write.Point, 0, len(points)+1)
	pts = append(pts, influxdb2.NewPoint(
		influxMetadataMeasurement,
		tags,
		map[string]interface{}{
			"display_name": metadata.DisplayName,
			"source":       metadata.Source,
			"unit":         metadata.Unit,
			"has_sum":      metadata.HasSum,
		},
		influxMetadataTime,
	))
	for _, sp := range points {
		pts = append(pts, influxdb2.NewPoint(
			influxStatisticsMeasurement,
			tags,
			map[string]interface{}{"sum": sp.Sum},
			sp.Start.UTC(),
		))
	}

	if err := p.client.WriteAPIBlocking(p.org, p.bucket).WritePoint(ctx, pts...); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to write statistics to influxdb", slog.String("seriesID", metadata.SeriesID), slog.Any("err", err))
		return fmt.Errorf("failed to write statistics: %w", err)
	}
	return nil
}

// GetPoints implements Database.
func (p *InfluxDBProvider) GetPoints(ctx context.Context, seriesID string, start, end time.Time) ([]types.StatisticPoint, error) {
	res, err := p.client.QueryAPI(p.org).Query(ctx, p.pointsQuery(seriesID, start, end))
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer res.Close()

	var points []types.StatisticPoint
	for res.Next() {
		sum, ok := res.Record().Value().(float64)
		if !ok {
			return nil, fmt.Errorf("unexpected sum type %T for %s", res.Record().Value(), seriesID)
		}
		points = append(points, types.StatisticPoint{Start: res.Record().Time().UTC(), Sum: sum})
	}
	if res.Err() != nil {
		return nil, fmt.Errorf("failed to read statistics: %w", res.Err())
	}
	return points, nil
}

func (p *InfluxDBProvider) queryMetadata(ctx context.Context, seriesID string) ([]types.StatisticMetadata, error) {
	res, err := p.client.QueryAPI(p.org).Query(ctx, p.metadataQuery(seriesID))
	if err != nil {
		return nil, fmt.Errorf("failed to query statistic metadata: %w", err)
	}
	defer res.Close()

	var list []types.StatisticMetadata
	for res.Next() {
		r := res.Record()
		md := types.StatisticMetadata{}
		md.SeriesID, _ = r.ValueByKey(influxSeriesTag).(string)
		md.DisplayName, _ = r.ValueByKey("display_name").(string)
		md.Source, _ = r.ValueByKey("source").(string)
		md.Unit, _ = r.ValueByKey("unit").(string)
		md.HasSum, _ = r.ValueByKey("has_sum").(bool)
		list = append(list, md)
	}
	if res.Err() != nil {
		return nil, fmt.Errorf("failed to read statistic metadata: %w", res.Err())
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].SeriesID < list[j].SeriesID
	})
	return list, nil
}

// GetMetadata implements Database.
func (p *InfluxDBProvider) GetMetadata(ctx context.Context, seriesID string) (types.StatisticMetadata, error) {
	list, err := p.queryMetadata(ctx, seriesID)
	if err != nil {
		return types.StatisticMetadata{}, err
	}
	if len(list) == 0 {
		return types.StatisticMetadata{}, fmt.Errorf("%s: %w", seriesID, ErrSeriesNotFound)
	}
	return list[0], nil
}

// ListSeries implements Database.
func (p *InfluxDBProvider) ListSeries(ctx context.Context) ([]types.StatisticMetadata, error) {
	return p.queryMetadata(ctx, "")
}
