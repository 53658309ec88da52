package stats

import (
	"regexp"
	"strings"

	"github.com/ssdims/ssdims/pkg/types"
)

var (
	invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	repeatedUnder    = regexp.MustCompile(`_+`)
)

// SanitizeName replaces anything that isn't alphanumeric or an underscore with
// underscores, collapses runs and trims them from both ends.
func SanitizeName(name string) string {
	s := invalidNameChars.ReplaceAllString(name, "_")
	s = repeatedUnder.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// SeriesID returns the statistics id for the given point display name and kind.
func SeriesID(displayName string, kind types.SensorKind) string {
	name := strings.ToLower(SanitizeName(displayName) + "_" + kind.StatisticType())
	return types.StatisticsNamespace + ":" + name
}

// Metadata returns the metadata to append alongside points of a series.
func Metadata(displayName string, kind types.SensorKind) types.StatisticMetadata {
	return types.StatisticMetadata{
		SeriesID:    SeriesID(displayName, kind),
		DisplayName: displayName + " " + kind.Title(),
		Source:      types.StatisticsNamespace,
		Unit:        types.UnitKWh,
		HasSum:      true,
	}
}
