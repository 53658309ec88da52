package types

import (
	"fmt"
	"strings"
)

// SensorKind is the direction of energy flow measured at a point of delivery.
type SensorKind int

const (
	KindConsumption SensorKind = iota + 1
	KindSupply
)

// AllSensorKinds lists every kind in a stable order.
var AllSensorKinds = []SensorKind{KindConsumption, KindSupply}

// String returns the short name used in configuration.
func (k SensorKind) String() string {
	switch k {
	case KindConsumption:
		return "consumption"
	case KindSupply:
		return "supply"
	default:
		return fmt.Sprintf("SensorKind(%d)", int(k))
	}
}

// StatisticType is the suffix used when naming a statistics series.
func (k SensorKind) StatisticType() string {
	switch k {
	case KindConsumption:
		return "actual_consumption"
	case KindSupply:
		return "actual_supply"
	default:
		panic(fmt.Sprintf("unknown sensor kind: %d", int(k)))
	}
}

// Title is the human readable name of the kind.
func (k SensorKind) Title() string {
	switch k {
	case KindConsumption:
		return "Actual Consumption"
	case KindSupply:
		return "Actual Supply"
	default:
		panic(fmt.Sprintf("unknown sensor kind: %d", int(k)))
	}
}

// MarshalText implements encoding.TextMarshaler so kinds can be used as JSON
// map keys.
func (k SensorKind) MarshalText() ([]byte, error) {
	switch k {
	case KindConsumption, KindSupply:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("unknown sensor kind: %d", int(k))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *SensorKind) UnmarshalText(b []byte) error {
	parsed, err := ParseSensorKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseSensorKind parses the configuration name of a kind. Both the short
// ("supply") and the statistic ("actual_supply") spellings are accepted.
func ParseSensorKind(s string) (SensorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "consumption", "actual_consumption":
		return KindConsumption, nil
	case "supply", "actual_supply":
		return KindSupply, nil
	default:
		return 0, fmt.Errorf("unknown sensor kind: %q", s)
	}
}

// ParseSensorKinds parses a comma-delimited list of kinds, ignoring
// duplicates and empty entries.
func ParseSensorKinds(s string) ([]SensorKind, error) {
	var kinds []SensorKind
	seen := make(map[SensorKind]bool)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		k, err := ParseSensorKind(part)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}
