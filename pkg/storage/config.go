package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, influxdb, memory)")

	var p struct{ Database }

	fs := configuredFirestore()
	influx := configuredInfluxDB()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "influxdb":
			if err := influx.Validate(); err != nil {
				panic(fmt.Sprintf("influxdb validation failed: %v", err))
			}
			p.Database = influx
			if err := influx.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("influxdb init failed: %v", err))
			}
		case "memory":
			p.Database = NewMemory()
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
