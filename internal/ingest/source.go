package ingest

import (
	"context"
	"fmt"

	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

// Source produces one reading per poll: a value for each of the device's
// declared channels.
type Source interface {
	Poll(ctx context.Context) (map[string]float64, error)
}

// New returns the Source for the given source configuration.
func New(src config.SourceConfig, device telemetry.Device) (Source, error) {
	switch src.Type {
	case "demo":
		return newDemoSource(device.Channels, src.Seed), nil
	case "prometheus":
		return newPromSource(src), nil
	default:
		return nil, fmt.Errorf("ingest: unsupported source type %q", src.Type)
	}
}
