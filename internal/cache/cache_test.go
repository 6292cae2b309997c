package cache

import (
	"context"
	"testing"
	"time"

	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

func TestNew_DisabledWithoutAddr(t *testing.T) {
	if c := New(config.CacheConfig{}); c != nil {
		t.Fatal("New() without addr should return nil")
	}
}

func TestNilCache_MethodsAreNoops(t *testing.T) {
	var c *Cache

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() on nil cache = %v", err)
	}
	c.StoreHealth([]telemetry.HealthSnapshot{{DeviceID: "scope1", Score: 100}})
	c.StoreSample(telemetry.Sample{DeviceID: "scope1", Timestamp: time.Now()})
	if err := c.Close(); err != nil {
		t.Fatalf("Close() on nil cache = %v", err)
	}
}
