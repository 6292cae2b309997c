package api

import (
	"github.com/labwatch/labwatch/pkg/telemetry"
)

// errorResponse is the JSON body for all error statuses.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	State          string  `json:"state"`
	Score          float64 `json:"score"`
	StorageHealthy bool    `json:"storage_healthy"`

	DeviceCount   int `json:"device_count"`
	HealthyCount  int `json:"healthy_count"`
	DegradedCount int `json:"degraded_count"`
	CriticalCount int `json:"critical_count"`
	UnknownCount  int `json:"unknown_count"`

	Devices []telemetry.HealthSnapshot `json:"devices"`
}

// DeviceResponse is one entry of GET /api/v1/devices.
type DeviceResponse struct {
	ID             string   `json:"id"`
	Channels       []string `json:"channels"`
	SampleInterval string   `json:"sample_interval"`
	State          string   `json:"state"`
	Score          float64  `json:"score"`
	LastSample     string   `json:"last_sample,omitempty"`
}

// LatestResponse is the body of GET /api/v1/devices/{id}/latest.
type LatestResponse struct {
	Sample *telemetry.Record `json:"sample,omitempty"`
	Health *telemetry.Record `json:"health,omitempty"`
}
