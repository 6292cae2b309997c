package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/labwatch/labwatch/pkg/telemetry"
)

// Default values for the engine configuration.
const (
	DefaultHTTPPort           = 8080
	DefaultQueueCapacity      = 1024
	DefaultLatenessWindow     = 5 * time.Second
	DefaultHealthInterval     = 5 * time.Second
	DefaultFreshnessMultiple  = 3.0
	DefaultSampleInterval     = time.Second
	DefaultEMAAlpha           = 0.2
	DefaultDriftK             = 3.0
	DefaultDriftWarmup        = 10
	DefaultAnomalyWindow      = 256
	DefaultAnomalyRefitEvery  = 32
	DefaultAnomalyMinSamples  = 32
	DefaultAnomalyThreshold   = 0.7
	DefaultBroadcastInterval  = 5 * time.Second
	DefaultNotifyMinSeverity  = 3.0
	DefaultNotifyCooldown     = 15 * time.Minute
	DefaultCacheTTL           = time.Minute
	DefaultJournalDir         = "data"
)

// Default health score weights. Anomaly and drift must sum to 1; the
// freshness factor gates the combined score rather than being averaged in.
const (
	DefaultWeightAnomaly = 0.6
	DefaultWeightDrift   = 0.4
)

// Config is the root of the labwatchd configuration file.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Log     LogConfig      `yaml:"log"`
	Journal JournalConfig  `yaml:"journal"`
	Cache   CacheConfig    `yaml:"cache"`
	Engine  EngineConfig   `yaml:"engine"`
	Notify  NotifyConfig   `yaml:"notify"`
	Devices []DeviceConfig `yaml:"devices"`
	Sources []SourceConfig `yaml:"sources"`
}

// ServerConfig holds the HTTP/WebSocket serving options.
type ServerConfig struct {
	// HTTPPort is the port the REST API, WebSocket hub, and /metrics
	// endpoint listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// BroadcastInterval is how often the WebSocket hub pushes the current
	// health snapshot to connected clients. Default: 5s.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	// Auth configures API authentication.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls client authentication on the query surface.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected
	// API key. Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// LogConfig controls where structured logs are written. Logs always go to
// stdout; when File is set they are additionally written to a size-rotated
// file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`  // default 50
	MaxBackups int    `yaml:"max_backups"`  // default 3
	MaxAgeDays int    `yaml:"max_age_days"` // default 28
}

// JournalConfig controls the append-only record log.
type JournalConfig struct {
	// Dir is the directory holding the day-segmented NDJSON journal files.
	Dir string `yaml:"dir"`

	// Sync forces an fsync after every append. Safer, slower.
	Sync bool `yaml:"sync"`
}

// CacheConfig controls the optional Redis mirror of latest values. The mirror
// is disabled unless Addr is set; mirror failures are logged and never affect
// the pipeline.
type CacheConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"` // default "labwatch"
	TTL       time.Duration `yaml:"ttl"`        // default 1m
}

// EngineConfig holds pipeline-wide tuning.
type EngineConfig struct {
	// QueueCapacity is the per-device sample queue depth (default 1024).
	QueueCapacity int `yaml:"queue_capacity"`

	// LatenessWindow bounds how far out of order a sample may arrive and
	// still be resequenced by timestamp. Older arrivals are delivered in
	// arrival order and flagged late. Default: 5s.
	LatenessWindow time.Duration `yaml:"lateness_window"`

	// HealthInterval is the cadence of periodic health snapshots (default 5s).
	HealthInterval time.Duration `yaml:"health_interval"`

	// FreshnessMultiple scales a device's expected sample interval into the
	// silence horizon at which its freshness factor reaches 0. Default: 3.
	FreshnessMultiple float64 `yaml:"freshness_multiple"`

	// WeightAnomaly and WeightDrift are the health score weights. They must
	// sum to 1.
	WeightAnomaly float64 `yaml:"weight_anomaly"`
	WeightDrift   float64 `yaml:"weight_drift"`
}

// DriftConfig tunes the per-channel EMA drift detector.
type DriftConfig struct {
	// Alpha is the EMA smoothing factor in (0, 1]. Default: 0.2.
	Alpha float64 `yaml:"alpha"`

	// K is the deviation threshold in standard deviations. Default: 3.
	K float64 `yaml:"k"`

	// Warmup is the number of samples per channel that only update state
	// and never emit insights. Default: 10.
	Warmup int `yaml:"warmup"`
}

// AnomalyConfig tunes the multivariate anomaly detector.
type AnomalyConfig struct {
	// Window is the rolling window capacity in vectors. Default: 256.
	Window int `yaml:"window"`

	// RefitEvery refits the scoring model after this many new vectors.
	// Default: 32.
	RefitEvery int `yaml:"refit_every"`

	// MinSamples is the minimum window fill before any insight is emitted.
	// Default: 32.
	MinSamples int `yaml:"min_samples"`

	// Threshold is the [0,1] isolation score at or above which an insight
	// is emitted. Default: 0.7.
	Threshold float64 `yaml:"threshold"`
}

// DeviceConfig declares one instrument and its detector tuning.
type DeviceConfig struct {
	ID             string        `yaml:"id"`
	Channels       []string      `yaml:"channels"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	Drift          DriftConfig   `yaml:"drift"`
	Anomaly        AnomalyConfig `yaml:"anomaly"`
}

// Device returns the declared device metadata.
func (d DeviceConfig) Device() telemetry.Device {
	return telemetry.Device{
		ID:             d.ID,
		Channels:       d.Channels,
		SampleInterval: d.SampleInterval,
	}
}

// DeviceList returns all declared devices in declaration order.
func (c *Config) DeviceList() []telemetry.Device {
	out := make([]telemetry.Device, 0, len(c.Devices))
	for _, d := range c.Devices {
		out = append(out, d.Device())
	}
	return out
}

// SourceConfig declares one built-in ingest source feeding a device.
type SourceConfig struct {
	// Device is the target device ID; must match a declared device.
	Device string `yaml:"device"`

	// Type is one of: demo | prometheus.
	Type string `yaml:"type"`

	// PollInterval is how often the source is polled. Defaults to the
	// device's sample interval.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Endpoint is the metrics URL for prometheus sources.
	Endpoint string `yaml:"endpoint"`

	// Metrics maps channel names to Prometheus metric family names for
	// prometheus sources.
	Metrics map[string]string `yaml:"metrics"`

	// Seed fixes the RNG for demo sources so runs are reproducible.
	Seed int64 `yaml:"seed"`
}

// NotifyConfig holds webhook delivery targets for high-severity insights.
type NotifyConfig struct {
	// MinSeverity is the severity at or above which insights are delivered.
	// Default: 3.
	MinSeverity float64 `yaml:"min_severity"`

	// Cooldown suppresses repeat deliveries per (device, kind) for this
	// duration. Default: 15m.
	Cooldown time.Duration `yaml:"cooldown"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	applyDeviceDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:          DefaultHTTPPort,
			BroadcastInterval: DefaultBroadcastInterval,
		},
		Log: LogConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Journal: JournalConfig{
			Dir: DefaultJournalDir,
		},
		Cache: CacheConfig{
			KeyPrefix: "labwatch",
			TTL:       DefaultCacheTTL,
		},
		Engine: EngineConfig{
			QueueCapacity:     DefaultQueueCapacity,
			LatenessWindow:    DefaultLatenessWindow,
			HealthInterval:    DefaultHealthInterval,
			FreshnessMultiple: DefaultFreshnessMultiple,
			WeightAnomaly:     DefaultWeightAnomaly,
			WeightDrift:       DefaultWeightDrift,
		},
		Notify: NotifyConfig{
			MinSeverity: DefaultNotifyMinSeverity,
			Cooldown:    DefaultNotifyCooldown,
		},
	}
}

// applyDeviceDefaults fills zero-valued per-device detector settings.
// YAML zero values cannot be told apart from explicit zeros, so zero means
// "use the default" for every tunable here.
func applyDeviceDefaults(cfg *Config) {
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.SampleInterval <= 0 {
			d.SampleInterval = DefaultSampleInterval
		}
		if d.Drift.Alpha == 0 {
			d.Drift.Alpha = DefaultEMAAlpha
		}
		if d.Drift.K == 0 {
			d.Drift.K = DefaultDriftK
		}
		if d.Drift.Warmup == 0 {
			d.Drift.Warmup = DefaultDriftWarmup
		}
		if d.Anomaly.Window == 0 {
			d.Anomaly.Window = DefaultAnomalyWindow
		}
		if d.Anomaly.RefitEvery == 0 {
			d.Anomaly.RefitEvery = DefaultAnomalyRefitEvery
		}
		if d.Anomaly.MinSamples == 0 {
			d.Anomaly.MinSamples = DefaultAnomalyMinSamples
		}
		if d.Anomaly.Threshold == 0 {
			d.Anomaly.Threshold = DefaultAnomalyThreshold
		}
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].PollInterval <= 0 {
			cfg.Sources[i].PollInterval = intervalFor(cfg, cfg.Sources[i].Device)
		}
	}
}

func intervalFor(cfg *Config, deviceID string) time.Duration {
	for _, d := range cfg.Devices {
		if d.ID == deviceID {
			return d.SampleInterval
		}
	}
	return DefaultSampleInterval
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Engine.QueueCapacity <= 0 {
		return fmt.Errorf("engine.queue_capacity must be positive, got %d", cfg.Engine.QueueCapacity)
	}
	if cfg.Engine.LatenessWindow < 0 {
		return fmt.Errorf("engine.lateness_window must not be negative")
	}
	if cfg.Engine.HealthInterval <= 0 {
		return fmt.Errorf("engine.health_interval must be positive")
	}
	if cfg.Engine.FreshnessMultiple <= 1 {
		return fmt.Errorf("engine.freshness_multiple must be greater than 1, got %g", cfg.Engine.FreshnessMultiple)
	}
	if w := cfg.Engine.WeightAnomaly + cfg.Engine.WeightDrift; w < 0.999 || w > 1.001 {
		return fmt.Errorf("engine weight_anomaly + weight_drift must sum to 1, got %g", w)
	}

	seen := make(map[string]bool, len(cfg.Devices))
	for _, d := range cfg.Devices {
		if d.ID == "" {
			return fmt.Errorf("device with empty id")
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate device id %q", d.ID)
		}
		seen[d.ID] = true
		if len(d.Channels) == 0 {
			return fmt.Errorf("device %q declares no channels", d.ID)
		}
		if d.Drift.Alpha <= 0 || d.Drift.Alpha > 1 {
			return fmt.Errorf("device %q: drift.alpha %g out of range (0, 1]", d.ID, d.Drift.Alpha)
		}
		if d.Drift.K <= 0 {
			return fmt.Errorf("device %q: drift.k must be positive", d.ID)
		}
		if d.Anomaly.Window < d.Anomaly.MinSamples {
			return fmt.Errorf("device %q: anomaly.window %d smaller than anomaly.min_samples %d",
				d.ID, d.Anomaly.Window, d.Anomaly.MinSamples)
		}
		if d.Anomaly.Threshold <= 0 || d.Anomaly.Threshold > 1 {
			return fmt.Errorf("device %q: anomaly.threshold %g out of range (0, 1]", d.ID, d.Anomaly.Threshold)
		}
	}

	for _, s := range cfg.Sources {
		if !seen[s.Device] {
			return fmt.Errorf("source targets undeclared device %q", s.Device)
		}
		switch s.Type {
		case "demo":
		case "prometheus":
			if s.Endpoint == "" {
				return fmt.Errorf("prometheus source for %q needs an endpoint", s.Device)
			}
			if len(s.Metrics) == 0 {
				return fmt.Errorf("prometheus source for %q needs a metrics mapping", s.Device)
			}
		default:
			return fmt.Errorf("source type %q unknown: want demo|prometheus", s.Type)
		}
	}
	return nil
}
