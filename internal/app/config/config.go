package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sargonas/meshcord/internal/domain"
	"github.com/sargonas/meshcord/internal/ports"
)

type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Radios []RadioConfig `yaml:"radios"`

	Filters    FiltersConfig `yaml:"filters"`
	ShowSignal *bool         `yaml:"show_signal_strength"`

	Connection ConnectionConfig `yaml:"connection"`
	Store      StoreConfig      `yaml:"store"`
	Forwarder  ForwarderConfig  `yaml:"forwarder"`
	Queue      QueueConfig      `yaml:"queue"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// RadioConfig describes one link. Name doubles as the link tag and must be
// unique across radios.
type RadioConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // "serial" or "http"

	// http
	Address        string `yaml:"address"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`

	// serial
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// FiltersConfig holds per-kind enable flags. Unset fields take the default
// for their kind, which is on for everything except routing and unknown.
type FiltersConfig struct {
	Text            *bool `yaml:"text"`
	Position        *bool `yaml:"position"`
	NodeInfo        *bool `yaml:"node_info"`
	Telemetry       *bool `yaml:"telemetry"`
	Routing         *bool `yaml:"routing"`
	Admin           *bool `yaml:"admin"`
	DetectionSensor *bool `yaml:"detection_sensor"`
	RangeTest       *bool `yaml:"range_test"`
	StoreForward    *bool `yaml:"store_forward"`
	Unknown         *bool `yaml:"unknown"`
}

type ConnectionConfig struct {
	SilenceTimeoutSec     int `yaml:"silence_timeout_sec"`
	ReadTimeoutSec        int `yaml:"read_timeout_sec"`
	ReconnectDelaySec     int `yaml:"reconnect_delay_sec"`
	MaxReconnectDelaySec  int `yaml:"max_reconnect_delay_sec"`
	MaxReconnectAttempts  int `yaml:"max_reconnect_attempts"`
	BreakerThreshold      int `yaml:"breaker_threshold"`
	BreakerCooldownSec    int `yaml:"breaker_cooldown_sec"`
	BreakerMaxCooldownSec int `yaml:"breaker_max_cooldown_sec"`
}

type StoreConfig struct {
	Driver           string `yaml:"driver"` // "sqlite" or "postgres"
	DSN              string `yaml:"dsn"`
	RetentionHours   int    `yaml:"retention_hours"`
	SweepIntervalMin int    `yaml:"sweep_interval_min"`
}

type ForwarderConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	MaxChunkSize   int    `yaml:"max_chunk_size"`
	RetryAttempts  int    `yaml:"retry_attempts"`
	RetryBackoffMS int    `yaml:"retry_backoff_ms"`
	RateIntervalMS int    `yaml:"rate_interval_ms"`
	RateBurst      int    `yaml:"rate_burst"`
	TimeoutSec     int    `yaml:"timeout_sec"`
}

type QueueConfig struct {
	Capacity int    `yaml:"capacity"`
	Policy   string `yaml:"policy"`
}

type DeadLetterConfig struct {
	Dir string `yaml:"dir"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads a YAML config file, expanding ${VAR} references from the
// environment so secrets like the webhook URL can stay out of the file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	for i := range c.Radios {
		r := &c.Radios[i]
		if r.Type == "http" && r.PollIntervalMS == 0 {
			r.PollIntervalMS = 2000
		}
		if r.Type == "serial" && r.Baud == 0 {
			r.Baud = 115200
		}
	}

	c.Filters.applyDefaults()
	if c.ShowSignal == nil {
		c.ShowSignal = boolPtr(true)
	}

	if c.Connection.SilenceTimeoutSec == 0 {
		c.Connection.SilenceTimeoutSec = 300
	}
	if c.Connection.ReadTimeoutSec == 0 {
		c.Connection.ReadTimeoutSec = 15
	}
	if c.Connection.ReconnectDelaySec == 0 {
		c.Connection.ReconnectDelaySec = 30
	}
	if c.Connection.MaxReconnectDelaySec == 0 {
		c.Connection.MaxReconnectDelaySec = 600
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = 5
	}
	if c.Connection.BreakerThreshold == 0 {
		c.Connection.BreakerThreshold = 3
	}
	if c.Connection.BreakerCooldownSec == 0 {
		c.Connection.BreakerCooldownSec = 60
	}
	if c.Connection.BreakerMaxCooldownSec == 0 {
		c.Connection.BreakerMaxCooldownSec = 600
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = "./data/meshcord.db"
	}
	if c.Store.RetentionHours == 0 {
		c.Store.RetentionHours = 24
	}
	if c.Store.SweepIntervalMin == 0 {
		c.Store.SweepIntervalMin = 60
	}

	if c.Forwarder.MaxChunkSize == 0 {
		c.Forwarder.MaxChunkSize = 1900
	}
	if c.Forwarder.RetryAttempts == 0 {
		c.Forwarder.RetryAttempts = 3
	}
	if c.Forwarder.RetryBackoffMS == 0 {
		c.Forwarder.RetryBackoffMS = 750
	}
	if c.Forwarder.RateIntervalMS == 0 {
		c.Forwarder.RateIntervalMS = 2000
	}
	if c.Forwarder.RateBurst == 0 {
		c.Forwarder.RateBurst = 5
	}
	if c.Forwarder.TimeoutSec == 0 {
		c.Forwarder.TimeoutSec = 15
	}

	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 256
	}
	if c.Queue.Policy == "" {
		c.Queue.Policy = string(ports.OverflowBlock)
	}

	if c.DeadLetter.Dir == "" {
		c.DeadLetter.Dir = "./data/deadletter"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
}

func (f *FiltersConfig) applyDefaults() {
	if f.Text == nil {
		f.Text = boolPtr(true)
	}
	if f.Position == nil {
		f.Position = boolPtr(true)
	}
	if f.NodeInfo == nil {
		f.NodeInfo = boolPtr(true)
	}
	if f.Telemetry == nil {
		f.Telemetry = boolPtr(true)
	}
	if f.Routing == nil {
		f.Routing = boolPtr(false)
	}
	if f.Admin == nil {
		f.Admin = boolPtr(true)
	}
	if f.DetectionSensor == nil {
		f.DetectionSensor = boolPtr(true)
	}
	if f.RangeTest == nil {
		f.RangeTest = boolPtr(true)
	}
	if f.StoreForward == nil {
		f.StoreForward = boolPtr(true)
	}
	if f.Unknown == nil {
		f.Unknown = boolPtr(false)
	}
}

func (c *Config) Validate() error {
	if len(c.Radios) == 0 {
		return fmt.Errorf("at least one radio is required")
	}
	seen := make(map[string]bool, len(c.Radios))
	for i, r := range c.Radios {
		if r.Name == "" {
			return fmt.Errorf("radios[%d].name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("radios[%d].name %q is not unique", i, r.Name)
		}
		seen[r.Name] = true

		switch r.Type {
		case "http":
			if r.Address == "" {
				return fmt.Errorf("radios[%d].address is required for http radios", i)
			}
		case "serial":
			if r.Port == "" {
				return fmt.Errorf("radios[%d].port is required for serial radios", i)
			}
		default:
			return fmt.Errorf("radios[%d].type must be \"serial\" or \"http\", got %q", i, r.Type)
		}
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be \"sqlite\" or \"postgres\", got %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}

	if c.Forwarder.WebhookURL == "" {
		return fmt.Errorf("forwarder.webhook_url is required")
	}
	if c.Forwarder.MaxChunkSize < 1 || c.Forwarder.MaxChunkSize > 2000 {
		return fmt.Errorf("forwarder.max_chunk_size must be between 1 and 2000")
	}
	if c.Forwarder.RetryAttempts < 0 || c.Forwarder.RetryAttempts > 10 {
		return fmt.Errorf("forwarder.retry_attempts must be between 0 and 10")
	}

	if !ports.OverflowPolicy(c.Queue.Policy).Valid() {
		return fmt.Errorf("queue.policy must be one of block, drop_newest, drop_oldest")
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// KindFilters resolves the per-kind flags into the immutable map the
// pipeline consumes.
func (c *Config) KindFilters() map[domain.MessageKind]bool {
	f := c.Filters
	return map[domain.MessageKind]bool{
		domain.KindText:            *f.Text,
		domain.KindPosition:        *f.Position,
		domain.KindNodeInfo:        *f.NodeInfo,
		domain.KindTelemetry:       *f.Telemetry,
		domain.KindRouting:         *f.Routing,
		domain.KindAdmin:           *f.Admin,
		domain.KindDetectionSensor: *f.DetectionSensor,
		domain.KindRangeTest:       *f.RangeTest,
		domain.KindStoreForward:    *f.StoreForward,
		domain.KindUnknown:         *f.Unknown,
	}
}

func boolPtr(v bool) *bool { return &v }
