package meshcord

import "github.com/sargonas/meshcord/internal/app/config"

// Config is the full bridge configuration. Zero values are filled with
// defaults by NewBridge; embedders can also build one in code instead of
// loading a file.
type Config = config.Config

// Sub-sections of Config, re-exported for programmatic construction.
type (
	RadioConfig      = config.RadioConfig
	FiltersConfig    = config.FiltersConfig
	ConnectionConfig = config.ConnectionConfig
	StoreConfig      = config.StoreConfig
	ForwarderConfig  = config.ForwarderConfig
	QueueConfig      = config.QueueConfig
	DeadLetterConfig = config.DeadLetterConfig
	MetricsConfig    = config.MetricsConfig
)

// LoadConfig reads a YAML config file, expands ${ENV} references, applies
// defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
