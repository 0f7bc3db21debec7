package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "MCPSALES"

// Settings holds operator-tunable values. Each field maps to MCPSALES_<NAME>.
type Settings struct {
	AllowedDirs           []string      `envconfig:"ALLOWED_DIRS"`
	LogLevel              string        `envconfig:"LOG_LEVEL" default:"info"`
	MaxConcurrentRequests int           `envconfig:"MAX_CONCURRENT_REQUESTS" default:"10"`
	MaxOpenDatasets       int           `envconfig:"MAX_OPEN_DATASETS" default:"16"`
	DatasetIdleTTL        time.Duration `envconfig:"DATASET_IDLE_TTL" default:"30m"`
	OperationTimeout      time.Duration `envconfig:"OPERATION_TIMEOUT" default:"30s"`
	InputEncoding         string        `envconfig:"INPUT_ENCODING" default:"auto"`
	Columns               string        `envconfig:"COLUMNS" default:"id"`
	RulesFile             string        `envconfig:"RULES_FILE"`
	EnableExport          bool          `envconfig:"ENABLE_EXPORT"`
}

// Load reads Settings from the environment.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return Settings{}, fmt.Errorf("config: load env: %w", err)
	}
	if s.MaxConcurrentRequests <= 0 {
		s.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if s.MaxOpenDatasets <= 0 {
		s.MaxOpenDatasets = DefaultMaxOpenDatasets
	}
	if s.DatasetIdleTTL <= 0 {
		s.DatasetIdleTTL = DefaultDatasetIdleTTL
	}
	if s.OperationTimeout <= 0 {
		s.OperationTimeout = DefaultOperationTimeout
	}
	return s, nil
}
