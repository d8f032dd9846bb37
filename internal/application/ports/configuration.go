package ports

import "time"

// Configuration holds the local CLI settings
type Configuration struct {
	// PluginsDir is the local store directory
	PluginsDir string `yaml:"plugins_dir" json:"plugins_dir"`

	// Sources are upstream source descriptors in priority order
	Sources []string `yaml:"sources" json:"sources"`

	// SearchPolicy is "first-match" or "merge-all"
	SearchPolicy string `yaml:"search_policy" json:"search_policy"`

	LogLevel       string        `yaml:"log_level" json:"log_level"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts" json:"retry_attempts"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`

	S3 S3Settings `yaml:"s3" json:"s3"`
}

// S3Settings configures access to bucket sources. Credentials come from the
// standard AWS environment variables only.
type S3Settings struct {
	Region    string `yaml:"region" json:"region"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	PathStyle bool   `yaml:"path_style" json:"path_style"`
}

// ConfigurationRepository defines the interface for loading configuration
type ConfigurationRepository interface {
	// Load merges every configuration source over the defaults
	Load() (*Configuration, error)

	// LoadDefault returns the default configuration
	LoadDefault() *Configuration

	// Validate validates the configuration
	Validate(config *Configuration) error

	// GetConfigPath returns the path to the configuration file
	GetConfigPath() string

	// Save writes the configuration file
	Save(config *Configuration) error

	// BackupConfig copies the configuration file aside, returning the copy's
	// path or "" when there is nothing to copy
	BackupConfig() (string, error)
}

// Credentials locate and authenticate against an Encapsia server
type Credentials struct {
	Host  string `toml:"host"`
	Token string `toml:"token"`
}
