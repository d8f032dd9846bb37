package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"encapsia.io/cli/internal/application/ports"
)

// Environment variables read by the environment source
const (
	EnvConfigFile     = "ENCAPSIA_CONFIG_FILE"
	EnvPluginsDir     = "ENCAPSIA_PLUGINS_DIR"
	EnvLogLevel       = "ENCAPSIA_LOG_LEVEL"
	EnvSearchPolicy   = "ENCAPSIA_SEARCH_POLICY"
	EnvSources        = "ENCAPSIA_SOURCES"
	EnvRequestTimeout = "ENCAPSIA_REQUEST_TIMEOUT"
	EnvRetryAttempts  = "ENCAPSIA_RETRY_ATTEMPTS"
	EnvS3Endpoint     = "ENCAPSIA_S3_ENDPOINT"
)

var (
	validSearchPolicies = []string{"first-match", "merge-all"}
	validLogLevels      = []string{"debug", "info", "warn", "warning", "error"}
)

// CompositeConfigRepository implements the ConfigurationRepository interface
type CompositeConfigRepository struct {
	sources    []ConfigSource
	configPath string
	homeDir    string
}

// ConfigSource defines the interface for configuration sources
type ConfigSource interface {
	Load() (*ports.Configuration, error)
	Priority() int
	Name() string
}

// NewCompositeConfigRepository creates a repository reading the YAML config
// file and the environment
func NewCompositeConfigRepository() *CompositeConfigRepository {
	return NewCompositeConfigRepositoryWithFile("")
}

// NewCompositeConfigRepositoryWithFile is like NewCompositeConfigRepository but
// reads configPath when it is not empty
func NewCompositeConfigRepositoryWithFile(configPath string) *CompositeConfigRepository {
	homeDir, _ := os.UserHomeDir()

	if configPath == "" {
		configPath = os.Getenv(EnvConfigFile)
	}
	if configPath == "" {
		configPath = filepath.Join(homeDir, ".encapsia", "config.yaml")
	}

	repo := &CompositeConfigRepository{
		configPath: configPath,
		homeDir:    homeDir,
	}
	repo.AddSource(NewEnvironmentConfigSource())
	repo.AddSource(NewFileConfigSource(configPath))
	return repo
}

// AddSource adds a configuration source
func (r *CompositeConfigRepository) AddSource(source ConfigSource) {
	r.sources = append(r.sources, source)
}

// Load merges the sources over the defaults. Sources with a lower priority
// number win.
func (r *CompositeConfigRepository) Load() (*ports.Configuration, error) {
	config := r.LoadDefault()

	sorted := slices.Clone(r.sources)
	slices.SortStableFunc(sorted, func(a, b ConfigSource) int {
		return b.Priority() - a.Priority()
	})

	for _, source := range sorted {
		sourceConfig, err := source.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load %s configuration: %w", source.Name(), err)
		}
		config = mergeConfigurations(config, sourceConfig)
	}

	config.PluginsDir = r.expandHome(config.PluginsDir)

	if err := r.Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// LoadDefault returns the default configuration
func (r *CompositeConfigRepository) LoadDefault() *ports.Configuration {
	return &ports.Configuration{
		PluginsDir:     filepath.Join(r.homeDir, ".encapsia", "plugins-cache"),
		Sources:        []string{},
		SearchPolicy:   "first-match",
		LogLevel:       "info",
		RequestTimeout: 60 * time.Second,
		RetryAttempts:  3,
		PollInterval:   time.Second,
	}
}

// Validate validates the configuration
func (r *CompositeConfigRepository) Validate(config *ports.Configuration) error {
	if config == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if config.PluginsDir == "" {
		return fmt.Errorf("plugins directory is required")
	}
	if !slices.Contains(validSearchPolicies, config.SearchPolicy) {
		return fmt.Errorf("search policy must be one of: %s", strings.Join(validSearchPolicies, ", "))
	}
	if !slices.Contains(validLogLevels, config.LogLevel) {
		return fmt.Errorf("log level must be one of: %s", strings.Join(validLogLevels, ", "))
	}
	if config.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if config.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if config.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be greater than 0")
	}
	for _, s := range config.Sources {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("sources cannot contain empty entries")
		}
	}
	return nil
}

// GetConfigPath returns the path to the configuration file
func (r *CompositeConfigRepository) GetConfigPath() string {
	return r.configPath
}

// Save writes config to the configuration file as YAML
func (r *CompositeConfigRepository) Save(config *ports.Configuration) error {
	if err := r.Validate(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err := os.WriteFile(r.configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// BackupConfig copies the configuration file next to itself with a timestamp
// suffix and returns the copy's path. It returns "" when there is no file.
func (r *CompositeConfigRepository) BackupConfig() (string, error) {
	data, err := os.ReadFile(r.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read config file for backup: %w", err)
	}

	backupPath := r.configPath + ".backup." + time.Now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	return backupPath, nil
}

func (r *CompositeConfigRepository) expandHome(path string) string {
	if path == "~" {
		return r.homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(r.homeDir, path[2:])
	}
	return path
}

// mergeConfigurations merges two configurations (source overwrites target)
func mergeConfigurations(target, source *ports.Configuration) *ports.Configuration {
	if source == nil {
		return target
	}
	result := *target

	if source.PluginsDir != "" {
		result.PluginsDir = source.PluginsDir
	}
	if len(source.Sources) > 0 {
		result.Sources = source.Sources
	}
	if source.SearchPolicy != "" {
		result.SearchPolicy = source.SearchPolicy
	}
	if source.LogLevel != "" {
		result.LogLevel = source.LogLevel
	}
	if source.RequestTimeout != 0 {
		result.RequestTimeout = source.RequestTimeout
	}
	if source.RetryAttempts != 0 {
		result.RetryAttempts = source.RetryAttempts
	}
	if source.PollInterval != 0 {
		result.PollInterval = source.PollInterval
	}
	if source.S3.Region != "" {
		result.S3.Region = source.S3.Region
	}
	if source.S3.Endpoint != "" {
		result.S3.Endpoint = source.S3.Endpoint
	}
	if source.S3.PathStyle {
		result.S3.PathStyle = true
	}
	return &result
}

// FileConfigSource loads configuration from a YAML file
type FileConfigSource struct {
	filePath string
}

// NewFileConfigSource creates a new file configuration source
func NewFileConfigSource(filePath string) *FileConfigSource {
	return &FileConfigSource{filePath: filePath}
}

// Load loads configuration from file. A missing file yields no configuration.
func (f *FileConfigSource) Load() (*ports.Configuration, error) {
	file, err := os.Open(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer file.Close()

	var config ports.Configuration
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse config file %s: %w", f.filePath, err)
	}
	return &config, nil
}

// Priority returns the priority of this source (lower number = higher priority)
func (f *FileConfigSource) Priority() int {
	return 100
}

// Name returns the name of this source
func (f *FileConfigSource) Name() string {
	return "file"
}

// EnvironmentConfigSource loads configuration from environment variables
type EnvironmentConfigSource struct{}

// NewEnvironmentConfigSource creates a new environment configuration source
func NewEnvironmentConfigSource() *EnvironmentConfigSource {
	return &EnvironmentConfigSource{}
}

// Load loads configuration from environment variables
func (e *EnvironmentConfigSource) Load() (*ports.Configuration, error) {
	config := &ports.Configuration{
		PluginsDir:   os.Getenv(EnvPluginsDir),
		LogLevel:     os.Getenv(EnvLogLevel),
		SearchPolicy: os.Getenv(EnvSearchPolicy),
	}
	config.S3.Endpoint = os.Getenv(EnvS3Endpoint)

	if val := os.Getenv(EnvSources); val != "" {
		config.Sources = SplitList(val)
	}
	if val := os.Getenv(EnvRequestTimeout); val != "" {
		timeout, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvRequestTimeout, err)
		}
		config.RequestTimeout = timeout
	}
	if val := os.Getenv(EnvRetryAttempts); val != "" {
		attempts, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvRetryAttempts, err)
		}
		config.RetryAttempts = attempts
	}
	return config, nil
}

// Priority returns the priority of this source (lower number = higher priority)
func (e *EnvironmentConfigSource) Priority() int {
	return 10
}

// Name returns the name of this source
func (e *EnvironmentConfigSource) Name() string {
	return "environment"
}

// StaticConfigSource contributes a fixed configuration, such as one built from command line flags
type StaticConfigSource struct {
	name     string
	priority int
	config   *ports.Configuration
}

// NewStaticConfigSource creates a new static configuration source
func NewStaticConfigSource(name string, priority int, config *ports.Configuration) *StaticConfigSource {
	return &StaticConfigSource{name: name, priority: priority, config: config}
}

// Load returns the fixed configuration
func (s *StaticConfigSource) Load() (*ports.Configuration, error) {
	return s.config, nil
}

// Priority returns the priority of this source (lower number = higher priority)
func (s *StaticConfigSource) Priority() int {
	return s.priority
}

// Name returns the name of this source
func (s *StaticConfigSource) Name() string {
	return s.name
}

// SplitList splits a comma separated list, dropping empty items
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

var _ ports.ConfigurationRepository = (*CompositeConfigRepository)(nil)
