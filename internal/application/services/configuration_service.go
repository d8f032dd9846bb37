package services

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"encapsia.io/cli/internal/application/ports"
)

// ErrConfigExists is returned when initializing over an existing config file
var ErrConfigExists = errors.New("configuration file already exists")

// ConfigurationService handles the local settings file
type ConfigurationService struct {
	configRepo ports.ConfigurationRepository
	logger     ports.LoggingGateway
}

// NewConfigurationService creates a new configuration service
func NewConfigurationService(configRepo ports.ConfigurationRepository, logger ports.LoggingGateway) *ConfigurationService {
	return &ConfigurationService{
		configRepo: configRepo,
		logger:     logger,
	}
}

// LoadConfiguration returns the effective configuration
func (s *ConfigurationService) LoadConfiguration() (*ports.Configuration, error) {
	config, err := s.configRepo.Load()
	if err != nil {
		s.logger.LogError(err, "Failed to load configuration", nil)
		return nil, err
	}
	return config, nil
}

// GetConfigurationPath returns the path to the configuration file
func (s *ConfigurationService) GetConfigurationPath() string {
	return s.configRepo.GetConfigPath()
}

// InitializeConfiguration writes config, or the defaults when config is nil,
// to the configuration file. An existing file is only replaced with
// overwrite, after it has been backed up. It returns the backup path, if any.
func (s *ConfigurationService) InitializeConfiguration(config *ports.Configuration, overwrite bool) (string, error) {
	path := s.configRepo.GetConfigPath()
	_, err := os.Stat(path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to check %s: %w", path, err)
	}
	if exists && !overwrite {
		return "", fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	if config == nil {
		config = s.configRepo.LoadDefault()
	}

	var backup string
	if exists {
		backup, err = s.configRepo.BackupConfig()
		if err != nil {
			s.logger.LogError(err, "Failed to create configuration backup", nil)
			return "", err
		}
	}

	if err := s.configRepo.Save(config); err != nil {
		s.logger.LogError(err, "Failed to save configuration", nil)
		return backup, err
	}

	s.logger.Log(ports.LogLevelInfo, "Configuration saved", map[string]interface{}{
		"config_path": path,
		"backup":      backup,
	})
	return backup, nil
}
