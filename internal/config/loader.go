package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/deploycheck"
	projectConfigDir = ".deploycheck"
	configFileName   = "config.yaml"
)

// LoadConfig loads the deploycheck configuration by layering default, user,
// and project settings. Missing files are not an error; malformed files are.
func LoadConfig() (Config, error) {
	// 1. Start with the default configuration
	cfg := GetDefaultConfig()

	// 2. User-specific configuration
	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// User config is optional; don't fail the run over a missing home dir.
		fmt.Fprintf(os.Stderr, "Warning: Could not determine user config path: %v\n", err)
	} else {
		if _, err := os.Stat(userConfigPath); !os.IsNotExist(err) {
			userCfg, err := loadConfigFromFile(userConfigPath)
			if err != nil {
				return Config{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
			}
			cfg = mergeConfigs(cfg, userCfg)
		}
	}

	// 3. Project-specific configuration
	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine project config path: %v\n", err)
	} else {
		if _, err := os.Stat(projectConfigPath); !os.IsNotExist(err) {
			projectCfg, err := loadConfigFromFile(projectConfigPath)
			if err != nil {
				return Config{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
			}
			cfg = mergeConfigs(cfg, projectCfg)
		}
	}

	return cfg, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir() // Use mockable variable
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd() // Use mockable variable
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadConfigFromFile loads a Config from a YAML file.
func loadConfigFromFile(filePath string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, err
	}
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeConfigs merges 'overlay' config into 'base' config. Only fields the
// overlay sets explicitly override the base.
func mergeConfigs(base, overlay Config) Config {
	merged := base

	if overlay.Environment != "" {
		merged.Environment = overlay.Environment
	}

	if overlay.Kubernetes.Context != "" {
		merged.Kubernetes.Context = overlay.Kubernetes.Context
	}
	if overlay.Kubernetes.Namespace != "" {
		merged.Kubernetes.Namespace = overlay.Kubernetes.Namespace
	}

	if overlay.Compose.Project != "" {
		merged.Compose.Project = overlay.Compose.Project
	}
	if overlay.Compose.Service != "" {
		merged.Compose.Service = overlay.Compose.Service
	}
	if overlay.Compose.File != "" {
		merged.Compose.File = overlay.Compose.File
	}

	if overlay.Deployment.Name != "" {
		merged.Deployment.Name = overlay.Deployment.Name
	}
	if overlay.Deployment.Image != "" {
		merged.Deployment.Image = overlay.Deployment.Image
	}
	if overlay.Deployment.BuildContext != "" {
		merged.Deployment.BuildContext = overlay.Deployment.BuildContext
	}
	if overlay.Deployment.Push {
		merged.Deployment.Push = true
	}
	if overlay.Deployment.Replicas != 0 {
		merged.Deployment.Replicas = overlay.Deployment.Replicas
	}
	if overlay.Deployment.Port != 0 {
		merged.Deployment.Port = overlay.Deployment.Port
	}
	if overlay.Deployment.ReadyTimeout != 0 {
		merged.Deployment.ReadyTimeout = overlay.Deployment.ReadyTimeout
	}

	if overlay.Checks.LocalPort != 0 {
		merged.Checks.LocalPort = overlay.Checks.LocalPort
	}
	if overlay.Checks.Retries != 0 {
		merged.Checks.Retries = overlay.Checks.Retries
	}
	if overlay.Checks.Timeout != 0 {
		merged.Checks.Timeout = overlay.Checks.Timeout
	}
	if overlay.Checks.Expect.Message != "" {
		merged.Checks.Expect.Message = overlay.Checks.Expect.Message
	}
	if overlay.Checks.Expect.Version != "" {
		merged.Checks.Expect.Version = overlay.Checks.Expect.Version
	}
	if overlay.Checks.Security.RunAsNonRoot != nil {
		merged.Checks.Security.RunAsNonRoot = overlay.Checks.Security.RunAsNonRoot
	}
	if overlay.Checks.Security.ReadOnlyRootFilesystem != nil {
		merged.Checks.Security.ReadOnlyRootFilesystem = overlay.Checks.Security.ReadOnlyRootFilesystem
	}
	if len(overlay.Checks.Security.DropCapabilities) > 0 {
		merged.Checks.Security.DropCapabilities = overlay.Checks.Security.DropCapabilities
	}

	return merged
}
