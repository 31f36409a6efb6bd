package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the application configuration
type Config struct {
	Database DatabaseConfig          `toml:"database"`
	Projects map[string]GitLabConfig `toml:"projects"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// GitLabConfig holds the GitLab integration settings for one project.
type GitLabConfig struct {
	// Enabled is the master switch for the integration
	Enabled bool `toml:"enabled"`
	// BaseURL overrides the GitLab host (empty means gitlab.com)
	BaseURL string `toml:"base_url"`
	// Project is the remote project path ("group/app") or numeric id.
	// A path may still carry its separator encoded as %2F.
	Project string `toml:"project"`
	// Token is a personal access token with api scope
	Token string `toml:"token"`
	// AutoPoll refreshes linked tasks on the poll interval
	AutoPoll bool `toml:"auto_poll"`
	// AutoAddToBacklog imports new remote issues as backlog tasks
	AutoAddToBacklog bool `toml:"auto_add_to_backlog"`
	// SearchEnabled allows searching issues on the remote project
	SearchEnabled bool `toml:"search_enabled"`
	// FilterUsername excludes this user's comments when deciding
	// whether an issue was changed by somebody else
	FilterUsername string `toml:"filter_username"`
	// PollIntervalMinutes defaults to 10 when unset
	PollIntervalMinutes int `toml:"poll_interval_minutes"`
}

// Default returns the default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Database: DatabaseConfig{
			Path: filepath.Join(homeDir, ".config", "tasks-tui", "tasks.db"),
		},
		Projects: make(map[string]GitLabConfig),
	}
}

// DefaultPath returns the standard config file location
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home dir: %w", err)
	}
	return filepath.Join(homeDir, ".config", "tasks-tui", "config.toml"), nil
}

// Load loads configuration from the standard location
func Load() (*Config, error) {
	configPath, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom loads configuration from a specific path
func LoadFrom(configPath string) (*Config, error) {
	// Start with defaults
	cfg := Default()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// No config file, return defaults
		return cfg, nil
	}

	// Read and parse config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Expand home directory in paths
	if cfg.Database.Path != "" {
		cfg.Database.Path = expandPath(cfg.Database.Path)
	}
	if cfg.Projects == nil {
		cfg.Projects = make(map[string]GitLabConfig)
	}

	return cfg, nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves the configuration to the standard location
func (c *Config) Save() error {
	configPath, err := DefaultPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return c.SaveTo(configPath)
}

// SaveTo saves the configuration to a specific path
func (c *Config) SaveTo(configPath string) error {
	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}
