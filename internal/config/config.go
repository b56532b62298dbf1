package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shunt-ci/shunt/internal/gateway"
	"github.com/shunt-ci/shunt/internal/logging"
)

// Config represents the main configuration
type Config struct {
	Version  string           `yaml:"version"`
	Logging  *logging.Config  `yaml:"logging"`
	Gateway  *gateway.Config  `yaml:"gateway"`
	Database *DatabaseConfig  `yaml:"database"`
	GitHub   *GitHubConfig    `yaml:"github"`
	CI       *CIConfig        `yaml:"ci"`
	Resync   *ResyncConfig    `yaml:"resync"`
	Projects []*ProjectConfig `yaml:"projects"`
}

// DatabaseConfig locates the state database
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GitHubConfig holds API credentials and webhook settings
type GitHubConfig struct {
	Token         string `yaml:"token"`
	WebhookSecret string `yaml:"webhook_secret"`
	BotUser       string `yaml:"bot_user"`
	BaseURL       string `yaml:"base_url"`
}

// CIConfig tunes the check-run watcher
type CIConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	BuildTimeout   time.Duration `yaml:"build_timeout"`
	RequiredChecks []string      `yaml:"required_checks"`
}

// ResyncConfig schedules the periodic open-PR resync
type ResyncConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone"`
}

// ProjectConfig binds one repository to one merge pipeline
type ProjectConfig struct {
	Pipeline      int    `yaml:"pipeline"`
	Owner         string `yaml:"owner"`
	Repo          string `yaml:"repo"`
	MasterBranch  string `yaml:"master_branch"`
	StagingBranch string `yaml:"staging_branch"`
	Path          string `yaml:"path"`
	CloneURL      string `yaml:"clone_url"` // overrides the derived https remote
}

// FullName returns the owner/repo form used in logs and API paths.
func (p *ProjectConfig) FullName() string {
	return p.Owner + "/" + p.Repo
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Logging: logging.DefaultConfig(),
		Gateway: &gateway.Config{
			Host: "127.0.0.1",
			Port: 9090,
		},
		Database: &DatabaseConfig{
			Path: filepath.Join(homeDir, ".shunt", "data", "shunt.db"),
		},
		GitHub: &GitHubConfig{},
		CI: &CIConfig{
			PollInterval: 30 * time.Second,
			BuildTimeout: 2 * time.Hour,
		},
		Resync: &ResyncConfig{
			Enabled:  false,
			Schedule: "*/10 * * * *",
			Timezone: "UTC",
		},
		Projects: []*ProjectConfig{},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Return defaults if no config file
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Expand paths
	if config.Database != nil {
		config.Database.Path = expandPath(config.Database.Path)
	}
	for _, project := range config.Projects {
		project.Path = expandPath(project.Path)
		if project.MasterBranch == "" {
			project.MasterBranch = "master"
		}
		if project.StagingBranch == "" {
			project.StagingBranch = "staging"
		}
	}

	return config, nil
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".shunt", "config.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Gateway == nil {
		return fmt.Errorf("gateway configuration is required")
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	if c.Database == nil || c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.GitHub == nil || c.GitHub.Token == "" {
		return fmt.Errorf("github token is required")
	}
	if c.GitHub.BotUser == "" {
		return fmt.Errorf("github bot_user is required")
	}
	if c.CI != nil {
		if c.CI.PollInterval <= 0 {
			return fmt.Errorf("ci poll_interval must be positive")
		}
		if c.CI.BuildTimeout <= c.CI.PollInterval {
			return fmt.Errorf("ci build_timeout must exceed poll_interval")
		}
	}
	if len(c.Projects) == 0 {
		return fmt.Errorf("at least one project is required")
	}
	seen := make(map[int]string, len(c.Projects))
	for _, project := range c.Projects {
		if project.Pipeline <= 0 {
			return fmt.Errorf("project %s: pipeline id must be positive", project.FullName())
		}
		if prev, ok := seen[project.Pipeline]; ok {
			return fmt.Errorf("pipeline id %d used by both %s and %s", project.Pipeline, prev, project.FullName())
		}
		seen[project.Pipeline] = project.FullName()
		if project.Owner == "" || project.Repo == "" {
			return fmt.Errorf("project with pipeline %d: owner and repo are required", project.Pipeline)
		}
		if project.Path == "" {
			return fmt.Errorf("project %s: clone path is required", project.FullName())
		}
		if project.MasterBranch == project.StagingBranch {
			return fmt.Errorf("project %s: staging branch must differ from master", project.FullName())
		}
	}
	return nil
}

// ProjectByPipeline returns the project bound to a pipeline id
func (c *Config) ProjectByPipeline(id int) *ProjectConfig {
	for _, project := range c.Projects {
		if project.Pipeline == id {
			return project
		}
	}
	return nil
}

// ProjectByRepo returns the project for an owner/repo pair
func (c *Config) ProjectByRepo(owner, repo string) *ProjectConfig {
	for _, project := range c.Projects {
		if project.Owner == owner && project.Repo == repo {
			return project
		}
	}
	return nil
}
