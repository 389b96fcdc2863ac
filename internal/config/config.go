package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
	Generation GenerationConfig
	Story      StoryConfig
	Cleanup    CleanupConfig
}

type ServerConfig struct {
	Port           int
	MaxConnections int // 0 means unlimited
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level  string
	Format string
}

type GenerationConfig struct {
	APIURL  string
	APIKey  string
	Model   string
	Timeout string
}

type StoryConfig struct {
	Strategy string
}

type CleanupConfig struct {
	Backend      string
	LocalRoot    string
	BatchSize    int
	MaxRetries   int
	ServiceToken string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Generation: GenerationConfig{
			APIURL:  "https://api.openai.com/v1/chat/completions",
			Model:   "gpt-4o-mini",
			Timeout: "30s",
		},
		Story: StoryConfig{
			Strategy: "sequential",
		},
		Cleanup: CleanupConfig{
			Backend:    "local",
			LocalRoot:  filepath.Join(dataDir, "media"),
			BatchSize:  10,
			MaxRetries: 3,
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/keepsake/config.json and applies KEEPSAKE_* environment
// overrides. Secrets are only read from the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Log.Format {
	case "text", "json", "console":
	default:
		return fmt.Errorf("invalid log.format %q (want text, json or console)", c.Log.Format)
	}
	switch c.Story.Strategy {
	case "sequential", "parallel":
	default:
		return fmt.Errorf("invalid story.strategy %q (want sequential or parallel)", c.Story.Strategy)
	}
	switch c.Cleanup.Backend {
	case "local", "gcs":
	default:
		return fmt.Errorf("invalid cleanup.backend %q (want local or gcs)", c.Cleanup.Backend)
	}
	if _, err := c.GenerationTimeout(); err != nil {
		return err
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}
	return nil
}

// GenerationTimeout parses generation.timeout as a duration.
func (c Config) GenerationTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Generation.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid generation.timeout %q: %w", c.Generation.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("generation.timeout must be positive")
	}
	return d, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "keepsake-data"
		}
	}
	return filepath.Join(dir, "keepsake")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "keepsake", "config.json")
}
