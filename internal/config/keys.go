package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "KEEPSAKE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_connections", typ: kInt, env: "KEEPSAKE_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "storage.data_dir", typ: kString, env: "KEEPSAKE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "KEEPSAKE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "KEEPSAKE_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "generation.api_url", typ: kString, env: "KEEPSAKE_OPENAI_API_URL",
		apply:   func(cfg *Config, v any) { cfg.Generation.APIURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.APIURL },
	},
	{
		key: "generation.api_key", typ: kString, env: "KEEPSAKE_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Generation.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.APIKey },
	},
	{
		key: "generation.model", typ: kString, env: "KEEPSAKE_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Model },
	},
	{
		key: "generation.timeout", typ: kString, env: "KEEPSAKE_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "story.strategy", typ: kString, env: "KEEPSAKE_STORY_STRATEGY",
		apply:   func(cfg *Config, v any) { cfg.Story.Strategy = v.(string) },
		extract: func(cfg Config) any { return cfg.Story.Strategy },
	},
	{
		key: "cleanup.backend", typ: kString, env: "KEEPSAKE_CLEANUP_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Cleanup.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Cleanup.Backend },
	},
	{
		key: "cleanup.local_root", typ: kString, env: "KEEPSAKE_CLEANUP_LOCAL_ROOT",
		apply:   func(cfg *Config, v any) { cfg.Cleanup.LocalRoot = v.(string) },
		extract: func(cfg Config) any { return cfg.Cleanup.LocalRoot },
	},
	{
		key: "cleanup.batch_size", typ: kInt, env: "KEEPSAKE_CLEANUP_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Cleanup.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Cleanup.BatchSize },
	},
	{
		key: "cleanup.max_retries", typ: kInt, env: "KEEPSAKE_CLEANUP_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Cleanup.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Cleanup.MaxRetries },
	},
	{
		key: "cleanup.service_token", typ: kString, env: "KEEPSAKE_SERVICE_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Cleanup.ServiceToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Cleanup.ServiceToken },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
