package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults for a standalone
// (sqlite-backed) deployment.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			DMPolicy:             "open",
			GroupPolicy:          "open",
			MediaMaxBytes:        20 * 1024 * 1024,
			MediaMaxBytesPremium: 2 * 1024 * 1024 * 1024,
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18790,
			MaxMessageChars: 32000,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.tollgate/tollgate.db",
		},
		Models: ModelRegistry{
			Default: "claude-sonnet",
			Entries: map[string]ModelEntry{
				"claude-sonnet": {
					ProviderModel:   "claude-sonnet-4-5-20250929",
					InputPerMToken:  3.0,
					OutputPerMToken: 15.0,
					ContextWindow:   200000,
					MaxOutputTokens: 8192,
					SupportsThinking: true,
				},
				"claude-opus": {
					ProviderModel:   "claude-opus-4-5-20250929",
					InputPerMToken:  15.0,
					OutputPerMToken: 75.0,
					ContextWindow:   200000,
					MaxOutputTokens: 8192,
					SupportsThinking: true,
				},
			},
		},
		TTLs: TTLConfig{
			CacheSeconds:           3600,
			FilesAPITTLHours:       24,
			ExecArtifactTTLMinutes: 30,
			UserFileTTLDays:        30,
		},
		Batcher: BatcherConfig{WindowMs: 200},
		Stream: StreamConfig{
			DraftEditPeriodMs: 700,
			FlusherIntervalMs: 2000,
			FlusherBatchSize:  50,
			MaxRetries:        5,
			NMaxContinuations: 10,
		},
		Breaker: BreakerConfig{MaxFailures: 5, OpenForMs: 5000},
		Sandbox: SandboxConfig{
			Image:          "python:3.12-slim",
			NetworkMode:    "none",
			MemoryLimit:    "512m",
			PidsLimit:      64,
			TimeoutSeconds: 180,
		},
		Tools: ToolsConfig{
			VisionModel:        "claude-sonnet-4-5-20250929",
			AnalyzePDFMaxChars: 60000,
			SelfCritique: SelfCritiqueToolConfig{
				Model:            "claude-opus-4-5-20250929",
				MinBalanceMicros: 500_000,
				MaxCritiqueTurns: 4,
			},
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays secrets and deployment knobs from the
// environment; these always take precedence over file values, since anything
// sensitive must never round-trip through the config file on disk.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("TOLLGATE_ANTHROPIC_API_KEY", &c.Anthropic.APIKey)
	envStr("TOLLGATE_ANTHROPIC_BASE_URL", &c.Anthropic.BaseURL)
	envStr("TOLLGATE_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("TOLLGATE_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("TOLLGATE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("TOLLGATE_DB_MODE", &c.Database.Mode)
	envStr("TOLLGATE_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("TOLLGATE_TRANSCRIBE_API_KEY", &c.Tools.Transcribe.APIKey)
	envStr("TOLLGATE_IMAGE_GEN_API_KEY", &c.Tools.ImageGen.APIKey)
	envStr("TOLLGATE_LATEX_API_KEY", &c.Tools.Latex.APIKey)
	envStr("TOLLGATE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("TOLLGATE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("TOLLGATE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)

	if c.Telegram.Token != "" {
		c.Telegram.Enabled = true
	}
	if v := os.Getenv("TOLLGATE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TOLLGATE_HOST"); v != "" {
		c.Gateway.Host = v
	}
	if v := os.Getenv("TOLLGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config; exported so callers can restore runtime secrets after reloading
// the file in place (e.g. on SIGHUP).
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
