// Package config loads the gateway's root configuration: a JSON5 file
// (github.com/titanous/json5) overlaid with environment variables for
// anything secret, using a Default()+Load(path) two-phase shape.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/tollgate/internal/llm"
	"github.com/nextlevelbuilder/tollgate/internal/sandbox"
	"github.com/nextlevelbuilder/tollgate/internal/tools"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON: config authors
// sometimes paste numeric chat/user ids unquoted.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the gateway's root configuration.
type Config struct {
	Anthropic AnthropicConfig `json:"anthropic"`
	Telegram  TelegramConfig  `json:"telegram"`
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database"`
	Models    ModelRegistry   `json:"models"`
	TTLs      TTLConfig       `json:"ttls"`
	Batcher   BatcherConfig   `json:"batcher"`
	Stream    StreamConfig    `json:"stream"`
	Breaker   BreakerConfig   `json:"breaker"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Tools     ToolsConfig     `json:"tools"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// AnthropicConfig configures the LLM client's connection to the provider.
// APIKey is never persisted to the config file, only read from env.
type AnthropicConfig struct {
	APIKey  string `json:"-"`
	BaseURL string `json:"base_url,omitempty"`
}

// TelegramConfig configures the gateway's one frontend channel.
type TelegramConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"-"` // from env only
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "open" (default), "allowlist", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"` // require @bot mention in groups (default true)
	MediaMaxBytes  int64               `json:"media_max_bytes,omitempty"`
	MediaMaxBytesPremium int64         `json:"media_max_bytes_premium,omitempty"`
}

// DatabaseConfig selects the durable store backend. Postgres DSN is never
// read from the config file, only from env, matching the secret-handling
// rule every other credential field in this struct follows.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"` // "standalone" (sqlite, default) or "postgres"
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// ModelRegistry maps a model key (as stored on store.User.PreferredModelKey
// and store.Thread.ModelKey) to the provider model id and pricing the LLM
// client and balance gate need.
type ModelRegistry struct {
	Default string                 `json:"default"`
	Entries map[string]ModelEntry  `json:"entries"`
}

// ModelEntry is one named model's provider id, pricing, and capabilities.
type ModelEntry struct {
	ProviderModel               string  `json:"provider_model"`
	InputPerMToken               float64 `json:"input_per_m_token"`
	OutputPerMToken              float64 `json:"output_per_m_token"`
	ContextWindow                int     `json:"context_window"`
	MaxOutputTokens               int     `json:"max_output_tokens"`
	SupportsThinking              bool    `json:"supports_thinking,omitempty"`
	SupportsEffort                bool    `json:"supports_effort,omitempty"`
	SupportsInterleavedThinking  bool    `json:"supports_interleaved_thinking,omitempty"`
}

// Pricing projects a ModelEntry down to the llm.ModelPricing shape the cost
// formula reads from.
func (e ModelEntry) Pricing() llm.ModelPricing {
	return llm.ModelPricing{
		InputPerMToken:              e.InputPerMToken,
		OutputPerMToken:             e.OutputPerMToken,
		ContextWindow:               e.ContextWindow,
		MaxOutputTokens:             e.MaxOutputTokens,
		SupportsThinking:            e.SupportsThinking,
		SupportsEffort:              e.SupportsEffort,
		SupportsInterleavedThinking: e.SupportsInterleavedThinking,
	}
}

// TTLConfig holds every cache/durable-object expiry the gateway needs:
// FilesAPITTLHours (the file bytes cache and the provider's own Files API
// retention), ExecArtifactTTLMinutes (the ExecArtifact lifecycle), and the
// general object cache TTL used for user/thread/message cache entries.
type TTLConfig struct {
	CacheSeconds           int `json:"cache_seconds,omitempty"`            // user/thread/message cache TTL (default 3600)
	FilesAPITTLHours       int `json:"files_api_ttl_hours,omitempty"`       // default 24
	ExecArtifactTTLMinutes int `json:"exec_artifact_ttl_minutes,omitempty"` // default 30
	UserFileTTLDays        int `json:"user_file_ttl_days,omitempty"`        // default 30
}

func (t TTLConfig) Cache() time.Duration {
	if t.CacheSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(t.CacheSeconds) * time.Second
}

func (t TTLConfig) ExecArtifact() time.Duration {
	if t.ExecArtifactTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(t.ExecArtifactTTLMinutes) * time.Minute
}

// BatcherConfig tunes the per-thread message batcher's coalescing window.
type BatcherConfig struct {
	WindowMs int `json:"window_ms,omitempty"` // default 200
}

func (b BatcherConfig) Window() time.Duration {
	if b.WindowMs <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(b.WindowMs) * time.Millisecond
}

// StreamConfig tunes the Draft/Display edit throttle and the write-behind
// flusher interval.
type StreamConfig struct {
	DraftEditPeriodMs   int `json:"draft_edit_period_ms,omitempty"`   // default 700, within the 500-1000ms sweet spot
	FlusherIntervalMs   int `json:"flusher_interval_ms,omitempty"`    // default 2000
	FlusherBatchSize    int `json:"flusher_batch_size,omitempty"`     // default 50
	MaxRetries          int `json:"max_retries,omitempty"`            // write-behind bounded retries before dead-letter, default 5
	NMaxContinuations   int `json:"n_max_continuations,omitempty"`    // default 10
}

func (s StreamConfig) DraftEditPeriod() time.Duration {
	if s.DraftEditPeriodMs <= 0 {
		return 700 * time.Millisecond
	}
	return time.Duration(s.DraftEditPeriodMs) * time.Millisecond
}

func (s StreamConfig) FlusherInterval() time.Duration {
	if s.FlusherIntervalMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(s.FlusherIntervalMs) * time.Millisecond
}

func (s StreamConfig) BatchSize() int {
	if s.FlusherBatchSize <= 0 {
		return 50
	}
	return s.FlusherBatchSize
}

func (s StreamConfig) Retries() int {
	if s.MaxRetries <= 0 {
		return 5
	}
	return s.MaxRetries
}

func (s StreamConfig) NMax() int {
	if s.NMaxContinuations <= 0 {
		return 10
	}
	return s.NMaxContinuations
}

// BreakerConfig tunes the cache circuit breaker: trip after MaxFailures
// consecutive failures, stay open for OpenForMs before retrying.
type BreakerConfig struct {
	MaxFailures   int `json:"max_failures,omitempty"`    // K, default 5
	OpenForMs     int `json:"open_for_ms,omitempty"`     // W, default 5000
}

func (b BreakerConfig) OpenFor() time.Duration {
	if b.OpenForMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(b.OpenForMs) * time.Millisecond
}

func (b BreakerConfig) MaxFailuresOrDefault() int {
	if b.MaxFailures <= 0 {
		return 5
	}
	return b.MaxFailures
}

// SandboxConfig configures Docker-based execute_python sandboxing.
type SandboxConfig struct {
	Image          string `json:"image,omitempty"`
	NetworkMode    string `json:"network_mode,omitempty"`
	MemoryLimit    string `json:"memory_limit,omitempty"`
	PidsLimit      int64  `json:"pids_limit,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (sc SandboxConfig) ToSandboxConfig() sandbox.Config {
	cfg := sandbox.Config{
		Image:       "python:3.12-slim",
		NetworkMode: "none",
		MemoryLimit: "512m",
		PidsLimit:   64,
		Timeout:     180 * time.Second,
	}
	if sc.Image != "" {
		cfg.Image = sc.Image
	}
	if sc.NetworkMode != "" {
		cfg.NetworkMode = sc.NetworkMode
	}
	if sc.MemoryLimit != "" {
		cfg.MemoryLimit = sc.MemoryLimit
	}
	if sc.PidsLimit > 0 {
		cfg.PidsLimit = sc.PidsLimit
	}
	if sc.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(sc.TimeoutSeconds) * time.Second
	}
	return cfg
}

// ToolsConfig bundles the per-tool proxy configs that the gateway's
// composition root feeds into tools.NewBuiltinRegistry.
type ToolsConfig struct {
	VisionModel        string                 `json:"vision_model,omitempty"`
	AnalyzePDFMaxChars int                    `json:"analyze_pdf_max_chars,omitempty"`
	Transcribe         TranscribeToolConfig   `json:"transcribe,omitempty"`
	ImageGen           ImageGenToolConfig     `json:"image_gen,omitempty"`
	Latex              LatexToolConfig        `json:"latex,omitempty"`
	ExecutePython      ExecutePythonToolConfig `json:"execute_python,omitempty"`
	SelfCritique       SelfCritiqueToolConfig `json:"self_critique,omitempty"`
}

type TranscribeToolConfig struct {
	ProxyURL          string  `json:"proxy_url,omitempty"`
	APIKey            string  `json:"-"`
	TimeoutSec        int     `json:"timeout_sec,omitempty"`
	PricePerMinuteUSD float64 `json:"price_per_minute_usd,omitempty"`
}

func (c TranscribeToolConfig) ToToolConfig() tools.TranscribeConfig {
	timeout := 30 * time.Second
	if c.TimeoutSec > 0 {
		timeout = time.Duration(c.TimeoutSec) * time.Second
	}
	return tools.TranscribeConfig{ProxyURL: c.ProxyURL, APIKey: c.APIKey, Timeout: timeout, PricePerMinuteUSD: c.PricePerMinuteUSD}
}

type ImageGenToolConfig struct {
	APIBase  string  `json:"api_base,omitempty"`
	APIKey   string  `json:"-"`
	Model    string  `json:"model,omitempty"`
	PriceUSD float64 `json:"price_usd,omitempty"`
}

func (c ImageGenToolConfig) ToToolConfig() tools.ImageGenConfig {
	return tools.ImageGenConfig{APIBase: c.APIBase, APIKey: c.APIKey, Model: c.Model, PriceUSD: c.PriceUSD}
}

type LatexToolConfig struct {
	RenderURL string `json:"render_url,omitempty"`
	APIKey    string `json:"-"`
}

func (c LatexToolConfig) ToToolConfig() tools.LatexConfig {
	return tools.LatexConfig{RenderURL: c.RenderURL, APIKey: c.APIKey}
}

type ExecutePythonToolConfig struct {
	DefaultTimeoutSec int     `json:"default_timeout_sec,omitempty"`
	MaxTimeoutSec     int     `json:"max_timeout_sec,omitempty"`
	PricePerSecondUSD float64 `json:"price_per_second_usd,omitempty"`
}

func (c ExecutePythonToolConfig) ToToolConfig() tools.ExecutePythonConfig {
	cfg := tools.ExecutePythonConfig{PricePerSecondUSD: c.PricePerSecondUSD}
	if c.DefaultTimeoutSec > 0 {
		cfg.DefaultTimeout = time.Duration(c.DefaultTimeoutSec) * time.Second
	}
	if c.MaxTimeoutSec > 0 {
		cfg.MaxTimeout = time.Duration(c.MaxTimeoutSec) * time.Second
	}
	return cfg
}

type SelfCritiqueToolConfig struct {
	Model               string `json:"model,omitempty"`
	SystemPrompt        string `json:"system_prompt,omitempty"`
	MinBalanceMicros    int64  `json:"min_balance_micros,omitempty"`
	MaxCritiqueTurns    int    `json:"max_critique_turns,omitempty"`
}

func (c SelfCritiqueToolConfig) ToToolConfig(pricing llm.ModelPricing) tools.SelfCritiqueConfig {
	return tools.SelfCritiqueConfig{
		Model:            c.Model,
		SystemPrompt:     c.SystemPrompt,
		MinBalanceMicros: c.MinBalanceMicros,
		Pricing:          pricing,
		MaxCritiqueTurns: c.MaxCritiqueTurns,
	}
}

// GatewayConfig holds host, port, admin token and message-size settings.
// They are loaded from the config file and environment only; the gateway
// starts no HTTP listener that reads them.
type GatewayConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Token           string `json:"-"` // admin bearer token, from env only
	MaxMessageChars int    `json:"max_message_chars,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Anthropic = src.Anthropic
	c.Telegram = src.Telegram
	c.Gateway = src.Gateway
	c.Database = src.Database
	c.Models = src.Models
	c.TTLs = src.TTLs
	c.Batcher = src.Batcher
	c.Stream = src.Stream
	c.Breaker = src.Breaker
	c.Sandbox = src.Sandbox
	c.Tools = src.Tools
	c.Telemetry = src.Telemetry
}

// Hash returns a short SHA-256 prefix of the config for optimistic
// concurrency / change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
