package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting of the service.
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Feed       FeedConfig
	Sync       SyncConfig
	Escalation EscalationConfig
	AI         AIConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	syncCfg, err := loadSyncConfig()
	if err != nil {
		return nil, err
	}

	escalation, err := loadEscalationConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		Store:      loadStoreConfig(),
		Feed:       loadFeedConfig(),
		Sync:       syncCfg,
		Escalation: escalation,
		AI:         ai,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" and "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StoreConfig selects the persistence backend. An empty path keeps
// everything in memory.
type StoreConfig struct {
	SQLitePath string
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{SQLitePath: strings.TrimSpace(os.Getenv("SQLITE_PATH"))}
}

// FeedConfig selects the change-feed transport. An empty URL keeps the
// in-process broker.
type FeedConfig struct {
	NATSURL string
}

func loadFeedConfig() FeedConfig {
	return FeedConfig{NATSURL: strings.TrimSpace(os.Getenv("NATS_URL"))}
}

// SyncConfig carries the two engine timers. Both defaults were tuned by
// observation rather than derivation, hence configurable.
type SyncConfig struct {
	WatchdogInterval time.Duration
	PollInterval     time.Duration
}

func loadSyncConfig() (SyncConfig, error) {
	watchdog, err := parseOptionalIntEnv("SYNC_WATCHDOG_SECONDS")
	if err != nil {
		return SyncConfig{}, err
	}
	poll, err := parseOptionalIntEnv("SYNC_POLL_SECONDS")
	if err != nil {
		return SyncConfig{}, err
	}

	cfg := SyncConfig{
		WatchdogInterval: 8 * time.Second,
		PollInterval:     5 * time.Second,
	}
	if watchdog != nil && *watchdog > 0 {
		cfg.WatchdogInterval = time.Duration(*watchdog) * time.Second
	}
	if poll != nil && *poll > 0 {
		cfg.PollInterval = time.Duration(*poll) * time.Second
	}
	return cfg, nil
}

// EscalationConfig carries the cooldown-trigger threshold.
type EscalationConfig struct {
	WindowSize       int
	HostileThreshold int
}

func loadEscalationConfig() (EscalationConfig, error) {
	window, err := parseOptionalIntEnv("ESCALATION_WINDOW")
	if err != nil {
		return EscalationConfig{}, err
	}
	threshold, err := parseOptionalIntEnv("ESCALATION_THRESHOLD")
	if err != nil {
		return EscalationConfig{}, err
	}

	cfg := EscalationConfig{WindowSize: 5, HostileThreshold: 2}
	if window != nil && *window > 0 {
		cfg.WindowSize = *window
	}
	if threshold != nil && *threshold > 0 {
		cfg.HostileThreshold = *threshold
	}
	return cfg, nil
}

// AIConfig describes the Ark model powering tone classification and
// rewrites.
type AIConfig struct {
	APIKey           string
	AccessKey        string
	SecretKey        string
	Model            string
	BaseURL          string
	Region           string
	Temperature      *float64
	MaxTokens        *int
	ToneLLMEnabled   bool
	RewriteEnabled   bool
	ToneHistoryLimit int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + ARK_MODEL, or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	toneEnabled, err := parseBoolEnv("AI_TONE_LLM_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	rewriteEnabled, err := parseBoolEnv("AI_REWRITE_ENABLED", true)
	if err != nil {
		return AIConfig{}, err
	}

	toneHistory := 6
	if historyOverride, err := parseOptionalIntEnv("AI_TONE_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if historyOverride != nil {
		if *historyOverride < 1 {
			toneHistory = 1
		} else {
			toneHistory = *historyOverride
		}
	}

	return AIConfig{
		APIKey:           strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:        strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:        strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:            strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:          getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:           getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:      temperature,
		MaxTokens:        maxTokens,
		ToneLLMEnabled:   toneEnabled,
		RewriteEnabled:   rewriteEnabled,
		ToneHistoryLimit: toneHistory,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
