package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Source        SourceConfig
	ObjectStore   ObjectStoreConfig
	Session       SessionConfig
	AI            AIConfig
	History       HistoryConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SourceConfig limits which data sources the API may open. The CLI ignores Root.
type SourceConfig struct {
	Root       string
	SampleRows int
}

type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type SessionConfig struct {
	MaxRetries           int
	RetryMaterialization bool
	RenderMaxRows        int
	RenderMaxCellWidth   int
	BinderCheck          bool
}

type AIConfig struct {
	Provider           string
	BaseURL            string
	APIKey             string
	Model              string
	Temperature        float64
	Timeout            time.Duration
	GenerateMaxTokens  int
	CorrectMaxTokens   int
	TranslateMaxTokens int
}

type HistoryConfig struct {
	Enabled         bool
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("PROBE_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid PROBE_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "PROBE_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "PROBE_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "PROBE_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "PROBE_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "PROBE_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "PROBE_SOURCE_ROOT", &cfg.Source.Root) },
		func() error { return applyInt(lookup, "PROBE_SOURCE_SAMPLE_ROWS", &cfg.Source.SampleRows) },
		func() error { return applyString(lookup, "PROBE_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "PROBE_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "PROBE_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "PROBE_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "PROBE_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "PROBE_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "PROBE_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error { return applyInt(lookup, "PROBE_SESSION_MAX_RETRIES", &cfg.Session.MaxRetries) },
		func() error {
			return applyBool(lookup, "PROBE_SESSION_RETRY_MATERIALIZATION", &cfg.Session.RetryMaterialization)
		},
		func() error { return applyInt(lookup, "PROBE_RENDER_MAX_ROWS", &cfg.Session.RenderMaxRows) },
		func() error { return applyInt(lookup, "PROBE_RENDER_MAX_CELL_WIDTH", &cfg.Session.RenderMaxCellWidth) },
		func() error { return applyBool(lookup, "PROBE_SESSION_BINDER_CHECK", &cfg.Session.BinderCheck) },
		func() error { return applyString(lookup, "PROBE_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "PROBE_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "PROBE_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "PROBE_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "PROBE_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "PROBE_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "PROBE_AI_GENERATE_MAX_TOKENS", &cfg.AI.GenerateMaxTokens) },
		func() error { return applyInt(lookup, "PROBE_AI_CORRECT_MAX_TOKENS", &cfg.AI.CorrectMaxTokens) },
		func() error { return applyInt(lookup, "PROBE_AI_TRANSLATE_MAX_TOKENS", &cfg.AI.TranslateMaxTokens) },
		func() error { return applyBool(lookup, "PROBE_HISTORY_ENABLED", &cfg.History.Enabled) },
		func() error { return applyString(lookup, "PROBE_HISTORY_DSN", &cfg.History.DSN) },
		func() error { return applyInt(lookup, "PROBE_HISTORY_MAX_OPEN_CONNS", &cfg.History.MaxOpenConns) },
		func() error { return applyInt(lookup, "PROBE_HISTORY_MAX_IDLE_CONNS", &cfg.History.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "PROBE_HISTORY_CONN_MAX_IDLE_TIME", &cfg.History.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "PROBE_HISTORY_CONN_MAX_LIFETIME", &cfg.History.ConnMaxLifetime)
		},
		func() error { return applyBool(lookup, "PROBE_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "PROBE_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "PROBE_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "PROBE_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Session.MaxRetries < 0 {
		return Config{}, fmt.Errorf("invalid PROBE_SESSION_MAX_RETRIES: must be non-negative")
	}
	if !isValidProvider(cfg.AI.Provider) {
		return Config{}, fmt.Errorf("invalid PROBE_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	if cfg.History.Enabled && cfg.History.DSN == "" {
		return Config{}, fmt.Errorf("history dsn is required when history is enabled")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "probe"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Source: SourceConfig{
			Root:       "",
			SampleRows: 1,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        "",
			Region:          "us-east-1",
			Bucket:          "",
			AccessKeyID:     "",
			SecretAccessKey: "",
			UseSSL:          false,
			Prefix:          "",
		},
		Session: SessionConfig{
			MaxRetries:           0,
			RetryMaterialization: false,
			RenderMaxRows:        100,
			RenderMaxCellWidth:   50,
			BinderCheck:          true,
		},
		AI: AIConfig{
			Provider:           "anthropic",
			BaseURL:            "",
			Model:              "claude-3-5-sonnet-20241022",
			Temperature:        0.7,
			Timeout:            60 * time.Second,
			GenerateMaxTokens:  1000,
			CorrectMaxTokens:   1000,
			TranslateMaxTokens: 200,
		},
		History: HistoryConfig{
			Enabled:         false,
			DSN:             "",
			MaxOpenConns:    4,
			MaxIdleConns:    4,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  false,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Observability.LogJSON = true
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func isValidProvider(provider string) bool {
	switch provider {
	case "anthropic", "openai", "gemini":
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
