package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("probe", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Session.MaxRetries != 0 {
		t.Fatalf("Session.MaxRetries = %d, want 0", cfg.Session.MaxRetries)
	}
	if cfg.Session.RetryMaterialization {
		t.Fatal("Session.RetryMaterialization should default to false")
	}
	if cfg.Session.RenderMaxRows != 100 || cfg.Session.RenderMaxCellWidth != 50 {
		t.Fatalf("render caps = %d/%d", cfg.Session.RenderMaxRows, cfg.Session.RenderMaxCellWidth)
	}
	if cfg.AI.Provider != "anthropic" {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.GenerateMaxTokens != 1000 || cfg.AI.TranslateMaxTokens != 200 {
		t.Fatalf("token budgets = %d/%d", cfg.AI.GenerateMaxTokens, cfg.AI.TranslateMaxTokens)
	}
	if cfg.History.Enabled {
		t.Fatal("History.Enabled should default to false")
	}
	if cfg.Source.SampleRows != 1 {
		t.Fatalf("Source.SampleRows = %d", cfg.Source.SampleRows)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("probe", mapLookup(map[string]string{"PROBE_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Observability.LogJSON {
		t.Fatal("LogJSON should default to true in prod")
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"PROBE_PROFILE":                       "test",
		"PROBE_SERVICE_NAME":                  "probe-custom",
		"PROBE_HTTP_ADDR":                     ":9999",
		"PROBE_HTTP_READ_TIMEOUT":             "2s",
		"PROBE_LOG_LEVEL":                     "error",
		"PROBE_AUTH_REQUIRED":                 "true",
		"PROBE_AUTH_STATIC_KEYS":              "k1:t1:query_reader",
		"PROBE_SOURCE_ROOT":                   "/data",
		"PROBE_SOURCE_SAMPLE_ROWS":            "3",
		"PROBE_OBJECTSTORE_ENDPOINT":          "s3.example.com",
		"PROBE_OBJECTSTORE_BUCKET":            "datasets",
		"PROBE_OBJECTSTORE_USE_SSL":           "true",
		"PROBE_SESSION_MAX_RETRIES":           "3",
		"PROBE_SESSION_RETRY_MATERIALIZATION": "true",
		"PROBE_RENDER_MAX_ROWS":               "20",
		"PROBE_RENDER_MAX_CELL_WIDTH":         "12",
		"PROBE_SESSION_BINDER_CHECK":          "false",
		"PROBE_AI_PROVIDER":                   "openai",
		"PROBE_AI_BASE_URL":                   "https://api.example.com",
		"PROBE_AI_API_KEY":                    "secret-key",
		"PROBE_AI_MODEL":                      "gpt-5.2",
		"PROBE_AI_TEMPERATURE":                "0.3",
		"PROBE_AI_TIMEOUT":                    "21s",
		"PROBE_AI_TRANSLATE_MAX_TOKENS":       "300",
		"PROBE_HISTORY_ENABLED":               "true",
		"PROBE_HISTORY_DSN":                   "postgres://example",
		"PROBE_HISTORY_MAX_OPEN_CONNS":        "42",
	})
	cfg, err := Load("probe", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "probe-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:t1:query_reader" {
		t.Fatalf("Auth = %#v", cfg.Auth)
	}
	if cfg.Source.Root != "/data" || cfg.Source.SampleRows != 3 {
		t.Fatalf("Source = %#v", cfg.Source)
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" || cfg.ObjectStore.Bucket != "datasets" || !cfg.ObjectStore.UseSSL {
		t.Fatalf("ObjectStore = %#v", cfg.ObjectStore)
	}
	if cfg.Session.MaxRetries != 3 {
		t.Fatalf("Session.MaxRetries = %d", cfg.Session.MaxRetries)
	}
	if !cfg.Session.RetryMaterialization {
		t.Fatal("Session.RetryMaterialization = false, want true")
	}
	if cfg.Session.RenderMaxRows != 20 || cfg.Session.RenderMaxCellWidth != 12 {
		t.Fatalf("render caps = %d/%d", cfg.Session.RenderMaxRows, cfg.Session.RenderMaxCellWidth)
	}
	if cfg.Session.BinderCheck {
		t.Fatal("Session.BinderCheck = true, want false")
	}
	if cfg.AI.Provider != "openai" || cfg.AI.Model != "gpt-5.2" || cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI = %#v", cfg.AI)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.AI.TranslateMaxTokens != 300 {
		t.Fatalf("AI.TranslateMaxTokens = %d", cfg.AI.TranslateMaxTokens)
	}
	if !cfg.History.Enabled || cfg.History.DSN != "postgres://example" || cfg.History.MaxOpenConns != 42 {
		t.Fatalf("History = %#v", cfg.History)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"PROBE_PROFILE": "oops"},
		{"PROBE_HTTP_READ_TIMEOUT": "NaN"},
		{"PROBE_SESSION_MAX_RETRIES": "oops"},
		{"PROBE_SESSION_MAX_RETRIES": "-1"},
		{"PROBE_AI_TEMPERATURE": "bad"},
		{"PROBE_AI_PROVIDER": "mystery"},
		{"PROBE_AUTH_REQUIRED": "not-bool"},
		{"PROBE_LOG_LEVEL": "verbose"},
		{"PROBE_HISTORY_ENABLED": "true"},
	}
	for _, env := range tests {
		_, err := Load("probe", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
