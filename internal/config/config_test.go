package config

import (
	"strings"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabaseDriver != "sqlite" || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MessageHistory != 50 || cfg.ListingLimit != 20 || cfg.RealtimeBufferSize != 32 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != defaultAllowedOrigin {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.AuthEnabled() {
		t.Fatalf("expected auth to be disabled without a secret")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("STUDYROOM_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("STUDYROOM_ROOMS_MESSAGE_HISTORY_LIMIT", "10")
	t.Setenv("STUDYROOM_AUTH_SIGNING_SECRET", "secret")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(cfg.AllowedOrigins, "|") != "https://a.example.com|https://b.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.MessageHistory != 10 {
		t.Fatalf("expected message history 10, got %d", cfg.MessageHistory)
	}
	if !cfg.AuthEnabled() || cfg.SessionIssuer != defaultSessionIssuer {
		t.Fatalf("expected auth to be enabled with the default issuer: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name     string
		key      string
		value    any
		contains string
	}{
		{name: "driver", key: "database.driver", value: "oracle", contains: "database.driver"},
		{name: "postgres dsn", key: "database.driver", value: "postgres", contains: "database.dsn"},
		{name: "history", key: "rooms.message_history_limit", value: 0, contains: "rooms.message_history_limit"},
		{name: "buffer", key: "realtime.buffer_size", value: -1, contains: "realtime.buffer_size"},
		{name: "address", key: "http.address", value: " ", contains: "http.address"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(testCase.key, testCase.value)
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.contains) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.contains, err)
			}
		})
	}
}
