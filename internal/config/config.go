package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "STUDYROOM"
	defaultHTTPAddress        = "0.0.0.0:5000"
	defaultPublicURL          = "http://localhost:5000"
	defaultAllowedOrigin      = "http://localhost:3000"
	defaultDatabaseDriver     = "sqlite"
	defaultDatabasePath       = "studyroom.db"
	defaultLogLevel           = "info"
	defaultMessageHistory     = 50
	defaultListingLimit       = 20
	defaultRealtimeBufferSize = 32
	defaultMaxMessageBytes    = 1 << 20
	defaultSessionIssuer      = "tauth"
	defaultCookieName         = "app_session"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	PublicURL          string
	AllowedOrigins     []string
	DatabaseDriver     string
	DatabasePath       string
	DatabaseDSN        string
	LogLevel           string
	MessageHistory     int
	ListingLimit       int
	RealtimeBufferSize int
	MaxMessageBytes    int64
	SigningSecret      string
	SessionIssuer      string
	SessionCookieName  string
}

// AuthEnabled reports whether session tokens are required.
func (c AppConfig) AuthEnabled() bool {
	return strings.TrimSpace(c.SigningSecret) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.public_url", defaultPublicURL)
	configViper.SetDefault("cors.allowed_origins", []string{defaultAllowedOrigin})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("rooms.message_history_limit", defaultMessageHistory)
	configViper.SetDefault("rooms.listing_limit", defaultListingLimit)
	configViper.SetDefault("realtime.buffer_size", defaultRealtimeBufferSize)
	configViper.SetDefault("realtime.max_message_bytes", defaultMaxMessageBytes)
	configViper.SetDefault("auth.issuer", defaultSessionIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		PublicURL:          configViper.GetString("http.public_url"),
		AllowedOrigins:     splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:       configViper.GetString("database.path"),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		LogLevel:           configViper.GetString("log.level"),
		MessageHistory:     configViper.GetInt("rooms.message_history_limit"),
		ListingLimit:       configViper.GetInt("rooms.listing_limit"),
		RealtimeBufferSize: configViper.GetInt("realtime.buffer_size"),
		MaxMessageBytes:    configViper.GetInt64("realtime.max_message_bytes"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		SessionIssuer:      configViper.GetString("auth.issuer"),
		SessionCookieName:  configViper.GetString("auth.cookie_name"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitOrigins accepts both list values and a single comma-separated env string.
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.MessageHistory <= 0 {
		return fmt.Errorf("rooms.message_history_limit must be positive")
	}
	if c.ListingLimit <= 0 {
		return fmt.Errorf("rooms.listing_limit must be positive")
	}
	if c.RealtimeBufferSize <= 0 {
		return fmt.Errorf("realtime.buffer_size must be positive")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("realtime.max_message_bytes must be positive")
	}
	if c.AuthEnabled() && strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required when auth.signing_secret is set")
	}
	return nil
}
