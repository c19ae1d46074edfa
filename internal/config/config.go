// Package config loads console configuration from console.toml and
// CONSOLE_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all console configuration
type Config struct {
	App      AppConfig
	Log      LogConfig
	Identity IdentityConfig
	Services ServicesConfig
	Gateway  GatewayConfig
	State    StateConfig
	Routes   RoutesConfig
}

// AppConfig holds process-level settings
type AppConfig struct {
	Name     string `validate:"required"`
	Env      string `validate:"required"`
	Addr     string `validate:"required"`
	ClientID string `validate:"required"` // namespaces durable client state
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn warning error"`
	Format string `validate:"oneof=json console"`
	Output string
}

// IdentityConfig selects and configures the identity provider
type IdentityConfig struct {
	Provider        string        `validate:"oneof=kratos authsvc"`
	KratosURL       string        `validate:"required_if=Provider kratos"`
	AuthsvcURL      string        `validate:"required_if=Provider authsvc"`
	SessionToken    string        // optional pre-provisioned provider handle
	HomeURL         string        `validate:"required"`
	RefreshInterval time.Duration `validate:"gt=0"`
	MinValidity     time.Duration `validate:"gt=0"`
	ExpiryGrace     time.Duration `validate:"gte=0"`
}

// ServicesConfig holds one base URL per downstream service. The gateway picks
// the service from the first path segment.
type ServicesConfig struct {
	SettingsURL string `validate:"required,url"`
	ShopURL     string `validate:"required,url"`
}

// URLs returns the service-name to base-URL table used by the gateway.
func (s ServicesConfig) URLs() map[string]string {
	return map[string]string{
		"settings": s.SettingsURL,
		"shop":     s.ShopURL,
	}
}

// GatewayConfig holds outbound HTTP settings
type GatewayConfig struct {
	Timeout           time.Duration `validate:"gte=10s,lte=30s"`
	RetryAttempts     int           `validate:"gte=1"`
	RetryBaseDelay    time.Duration `validate:"gt=0"`
	RetryMultiplier   float64       `validate:"gte=1"`
	UserFacingRetries bool
}

// StateConfig selects where the durable client state lives
type StateConfig struct {
	Backend       string `validate:"oneof=file redis postgres"`
	FilePath      string `validate:"required_if=Backend file"`
	RedisAddr     string `validate:"required_if=Backend redis"`
	RedisPassword string
	RedisDB       int
	DatabaseURL   string `validate:"required_if=Backend postgres"`
}

// RoutesConfig names the routes with special access rules
type RoutesConfig struct {
	Home       string   `validate:"required,startswith=/"`
	Onboarding string   `validate:"required,startswith=/"`
	Gated      []string `validate:"dive,startswith=/"`
}

// Load reads configuration. Priority, highest first: CONSOLE_* environment
// variables, the config file, built-in defaults. path may be empty, in which
// case console.toml is searched in the working directory and /etc/console.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("console")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/console")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("CONSOLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name:     v.GetString("app.name"),
			Env:      v.GetString("app.env"),
			Addr:     v.GetString("app.addr"),
			ClientID: v.GetString("app.client_id"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Identity: IdentityConfig{
			Provider:        v.GetString("identity.provider"),
			KratosURL:       v.GetString("identity.kratos_url"),
			AuthsvcURL:      v.GetString("identity.authsvc_url"),
			SessionToken:    v.GetString("identity.session_token"),
			HomeURL:         v.GetString("identity.home_url"),
			RefreshInterval: v.GetDuration("identity.refresh_interval"),
			MinValidity:     v.GetDuration("identity.min_validity"),
			ExpiryGrace:     v.GetDuration("identity.expiry_grace"),
		},
		Services: ServicesConfig{
			SettingsURL: v.GetString("services.settings_url"),
			ShopURL:     v.GetString("services.shop_url"),
		},
		Gateway: GatewayConfig{
			Timeout:           v.GetDuration("gateway.timeout"),
			RetryAttempts:     v.GetInt("gateway.retry_attempts"),
			RetryBaseDelay:    v.GetDuration("gateway.retry_base_delay"),
			RetryMultiplier:   v.GetFloat64("gateway.retry_multiplier"),
			UserFacingRetries: v.GetBool("gateway.user_facing_retries"),
		},
		State: StateConfig{
			Backend:       v.GetString("state.backend"),
			FilePath:      v.GetString("state.file_path"),
			RedisAddr:     v.GetString("state.redis_addr"),
			RedisPassword: v.GetString("state.redis_password"),
			RedisDB:       v.GetInt("state.redis_db"),
			DatabaseURL:   v.GetString("state.database_url"),
		},
		Routes: RoutesConfig{
			Home:       v.GetString("routes.home"),
			Onboarding: v.GetString("routes.onboarding"),
			Gated:      v.GetStringSlice("routes.gated"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "backoffice-console")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.addr", "127.0.0.1:8090")
	v.SetDefault("app.client_id", "default")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("identity.provider", "kratos")
	v.SetDefault("identity.kratos_url", "http://localhost:4433")
	v.SetDefault("identity.home_url", "/")
	v.SetDefault("identity.refresh_interval", 30*time.Second)
	v.SetDefault("identity.min_validity", 60*time.Second)
	v.SetDefault("identity.expiry_grace", 5*time.Second)

	v.SetDefault("services.settings_url", "http://localhost:8081")
	v.SetDefault("services.shop_url", "http://localhost:8082")

	v.SetDefault("gateway.timeout", 15*time.Second)
	v.SetDefault("gateway.retry_attempts", 3)
	v.SetDefault("gateway.retry_base_delay", time.Second)
	v.SetDefault("gateway.retry_multiplier", 2.0)
	v.SetDefault("gateway.user_facing_retries", false)

	v.SetDefault("state.backend", "file")
	v.SetDefault("state.file_path", "console-state.yaml")
	v.SetDefault("state.redis_db", 0)

	v.SetDefault("routes.home", "/")
	v.SetDefault("routes.onboarding", "/onboarding")
	v.SetDefault("routes.gated", []string{"/settings"})
}
