package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Jog      JogConfig      `mapstructure:"jog"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Profiles ProfilesConfig `mapstructure:"controller_profiles"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SerialConfig covers the link to the grbl/grblHAL controller. All
// timeouts fail closed: expiry is always surfaced as an error.
type SerialConfig struct {
	DefaultPort    string        `mapstructure:"default_port"`
	BaudRate       int           `mapstructure:"baud_rate"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	AckTimeout     time.Duration `mapstructure:"ack_timeout"`
	HomingTimeout  time.Duration `mapstructure:"homing_timeout"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

type JogConfig struct {
	StepCoarse   float64       `mapstructure:"step_coarse"`
	StepNormal   float64       `mapstructure:"step_normal"`
	StepFine     float64       `mapstructure:"step_fine"`
	FeedRate     float64       `mapstructure:"feed_rate"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

type AuthConfig struct {
	JWTSecretEnv         string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
	OperatorUser         string        `mapstructure:"operator_user"`
	OperatorPasswordHash string        `mapstructure:"operator_password_hash"`
	PendantTokens        []string      `mapstructure:"pendant_tokens"`
}

type ProfilesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
	Active      string   `mapstructure:"active"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")

	viper.SetDefault("serial.baud_rate", 115200)
	viper.SetDefault("serial.connect_timeout", "5s")
	viper.SetDefault("serial.ack_timeout", "10s")
	viper.SetDefault("serial.homing_timeout", "60s")
	viper.SetDefault("serial.status_interval", "250ms")

	viper.SetDefault("jog.step_coarse", 10.0)
	viper.SetDefault("jog.step_normal", 1.0)
	viper.SetDefault("jog.step_fine", 0.1)
	viper.SetDefault("jog.feed_rate", 10000.0)
	viper.SetDefault("jog.tick_interval", "150ms")

	viper.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	viper.SetDefault("auth.access_token_ttl", "60m")
	viper.SetDefault("auth.operator_user", "operator")

	viper.SetDefault("controller_profiles.search_paths", []string{"configs/profiles"})
	viper.SetDefault("controller_profiles.active", "grbl")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ML")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development fallback. IsProductionReady reports this as unsafe.
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}
