package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "PELILAUTA"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "sidekick.db"
	defaultLogLevel     = "info"
	defaultRegion       = "europe-west1"
	defaultSiteBaseURL  = "https://pelilauta.web.app"
)

// AppConfig captures runtime configuration for the sidekick worker.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	Region               string
	WebhookSigningSecret string
	PushGatewayURL       string
	PushAPIKey           string
	SiteBaseURL          string
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("region", defaultRegion)
	configViper.SetDefault("site.base_url", defaultSiteBaseURL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		Region:               configViper.GetString("region"),
		WebhookSigningSecret: configViper.GetString("webhook.signing_secret"),
		PushGatewayURL:       configViper.GetString("push.gateway_url"),
		PushAPIKey:           configViper.GetString("push.api_key"),
		SiteBaseURL:          configViper.GetString("site.base_url"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.WebhookSigningSecret) == "" {
		return fmt.Errorf("webhook.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.PushGatewayURL) == "" {
		return fmt.Errorf("push.gateway_url is required")
	}
	if strings.TrimSpace(c.SiteBaseURL) == "" {
		return fmt.Errorf("site.base_url is required")
	}
	return nil
}
