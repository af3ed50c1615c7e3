package config

import (
	"path/filepath"
	"strings"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App      AppConfig
	Paths    PathsConfig
	Database DatabaseConfig
	Valkey   ValkeyConfig
	GHL      GHLConfig
	Whatsapp WhatsappConfig
}

type AppConfig struct {
	Port               string
	Debug              bool
	Environment        string
	OS                 string
	BasePath           string
	BaseUrl            string
	FrontendURL        string
	SecretKey          string
	BasicAuth          []string
	TrustedProxies     []string
	CorsAllowedOrigins []string
	ServerID           string
}

type PathsConfig struct {
	Storages string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string // File path for SQLite, DB name for Postgres
}

type ValkeyConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

type GHLConfig struct {
	ClientID       string
	ClientSecret   string
	RedirectURI    string
	APIBase        string
	MarketplaceURL string
}

type WhatsappConfig struct {
	LogLevel string
}

// Global provides access to the loaded configuration globally.
var Global *Config

// LoadConfig loads configuration from environment variables or defaults.
func LoadConfig() (*Config, error) {
	storages := getEnv("app_storage_dir", "storages")

	var basicAuth []string
	if v := getEnv("app_basic_auth", ""); v != "" {
		basicAuth = strings.Split(v, ",")
	}

	corsOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if v := getEnv("app_cors_allowed_origins", ""); v != "" {
		corsOrigins = strings.Split(v, ",")
	}

	appCfg := AppConfig{
		Port:               getEnv("app_port", "3000"),
		Debug:              getEnvBool("app_debug", false),
		Environment:        getEnv("app_env", "development"),
		OS:                 getEnv("app_os", "WaBridge"),
		BasePath:           getEnv("app_base_path", ""),
		BaseUrl:            getEnv("app_base_url", "http://localhost:3000"),
		FrontendURL:        getEnv("app_frontend_url", ""),
		SecretKey:          getEnv("app_secret_key", ""),
		BasicAuth:          basicAuth,
		CorsAllowedOrigins: corsOrigins,
		ServerID:           getEnv("server_id", ""),
	}
	if v := getEnv("app_trusted_proxies", ""); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}

	cfg := &Config{
		App:   appCfg,
		Paths: PathsConfig{Storages: storages},
		Database: DatabaseConfig{
			Driver:   getEnv("db_driver", "sqlite"),
			Name:     getEnv("db_name", filepath.Join(storages, "app.db")),
			Host:     getEnv("db_host", "localhost"),
			Port:     getEnvInt("db_port", 5432),
			User:     getEnv("db_user", "postgres"),
			Password: getEnv("db_password", ""),
		},
		Valkey: ValkeyConfig{
			Enabled:  getEnvBool("valkey_enabled", false),
			Address:  getEnv("valkey_address", "localhost:6379"),
			Password: getEnv("valkey_password", ""),
			DB:       getEnvInt("valkey_db", 0),
		},
		GHL: GHLConfig{
			ClientID:       getEnv("ghl_client_id", ""),
			ClientSecret:   getEnv("ghl_client_secret", ""),
			RedirectURI:    getEnv("ghl_redirect_uri", ""),
			APIBase:        getEnv("ghl_api_base", ""),
			MarketplaceURL: getEnv("ghl_marketplace_url", ""),
		},
		Whatsapp: WhatsappConfig{
			LogLevel: getEnv("whatsapp_log_level", "ERROR"),
		},
	}

	Global = cfg
	return cfg, nil
}
