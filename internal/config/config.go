package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env           string
	DSN           string
	MongoURI      string
	MongoDatabase string
	RedisURL      string
	JWTSecret     string
	AppPort       string
	ViewsGlob     string
	StaticDir     string

	UploadMaxMB    int64
	LoginRateLimit int64

	Portal Portal
}

// Portal holds the onboarding defaults an operator can override from YAML.
type Portal struct {
	DefaultStages    []string `yaml:"default_stages"`
	CSGuide          []string `yaml:"cs_guide"`
	DocumentTypes    []string `yaml:"document_types"`
	IntegrationTypes []string `yaml:"integration_types"`
}

var DefaultPortal = Portal{
	DefaultStages: []string{
		"Kick-off",
		"Contracting",
		"Technical Integration",
		"Testing",
		"Go-Live",
		"Live",
	},
	CSGuide: []string{
		"Welcome call held",
		"Contract signed",
		"API credentials issued",
		"Sandbox bookings verified",
		"Pricing configured",
		"Support contacts exchanged",
		"Go-live approved",
	},
	DocumentTypes:    []string{"contract", "invoice", "technical", "marketing", "other"},
	IntegrationTypes: []string{"API", "Widget", "White label", "Manual"},
}

// Load reads .env (if any) and the process environment. Missing required
// variables are returned as errors instead of exiting so callers decide.
func Load() (Config, bool, error) {
	envLoaded := godotenv.Load() == nil

	cfg := Config{
		Env:           getenv("APP_ENV", "development"),
		DSN:           os.Getenv("MYSQL_DSN"),
		MongoURI:      os.Getenv("MONGODB_URI"),
		MongoDatabase: getenv("MONGODB_DATABASE", "onboarding"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     getenv("JWT_SECRET", "dev-secret-only"),
		AppPort:       getenv("APP_PORT", "8080"),
		ViewsGlob:     getenv("VIEWS_GLOB", "internal/ui/views/*.tmpl"),
		StaticDir:     getenv("STATIC_DIR", "internal/ui/static"),
	}

	var err error
	if cfg.UploadMaxMB, err = getint("UPLOAD_MAX_MB", 25); err != nil {
		return cfg, envLoaded, err
	}
	if cfg.LoginRateLimit, err = getint("LOGIN_RATE_LIMIT", 10); err != nil {
		return cfg, envLoaded, err
	}

	if cfg.DSN == "" {
		return cfg, envLoaded, fmt.Errorf("MYSQL_DSN not set in environment")
	}
	if cfg.MongoURI == "" {
		return cfg, envLoaded, fmt.Errorf("MONGODB_URI not set in environment")
	}

	cfg.Portal, err = LoadPortal(os.Getenv("PORTAL_CONFIG"))
	if err != nil {
		return cfg, envLoaded, err
	}
	return cfg, envLoaded, nil
}

// LoadPortal merges the YAML file at path over DefaultPortal. An empty path
// returns the defaults.
func LoadPortal(path string) (Portal, error) {
	p := DefaultPortal
	if path == "" {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read portal config: %w", err)
	}

	var file Portal
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return p, fmt.Errorf("parse portal config %s: %w", path, err)
	}

	if len(file.DefaultStages) > 0 {
		p.DefaultStages = file.DefaultStages
	}
	if len(file.CSGuide) > 0 {
		p.CSGuide = file.CSGuide
	}
	if len(file.DocumentTypes) > 0 {
		p.DocumentTypes = file.DocumentTypes
	}
	if len(file.IntegrationTypes) > 0 {
		p.IntegrationTypes = file.IntegrationTypes
	}
	return p, nil
}

func (c Config) Production() bool { return c.Env == "production" }

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}
