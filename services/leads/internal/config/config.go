package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with LEADS_CONFIG.
const ConfigPath = "services/leads/config.yaml"

// MemoryDatabaseURL selects the in-process store.
const MemoryDatabaseURL = "memory://"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWKSURL     string `yaml:"jwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	ResearchBaseURL           string  `yaml:"researchBaseURL"`
	ResearchAPIKey            string  `yaml:"researchAPIKey"`
	ResearchModel             string  `yaml:"researchModel"`
	ResearchTemperature       float64 `yaml:"researchTemperature"`
	ResearchRequestsPerSecond float64 `yaml:"researchRequestsPerSecond"`
	ResearchTimeoutSeconds    int     `yaml:"researchTimeoutSeconds"`

	StructuringProvider string `yaml:"structuringProvider"`
	StructuringBaseURL  string `yaml:"structuringBaseURL"`
	StructuringAPIKey   string `yaml:"structuringAPIKey"`
	StructuringModel    string `yaml:"structuringModel"`

	ChargeOnEmpty              bool `yaml:"chargeOnEmpty"`
	GenerateRateLimitPerMinute int  `yaml:"generateRateLimitPerMinute"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	RetryQueueName         string `yaml:"retryQueueName"`
	RetryQueueGroup        string `yaml:"retryQueueGroup"`
	RetryQueueConcurrency  int    `yaml:"retryQueueConcurrency"`
	RetryQueueMaxRetries   int    `yaml:"retryQueueMaxRetries"`
	RetryQueueDelaySeconds int    `yaml:"retryQueueDelaySeconds"`

	InternalJWTPublicKeyPath    string   `yaml:"internalJwtPublicKeyPath"`
	InternalJWTVerifyPublicKeys string   `yaml:"internalJwtVerifyPublicKeys"`
	InternalJWTKeyID            string   `yaml:"internalJwtKeyId"`
	InternalJWTAudience         string   `yaml:"internalJwtAudience"`
	InternalJWTIssuers          []string `yaml:"internalJwtIssuers"`

	TrustedProxyCIDRs []string `yaml:"trustedProxyCIDRs"`
}

// Load reads config from path (defaults to LEADS_CONFIG, then ConfigPath).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("LEADS_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	envString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	envString("PORT", &cfg.Port)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("DATABASE_URL", &cfg.DatabaseURL)
	envString("REDIS_ADDR", &cfg.RedisAddr)
	envString("REDIS_PASSWORD", &cfg.RedisPassword)
	envString("SUPABASE_JWT_SECRET", &cfg.JWTSecret)
	envString("SUPABASE_JWKS_URL", &cfg.JWKSURL)
	envString("PERPLEXITY_API_KEY", &cfg.ResearchAPIKey)
	envString("STRUCTURING_API_KEY", &cfg.StructuringAPIKey)
	envString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	envString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	envString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	envString("MINIO_BUCKET", &cfg.MinioBucket)
	envString("LEADMACHINE_INTERNAL_JWT_PUBLIC_KEY_PATH", &cfg.InternalJWTPublicKeyPath)
	envString("LEADMACHINE_INTERNAL_JWT_VERIFY_PUBLIC_KEYS", &cfg.InternalJWTVerifyPublicKeys)
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("LEADS_CHARGE_ON_EMPTY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ChargeOnEmpty = b
		}
	}
	if v := os.Getenv("LEADS_GENERATE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GenerateRateLimitPerMinute = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.ResearchBaseURL == "" {
		cfg.ResearchBaseURL = "https://api.perplexity.ai"
	}
	if cfg.ResearchModel == "" {
		cfg.ResearchModel = "sonar-pro"
	}
	if cfg.ResearchTemperature == 0 {
		cfg.ResearchTemperature = 0.1
	}
	if cfg.ResearchTimeoutSeconds <= 0 {
		cfg.ResearchTimeoutSeconds = 120
	}
	if cfg.StructuringProvider == "" {
		cfg.StructuringProvider = "gemini"
	}
	if cfg.StructuringModel == "" {
		cfg.StructuringModel = "gemini-2.0-flash"
	}
	if cfg.GenerateRateLimitPerMinute == 0 {
		cfg.GenerateRateLimitPerMinute = 5
	}
	if cfg.RetryQueueName == "" {
		cfg.RetryQueueName = "leadmachine:persist"
	}
	if cfg.RetryQueueGroup == "" {
		cfg.RetryQueueGroup = "leads"
	}
	if cfg.InternalJWTAudience == "" {
		cfg.InternalJWTAudience = "leads"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL; use memory:// for local runs)")
	}
	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		return errors.New("config: jwtSecret or jwksURL is required (set in config.yaml or SUPABASE_JWT_SECRET)")
	}
	if cfg.ResearchTemperature < 0 || cfg.ResearchTemperature > 2 {
		return fmt.Errorf("config: researchTemperature %.2f out of range [0,2]", cfg.ResearchTemperature)
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "") {
		return errors.New("config: minioAccessKey, minioSecretKey and minioBucket are required when minioEndpoint is set")
	}
	if cfg.InternalJWTPublicKeyPath != "" && len(cfg.InternalJWTIssuers) == 0 {
		return errors.New("config: internalJwtIssuers is required when internalJwtPublicKeyPath is set")
	}
	return nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}

// UsesMemoryStore reports whether the in-process store was selected.
func (c FileConfig) UsesMemoryStore() bool {
	return strings.EqualFold(strings.TrimSpace(c.DatabaseURL), MemoryDatabaseURL)
}
