package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"readTimeout"`
		WriteTimeout    time.Duration `yaml:"writeTimeout"`
		IdleTimeout     time.Duration `yaml:"idleTimeout"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
		// TrustProxy honours X-Real-IP / X-Forwarded-For for the client address.
		TrustProxy      bool          `yaml:"trustProxy"`
	} `yaml:"server"`

	Database struct {
		Driver      string        `yaml:"driver"` // mysql | postgres
		Host        string        `yaml:"host"`
		Port        int           `yaml:"port"`
		User        string        `yaml:"user"`
		Password    string        `yaml:"password"`
		Name        string        `yaml:"name"`
		SSLMode     string        `yaml:"sslMode"`
		MaxOpen     int           `yaml:"maxOpen"`
		MaxIdle     int           `yaml:"maxIdle"`
		MaxLifetime time.Duration `yaml:"maxLifetime"`
		Migrate     bool          `yaml:"migrate"`
	} `yaml:"database"`

	Storage struct {
		Driver        string `yaml:"driver"` // minio | s3
		Endpoint      string `yaml:"endpoint"`
		AccessKey     string `yaml:"accessKey"`
		SecretKey     string `yaml:"secretKey"`
		BucketName    string `yaml:"bucketName"`
		Region        string `yaml:"region"`
		UseSSL        bool   `yaml:"useSSL"`
		PublicBaseURL string `yaml:"publicBaseURL"`
	} `yaml:"storage"`

	OpenAI struct {
		APIKey   string `yaml:"apiKey"`
		BaseURL  string `yaml:"baseURL"`
		Model    string `yaml:"model"`
		Hint     string `yaml:"hint"`
		Language string `yaml:"language"`
	} `yaml:"openai"`

	Auth struct {
		Secret         string        `yaml:"secret"`
		SessionTTL     time.Duration `yaml:"sessionTTL"`
		AllowAnonymous bool          `yaml:"allowAnonymous"`
	} `yaml:"auth"`

	Pipeline struct {
		MaxDimension  int   `yaml:"maxDimension"`
		Quality       int   `yaml:"quality"`
		MaxImageBytes int64         `yaml:"maxImageBytes"`
		IdleTTL       time.Duration `yaml:"idleTTL"`
	} `yaml:"pipeline"`

	Results struct {
		PageSize int           `yaml:"pageSize"`
		ShareTTL time.Duration `yaml:"shareTTL"`
	} `yaml:"results"`

	Cleanup struct {
		Interval  time.Duration `yaml:"interval"`
		OrphanAge time.Duration `yaml:"orphanAge"`
		Batch     int           `yaml:"batch"`
	} `yaml:"cleanup"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"rateLimit"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"cors"`

	Log struct {
		Format string `yaml:"format"` // json | text
		Level  string `yaml:"level"`
	} `yaml:"log"`

	Voice struct {
		Enabled         bool     `yaml:"enabled"`
		CaptureKeywords []string `yaml:"captureKeywords"`
		ResultsKeywords []string `yaml:"resultsKeywords"`
		MaxAudioBytes   int64    `yaml:"maxAudioBytes"`
	} `yaml:"voice"`
}

// Path returns CONFIG_PATH or config.yaml.
func Path() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultPath
}

// Load baca file config.yaml, lalu .env dan env override untuk secret
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and env overrides, then validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every optional field filled in.
func Default() *Config {
	var c Config
	c.Server.Port = 8080
	c.Server.ReadTimeout = 15 * time.Second
	// inference can take a while; the pipeline itself has no timeout
	c.Server.WriteTimeout = 90 * time.Second
	c.Server.IdleTimeout = 60 * time.Second
	c.Server.ShutdownTimeout = 30 * time.Second

	c.Database.Driver = "mysql"
	c.Database.Host = "localhost"
	c.Database.Port = 3306
	c.Database.SSLMode = "disable"
	c.Database.MaxOpen = 20
	c.Database.MaxIdle = 5
	c.Database.MaxLifetime = 30 * time.Minute
	c.Database.Migrate = true

	c.Storage.Driver = "minio"
	c.Storage.Region = "us-east-1"

	c.OpenAI.Model = "gpt-4o-mini"

	c.Auth.SessionTTL = 7 * 24 * time.Hour

	c.Pipeline.MaxDimension = 1024
	c.Pipeline.Quality = 70
	c.Pipeline.MaxImageBytes = 20 << 20
	c.Pipeline.IdleTTL = 30 * time.Minute

	c.Results.PageSize = 50
	c.Results.ShareTTL = 24 * time.Hour

	c.Cleanup.Interval = 15 * time.Minute
	c.Cleanup.OrphanAge = 10 * time.Minute
	c.Cleanup.Batch = 100

	c.RateLimit.Capacity = 30
	c.RateLimit.RefillRate = 1

	c.Log.Format = "json"
	c.Log.Level = "info"

	c.Voice.Enabled = true
	c.Voice.MaxAudioBytes = 10 << 20
	return &c
}

func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.Auth.Secret, "AUTH_SECRET")
	setString(&c.Storage.AccessKey, "STORAGE_ACCESS_KEY")
	setString(&c.Storage.SecretKey, "STORAGE_SECRET_KEY")

	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be mysql or postgres, got %q", c.Database.Driver))
	}
	if c.Database.Name == "" {
		errs = append(errs, errors.New("database.name is required"))
	}
	switch c.Storage.Driver {
	case "minio", "s3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be minio or s3, got %q", c.Storage.Driver))
	}
	if c.Storage.BucketName == "" {
		errs = append(errs, errors.New("storage.bucketName is required"))
	}
	if c.Storage.Driver == "minio" && c.Storage.Endpoint == "" {
		errs = append(errs, errors.New("storage.endpoint is required for minio"))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("openai.apiKey (or OPENAI_API_KEY) is required"))
	}
	if len(c.Auth.Secret) < 16 {
		errs = append(errs, errors.New("auth.secret (or AUTH_SECRET) must be at least 16 bytes"))
	}
	if c.Pipeline.MaxDimension <= 0 {
		errs = append(errs, errors.New("pipeline.maxDimension must be positive"))
	}
	if c.Pipeline.Quality < 1 || c.Pipeline.Quality > 100 {
		errs = append(errs, errors.New("pipeline.quality must be within 1..100"))
	}
	if c.Pipeline.IdleTTL <= 0 {
		errs = append(errs, errors.New("pipeline.idleTTL must be positive"))
	}
	if c.Results.PageSize < 1 || c.Results.PageSize > 100 {
		errs = append(errs, errors.New("results.pageSize must be within 1..100"))
	}
	if c.Cleanup.Interval < 0 {
		errs = append(errs, errors.New("cleanup.interval cannot be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// DSN returns the driver-specific connection string.
func (c *Config) DSN() string {
	if c.Database.Driver == "postgres" {
		return c.PostgresDSN()
	}
	return c.MySQLDSN()
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq URL; credentials are escaped.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: url.Values{"sslmode": {c.Database.SSLMode}}.Encode(),
	}
	return u.String()
}
