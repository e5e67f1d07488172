// Package config loads the server and client settings from an optional
// YAML file, a .env file and CHATGOGO_* environment variables, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr            = ":8080"
	DefaultDatabaseDSN     = "host=localhost user=user password=password dbname=chatgogodb port=5432 sslmode=disable"
	DefaultFilesDir        = "uploads"
	DefaultTokenTTL        = 72 * time.Hour
	DefaultMaxUploadSize   = 25 << 20
	DefaultBaseURL         = "http://localhost:8080"
	DefaultRefreshInterval = 30 * time.Second
	DefaultAMQPExchange    = "chatgogo.events"

	envPrefix = "CHATGOGO_"
)

// Config is the whole configuration file. Each binary reads its own half.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// ServerConfig holds the reference server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// DatabaseDSN is a PostgreSQL DSN. SQLitePath, when set, wins over it.
	DatabaseDSN   string        `yaml:"database_dsn"`
	SQLitePath    string        `yaml:"sqlite_path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	FilesDir      string        `yaml:"files_dir"`
	MaxUploadSize int64         `yaml:"max_upload_size"`
	// AMQPURL enables lifecycle events on a RabbitMQ topic exchange.
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`

	RootEditableAfterReplies bool `yaml:"root_editable_after_replies"`
}

// ClientConfig holds the chat client settings.
type ClientConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Token           string        `yaml:"token"`
	ParticipantID   string        `yaml:"participant_id"`
	Role            string        `yaml:"role"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	RootEditableAfterReplies bool `yaml:"root_editable_after_replies"`
}

// LoadDotEnv loads .env files into the process environment. A missing
// file is not an error.
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Println("WARNING: no .env file found")
			return
		}
		log.Printf("WARNING: Error loading .env file: %v", err)
	}
}

// Load reads the YAML file at path (skipped when empty), then applies
// environment overrides.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return parse(data, os.LookupEnv)
}

// Parse unmarshals YAML bytes into a validated Config without consulting
// the environment.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) (string, bool) { return "", false })
}

func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	str("ADDR", &c.Server.Addr)
	str("DATABASE_DSN", &c.Server.DatabaseDSN)
	str("SQLITE_PATH", &c.Server.SQLitePath)
	str("REDIS_ADDR", &c.Server.RedisAddr)
	str("REDIS_PASSWORD", &c.Server.RedisPassword)
	str("JWT_SECRET", &c.Server.JWTSecret)
	str("FILES_DIR", &c.Server.FilesDir)
	str("AMQP_URL", &c.Server.AMQPURL)
	str("AMQP_EXCHANGE", &c.Server.AMQPExchange)
	str("BASE_URL", &c.Client.BaseURL)
	str("TOKEN", &c.Client.Token)
	str("PARTICIPANT_ID", &c.Client.ParticipantID)
	str("ROLE", &c.Client.Role)

	var errs []string
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	dur("TOKEN_TTL", &c.Server.TokenTTL)
	dur("REFRESH_INTERVAL", &c.Client.RefreshInterval)

	if v, ok := lookup(envPrefix + "ROOT_EDITABLE_AFTER_REPLIES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sROOT_EDITABLE_AFTER_REPLIES: %v", envPrefix, err))
		} else {
			c.Server.RootEditableAfterReplies = b
			c.Client.RootEditableAfterReplies = b
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.DatabaseDSN == "" {
		c.Server.DatabaseDSN = DefaultDatabaseDSN
	}
	if c.Server.TokenTTL == 0 {
		c.Server.TokenTTL = DefaultTokenTTL
	}
	if c.Server.FilesDir == "" {
		c.Server.FilesDir = DefaultFilesDir
	}
	if c.Server.MaxUploadSize == 0 {
		c.Server.MaxUploadSize = DefaultMaxUploadSize
	}
	if c.Server.AMQPExchange == "" {
		c.Server.AMQPExchange = DefaultAMQPExchange
	}
	if c.Client.BaseURL == "" {
		c.Client.BaseURL = DefaultBaseURL
	}
	c.Client.BaseURL = strings.TrimRight(c.Client.BaseURL, "/")
	if c.Client.RefreshInterval == 0 {
		c.Client.RefreshInterval = DefaultRefreshInterval
	}
}

// validate checks values that are wrong for either binary.
func (c *Config) validate() error {
	var errs []string
	if c.Server.TokenTTL < 0 {
		errs = append(errs, "server.token_ttl must be positive")
	}
	if c.Server.MaxUploadSize < 0 {
		errs = append(errs, "server.max_upload_size must be positive")
	}
	if c.Client.RefreshInterval < 0 {
		errs = append(errs, "client.refresh_interval must not be negative")
	}
	if !strings.HasPrefix(c.Client.BaseURL, "http://") && !strings.HasPrefix(c.Client.BaseURL, "https://") {
		errs = append(errs, "client.base_url must be an http(s) URL")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the settings the server cannot start without.
func (s ServerConfig) Validate() error {
	if s.JWTSecret == "" {
		return errors.New("config: server.jwt_secret (or CHATGOGO_JWT_SECRET) is required")
	}
	return nil
}

// LiveURL is the websocket push endpoint derived from BaseURL.
func (c ClientConfig) LiveURL() string {
	switch {
	case strings.HasPrefix(c.BaseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.BaseURL, "https://") + "/ws"
	case strings.HasPrefix(c.BaseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.BaseURL, "http://") + "/ws"
	}
	return c.BaseURL + "/ws"
}
