package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	dbconfig "geoattend/pkg/database"
)

// EnvPrefix namespaces every environment variable the service reads
const EnvPrefix = "GEOATTEND_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database   *DatabaseConfig   `json:"database"`
	HTTP       *HTTPConfig       `json:"http"`
	WebSocket  *WebSocketConfig  `json:"websocket"`
	Attendance *AttendanceConfig `json:"attendance"`
	Metrics    *MetricsConfig    `json:"metrics"`
}

type DatabaseConfig struct {
	Path           string `json:"path"`
	MaxConnections int    `json:"max_connections"`
	MigrationsPath string `json:"migrations_path"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// WebSocketConfig tunes the live roster feed
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// AttendanceConfig limits how often one student may hit the join endpoint.
// JoinRateLimit 0 disables the limit.
type AttendanceConfig struct {
	JoinRateLimit  int           `json:"join_rate_limit"`
	JoinRateWindow time.Duration `json:"join_rate_window"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfig returns settings sized for a single school deployment
func DefaultConfig() *Config {
	db := dbconfig.DefaultConfig()
	return &Config{
		Database: &DatabaseConfig{
			Path:           db.DatabasePath,
			MaxConnections: db.MaxConnections,
		},
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Attendance: &AttendanceConfig{
			JoinRateLimit:  10,
			JoinRateWindow: time.Minute,
		},
		Metrics: &MetricsConfig{Enabled: true},
	}
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}

	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	// a dashboard must get at least one ping before its read deadline passes
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}

	if c.Attendance == nil {
		return errors.New("attendance configuration is required")
	}
	if c.Attendance.JoinRateLimit < 0 {
		return errors.New("join rate limit cannot be negative")
	}
	if c.Attendance.JoinRateLimit > 0 && c.Attendance.JoinRateWindow <= 0 {
		return errors.New("join rate window must be positive when a limit is set")
	}

	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	return nil
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// StoreConfig converts the database section into the store's own config
func (c *Config) StoreConfig() *dbconfig.Config {
	db := dbconfig.DefaultConfig()
	db.DatabasePath = c.Database.Path
	db.MaxConnections = c.Database.MaxConnections
	db.MigrationsPath = c.Database.MigrationsPath
	return db
}

// LoadDotEnv copies KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Variables already set win, missing files
// are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// LoadFromEnv applies GEOATTEND_* variables over the defaults. Unparseable
// values are logged and ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("DATABASE_PATH", &config.Database.Path)
	envInt("DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)
	envString("DATABASE_MIGRATIONS_PATH", &config.Database.MigrationsPath)

	envString("HTTP_HOST", &config.HTTP.Host)
	envInt("HTTP_PORT", &config.HTTP.Port)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &config.HTTP.ShutdownTimeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)

	envInt("JOIN_RATE_LIMIT", &config.Attendance.JoinRateLimit)
	envDuration("JOIN_RATE_WINDOW", &config.Attendance.JoinRateWindow)

	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
		return
	}
	*dst = n
}

func envDuration(name string, dst *time.Duration) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
		return
	}
	*dst = d
}

func envBool(name string, dst *bool) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
		return
	}
	*dst = b
}

// ConfigFile is the JSON shape on disk. Durations are strings ("30s").
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database *struct {
		Path           string `json:"path"`
		MaxConnections int    `json:"max_connections"`
		MigrationsPath string `json:"migrations_path"`
	} `json:"database"`
	HTTP *struct {
		Host            string `json:"host"`
		Port            int    `json:"port"`
		ReadTimeout     string `json:"read_timeout"`
		WriteTimeout    string `json:"write_timeout"`
		ShutdownTimeout string `json:"shutdown_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"websocket"`
	Attendance *struct {
		JoinRateLimit  *int   `json:"join_rate_limit"`
		JoinRateWindow string `json:"join_rate_window"`
	} `json:"attendance"`
	Metrics *struct {
		Enabled *bool `json:"enabled"`
	} `json:"metrics"`
}

// LoadFromFile reads a JSON config file over the defaults and validates the result
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var durations []durationField
	if db := file.Database; db != nil {
		setString(&config.Database.Path, db.Path)
		setInt(&config.Database.MaxConnections, db.MaxConnections)
		setString(&config.Database.MigrationsPath, db.MigrationsPath)
	}
	if h := file.HTTP; h != nil {
		setString(&config.HTTP.Host, h.Host)
		setInt(&config.HTTP.Port, h.Port)
		durations = append(durations,
			durationField{"http.read_timeout", h.ReadTimeout, &config.HTTP.ReadTimeout},
			durationField{"http.write_timeout", h.WriteTimeout, &config.HTTP.WriteTimeout},
			durationField{"http.shutdown_timeout", h.ShutdownTimeout, &config.HTTP.ShutdownTimeout},
		)
	}
	if ws := file.WebSocket; ws != nil {
		durations = append(durations,
			durationField{"websocket.ping_interval", ws.PingInterval, &config.WebSocket.PingInterval},
			durationField{"websocket.read_timeout", ws.ReadTimeout, &config.WebSocket.ReadTimeout},
			durationField{"websocket.write_timeout", ws.WriteTimeout, &config.WebSocket.WriteTimeout},
		)
	}
	if a := file.Attendance; a != nil {
		// explicit 0 turns the limit off, so presence matters here
		if a.JoinRateLimit != nil {
			config.Attendance.JoinRateLimit = *a.JoinRateLimit
		}
		durations = append(durations,
			durationField{"attendance.join_rate_window", a.JoinRateWindow, &config.Attendance.JoinRateWindow})
	}
	if m := file.Metrics; m != nil && m.Enabled != nil {
		config.Metrics.Enabled = *m.Enabled
	}

	for _, field := range durations {
		if field.raw == "" {
			continue
		}
		d, err := time.ParseDuration(field.raw)
		if err != nil {
			return fmt.Errorf("invalid %s in %s: %w", field.name, path, err)
		}
		*field.dst = d
	}
	return nil
}

type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// LoadConfigWithPrecedence resolves defaults < .env < environment < JSON file.
// A missing or broken file is logged and skipped so the service still starts
// on environment settings.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		log.Printf("Warning: %v", err)
	}

	config := LoadFromEnv()
	if path != "" {
		fileConfig := LoadFromEnv()
		if err := applyFile(fileConfig, path); err != nil {
			log.Printf("Warning: ignoring config file: %v", err)
		} else {
			config = fileConfig
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
