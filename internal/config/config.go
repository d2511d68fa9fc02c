package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"sensorhub/pkg/database"
	"sensorhub/pkg/mqtt"
	"sensorhub/pkg/redis"

	"gopkg.in/yaml.v3"
)

var backends = map[string]bool{
	"file":     true,
	"postgres": true,
	"mysql":    true,
	"sqlite":   true,
	"redis":    true,
}

type Config struct {
	App struct {
		Port            string        `yaml:"port"`
		Debug           bool          `yaml:"debug"`
		FrontendURL     string        `yaml:"frontend_url"`
		LogLevel        string        `yaml:"log_level"`
		Timezone        string        `yaml:"timezone"`
		TruncateEnabled bool          `yaml:"truncate_enabled"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"app"`
	Store struct {
		Backend  string        `yaml:"backend"`
		DataFile string        `yaml:"data_file"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"store"`
	Export struct {
		CSVFilename string `yaml:"csv_filename"`
		ZoneLabel   bool   `yaml:"zone_label"`
	} `yaml:"export"`
	DB struct {
		Host         string `yaml:"host"`
		Port         string `yaml:"port"`
		User         string `yaml:"user"`
		Password     string `yaml:"password"`
		DBName       string `yaml:"name"`
		SSLMode      string `yaml:"sslmode"`
		SQLitePath   string `yaml:"sqlite_path"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
		MaxOpenConns int    `yaml:"max_open_conns"`
	} `yaml:"db"`
	Redis struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Stream   string `yaml:"stream"`
	} `yaml:"redis"`
	MQTT struct {
		Enabled  bool   `yaml:"enabled"`
		Broker   string `yaml:"broker"`
		ClientID string `yaml:"client_id"`
		Topic    string `yaml:"topic"`
		QoS      int    `yaml:"qos"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"mqtt"`
	Snapshot struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
		Dir      string        `yaml:"dir"`
	} `yaml:"snapshot"`
}

func defaults() *Config {
	cfg := &Config{}

	cfg.App.Port = "8000"
	cfg.App.FrontendURL = "http://localhost:3000"
	cfg.App.LogLevel = "info"
	cfg.App.Timezone = "Asia/Almaty"
	cfg.App.ShutdownTimeout = 10 * time.Second

	cfg.Store.Backend = "file"
	cfg.Store.DataFile = "data.csv"
	cfg.Store.Timeout = 5 * time.Second

	cfg.Export.CSVFilename = "data.csv"

	cfg.DB.Host = "localhost"
	cfg.DB.Port = "5432"
	cfg.DB.User = "postgres"
	cfg.DB.Password = "postgres"
	cfg.DB.DBName = "telemetry"
	cfg.DB.SSLMode = "disable"
	cfg.DB.SQLitePath = "telemetry.db"
	cfg.DB.MaxIdleConns = 10
	cfg.DB.MaxOpenConns = 100

	cfg.Redis.Host = "localhost"
	cfg.Redis.Port = "6379"
	cfg.Redis.Stream = "telemetry:records"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.Topic = "sensors/telemetry"

	cfg.Snapshot.Interval = time.Hour
	cfg.Snapshot.Dir = "./data/snapshots"

	return cfg
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE if set, then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// App
	cfg.App.Port = getEnv("PORT", cfg.App.Port)
	cfg.App.Debug = getEnvAsBool("DEBUG", cfg.App.Debug)
	cfg.App.FrontendURL = getEnv("FRONTEND_URL", cfg.App.FrontendURL)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.Timezone = getEnv("TIMEZONE", cfg.App.Timezone)
	cfg.App.TruncateEnabled = getEnvAsBool("TRUNCATE_ENABLED", cfg.App.TruncateEnabled)
	cfg.App.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", cfg.App.ShutdownTimeout)

	// Store
	cfg.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", cfg.Store.Backend))
	cfg.Store.DataFile = getEnv("DATA_FILE", cfg.Store.DataFile)
	cfg.Store.Timeout = getEnvAsDuration("STORE_TIMEOUT", cfg.Store.Timeout)

	// Export
	cfg.Export.CSVFilename = getEnv("CSV_FILENAME", cfg.Export.CSVFilename)
	cfg.Export.ZoneLabel = getEnvAsBool("CSV_ZONE_LABEL", cfg.Export.ZoneLabel)

	// DB
	cfg.DB.Host = getEnv("DB_HOST", cfg.DB.Host)
	cfg.DB.Port = getEnv("DB_PORT", cfg.DB.Port)
	cfg.DB.User = getEnv("DB_USER", cfg.DB.User)
	cfg.DB.Password = getEnv("DB_PASSWORD", cfg.DB.Password)
	cfg.DB.DBName = getEnv("DB_NAME", cfg.DB.DBName)
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", cfg.DB.SSLMode)
	cfg.DB.SQLitePath = getEnv("SQLITE_PATH", cfg.DB.SQLitePath)
	cfg.DB.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", cfg.DB.MaxIdleConns)
	cfg.DB.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", cfg.DB.MaxOpenConns)

	// Redis
	cfg.Redis.Host = getEnv("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnv("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.Stream = getEnv("REDIS_STREAM", cfg.Redis.Stream)

	// MQTT
	cfg.MQTT.Enabled = getEnvAsBool("MQTT_ENABLED", cfg.MQTT.Enabled)
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", cfg.MQTT.Topic)
	cfg.MQTT.QoS = getEnvAsInt("MQTT_QOS", cfg.MQTT.QoS)
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", cfg.MQTT.Password)

	// Snapshot
	cfg.Snapshot.Enabled = getEnvAsBool("SNAPSHOT_ENABLED", cfg.Snapshot.Enabled)
	cfg.Snapshot.Interval = getEnvAsDuration("SNAPSHOT_INTERVAL", cfg.Snapshot.Interval)
	cfg.Snapshot.Dir = getEnv("SNAPSHOT_DIR", cfg.Snapshot.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !backends[c.Store.Backend] {
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.App.Timezone, err)
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.Store.Timeout)
	}

	switch c.Store.Backend {
	case "file":
		if c.Store.DataFile == "" {
			return fmt.Errorf("DATA_FILE is required for the file backend")
		}
	case "postgres", "mysql":
		if c.DB.Host == "" || c.DB.DBName == "" {
			return fmt.Errorf("DB_HOST and DB_NAME are required for the %s backend", c.Store.Backend)
		}
	case "sqlite":
		if c.DB.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" || c.MQTT.Topic == "" {
			return fmt.Errorf("MQTT_BROKER and MQTT_TOPIC are required when MQTT is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}
	if c.Snapshot.Enabled && c.Snapshot.Interval <= 0 {
		return fmt.Errorf("SNAPSHOT_INTERVAL must be positive, got %s", c.Snapshot.Interval)
	}
	return nil
}

// Location returns the zone used for timestamps. Validate has already
// checked that it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Database() database.Config {
	return database.Config{
		Driver:       c.Store.Backend,
		Host:         c.DB.Host,
		Port:         c.DB.Port,
		User:         c.DB.User,
		Password:     c.DB.Password,
		DBName:       c.DB.DBName,
		SSLMode:      c.DB.SSLMode,
		SQLitePath:   c.DB.SQLitePath,
		MaxIdleConns: c.DB.MaxIdleConns,
		MaxOpenConns: c.DB.MaxOpenConns,
		Debug:        c.App.Debug,
	}
}

func (c *Config) RedisConfig() redis.Config {
	return redis.Config{
		Host:     c.Redis.Host,
		Port:     c.Redis.Port,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

func (c *Config) MQTTConfig() mqtt.Config {
	return mqtt.Config{
		Broker:   c.MQTT.Broker,
		ClientID: c.MQTT.ClientID,
		Username: c.MQTT.Username,
		Password: c.MQTT.Password,
		Topic:    c.MQTT.Topic,
		QoS:      byte(c.MQTT.QoS),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if dur, err := time.ParseDuration(value); err == nil {
			return dur
		}
	}
	return defaultValue
}
