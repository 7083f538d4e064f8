package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"

	"sortrace/internal/game"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
}

// DSN is the pgx connection string for the configured database.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.Schema)
}

type Config struct {
	Port           int
	Redis          RedisConfig
	Database       DatabaseConfig
	MigrationsPath string
	Game           game.Config
}

// fileConfig is the optional YAML overlay named by CONFIG_FILE.
type fileConfig struct {
	Room   *game.Settings `yaml:"room"`
	Limits struct {
		MaxDatasetSize    int           `yaml:"max_dataset_size"`
		GracePeriod       time.Duration `yaml:"grace_period"`
		BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	} `yaml:"limits"`
}

// Load reads the environment (and .env through godotenv) over the YAML
// file, which in turn overrides the built-in defaults.
func Load() (Config, error) {
	cfg := Config{
		Game: game.Config{
			GracePeriod:       game.GRACE_PERIOD,
			BroadcastInterval: game.BROADCAST_INTERVAL,
			MaxDatasetSize:    game.MAX_DATASET_SIZE,
			DefaultSettings:   game.DefaultSettings(),
		},
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = getEnvAsInt("PORT", 8080)
	cfg.Redis = RedisConfig{
		Addr:     getEnv("REDIS_URL", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvAsInt("REDIS_DB", 0),
	}
	cfg.Database = DatabaseConfig{
		Host:     getEnv("BLUEPRINT_DB_HOST", "localhost"),
		Port:     getEnv("BLUEPRINT_DB_PORT", "5432"),
		Database: getEnv("BLUEPRINT_DB_DATABASE", "sortrace"),
		Username: getEnv("BLUEPRINT_DB_USERNAME", "postgres"),
		Password: getEnv("BLUEPRINT_DB_PASSWORD", "postgres"),
		Schema:   getEnv("BLUEPRINT_DB_SCHEMA", "public"),
	}
	cfg.MigrationsPath = getEnv("MIGRATIONS_PATH", "./migrations")

	cfg.Game.GracePeriod = getEnvAsDuration("ROOM_GRACE_PERIOD", cfg.Game.GracePeriod)
	cfg.Game.BroadcastInterval = getEnvAsDuration("BROADCAST_INTERVAL", cfg.Game.BroadcastInterval)
	cfg.Game.MaxDatasetSize = getEnvAsInt("MAX_DATASET_SIZE", cfg.Game.MaxDatasetSize)

	if err := game.ValidateSettings(cfg.Game.DefaultSettings, cfg.Game.MaxDatasetSize); err != nil {
		return Config{}, fmt.Errorf("default room settings: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	// room keys overlay the current defaults, so a file may set just one
	room := c.Game.DefaultSettings
	fc := fileConfig{Room: &room}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.Game.DefaultSettings = room
	if fc.Limits.MaxDatasetSize > 0 {
		c.Game.MaxDatasetSize = fc.Limits.MaxDatasetSize
	}
	if fc.Limits.GracePeriod > 0 {
		c.Game.GracePeriod = fc.Limits.GracePeriod
	}
	if fc.Limits.BroadcastInterval > 0 {
		c.Game.BroadcastInterval = fc.Limits.BroadcastInterval
	}
	log.Printf("[CONFIG] Loaded %s", path)
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvAsDuration accepts Go durations ("10s") or whole seconds ("10").
func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
