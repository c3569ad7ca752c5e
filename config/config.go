package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de polypnl.
type Config struct {
	Feed      FeedConfig      `yaml:"feed"`
	Collector CollectorConfig `yaml:"collector"`
	Cache     CacheConfig     `yaml:"cache"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Trace     TraceConfig     `yaml:"trace"`
}

// FeedConfig controla el cliente HTTP de data-api y CLOB.
type FeedConfig struct {
	DataAPIBase    string  `yaml:"data_api_base"`
	CLOBBase       string  `yaml:"clob_base"`
	RatePerSec     float64 `yaml:"rate_per_sec"` // peticiones/s al endpoint /activity
	Burst          int     `yaml:"burst"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
	MaxPageSize    int     `yaml:"max_page_size"` // techo del feed por página
}

// CollectorConfig controla la paginación.
type CollectorConfig struct {
	Mode               string `yaml:"mode"` // offset | cursor
	PageSize           int    `yaml:"page_size"`
	MaxEvents          int    `yaml:"max_events"` // 0 = sin límite
	EmptyWindowLimit   int    `yaml:"empty_window_limit"`
	MaxPages           int    `yaml:"max_pages"`
	PageTimeoutSeconds int    `yaml:"page_timeout_seconds"` // 0 = sin timeout propio
	FanOut             int    `yaml:"fan_out"`              // cuentas en paralelo
}

// CacheConfig controla el cache de reportes.
type CacheConfig struct {
	Backend       string `yaml:"backend"` // memory | redis | none
	TTLSeconds    int    `yaml:"ttl_seconds"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// StorageConfig controla dónde se archiva la actividad.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// MetricsConfig controla el endpoint de Prometheus.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // vacío = deshabilitado
}

// TraceConfig controla el export de spans a stdout.
type TraceConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default devuelve la configuración con todos los defaults aplicados.
// Se usa cuando no hay archivo de configuración.
func Default() *Config {
	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault carga path si existe; si no, devuelve Default().
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		_ = godotenv.Load()
		return Default(), nil
	}
	return Load(path)
}

// Validate rechaza valores que no tienen interpretación.
func (c *Config) Validate() error {
	switch c.Collector.Mode {
	case "offset", "cursor":
	default:
		return fmt.Errorf("collector.mode %q: want offset or cursor", c.Collector.Mode)
	}
	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("cache.backend %q: want memory, redis or none", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return errors.New("cache.redis_addr is required with the redis backend")
	}
	if c.Collector.PageSize > c.Feed.MaxPageSize {
		return fmt.Errorf("collector.page_size %d exceeds feed.max_page_size %d",
			c.Collector.PageSize, c.Feed.MaxPageSize)
	}
	return nil
}

// FeedTimeout devuelve el timeout HTTP como time.Duration.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feed.TimeoutSeconds) * time.Second
}

// PageTimeout devuelve el timeout por página; 0 si no hay.
func (c *Config) PageTimeout() time.Duration {
	return time.Duration(c.Collector.PageTimeoutSeconds) * time.Second
}

// CacheTTL devuelve el TTL del cache como time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POLYPNL_DATA_API"); v != "" {
		cfg.Feed.DataAPIBase = v
	}
	if v := os.Getenv("POLYPNL_CLOB_API"); v != "" {
		cfg.Feed.CLOBBase = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := os.Getenv("POLYPNL_METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Feed.DataAPIBase == "" {
		cfg.Feed.DataAPIBase = "https://data-api.polymarket.com"
	}
	if cfg.Feed.CLOBBase == "" {
		cfg.Feed.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.Feed.RatePerSec <= 0 {
		cfg.Feed.RatePerSec = 12 // 60% de 200/10s
	}
	if cfg.Feed.Burst <= 0 {
		cfg.Feed.Burst = 5
	}
	if cfg.Feed.TimeoutSeconds <= 0 {
		cfg.Feed.TimeoutSeconds = 10
	}
	if cfg.Feed.MaxRetries <= 0 {
		cfg.Feed.MaxRetries = 3
	}
	if cfg.Feed.MaxPageSize <= 0 {
		cfg.Feed.MaxPageSize = 500
	}
	if cfg.Collector.Mode == "" {
		cfg.Collector.Mode = "offset"
	}
	if cfg.Collector.PageSize <= 0 {
		cfg.Collector.PageSize = 500
	}
	if cfg.Collector.MaxEvents < 0 {
		cfg.Collector.MaxEvents = 0
	}
	if cfg.Collector.EmptyWindowLimit <= 0 {
		cfg.Collector.EmptyWindowLimit = 25
	}
	if cfg.Collector.MaxPages <= 0 {
		cfg.Collector.MaxPages = 400
	}
	if cfg.Collector.FanOut <= 0 {
		cfg.Collector.FanOut = 4
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 120
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polypnl.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
