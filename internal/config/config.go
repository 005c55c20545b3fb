package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Store         StoreConfig         `mapstructure:"store"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Graph         GraphConfig         `mapstructure:"graph"`
	Vector        VectorConfig        `mapstructure:"vector"`
	Temporal      TemporalConfig      `mapstructure:"temporal"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Reanalysis    ReanalysisConfig    `mapstructure:"reanalysis"`
	Log           LogConfig           `mapstructure:"log"`

	// Workers bounds concurrent per-rack work in bulk operations.
	Workers int `mapstructure:"workers"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"` // memory | badger
	Path    string `mapstructure:"path"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// GraphConfig points at the optional Neo4j hierarchy mirror. Empty URI disables it.
type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// VectorConfig points at the optional Qdrant similarity index. Empty host disables it.
type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	HealthAddr string `mapstructure:"health_addr"`
	// ImportRoot confines POST /v1/racks/import to files under this
	// directory. Empty disables API imports.
	ImportRoot string `mapstructure:"import_root"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	AuditLog     string `mapstructure:"audit_log"`
}

type ReanalysisConfig struct {
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// MaxAge returns the reanalysis window as a duration.
func (r ReanalysisConfig) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeDays) * 24 * time.Hour
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the configuration used when no file or env overrides are present.
func Default() *Config {
	return &Config{
		Store:      StoreConfig{Backend: "memory"},
		Cache:      CacheConfig{TTL: time.Hour},
		Vector:     VectorConfig{Port: 6334, Collection: "rack_fingerprints"},
		Temporal:   TemporalConfig{Host: "localhost:7233", Namespace: "default", TaskQueue: "rackscan-analysis"},
		Server:     ServerConfig{Addr: ":8080", HealthAddr: ":8081"},
		Reanalysis: ReanalysisConfig{MaxAgeDays: 30},
		Log:        LogConfig{Level: "info", Format: "text"},
		Workers:    4,
	}
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	switch c.Store.Backend {
	case "", "memory":
	case "badger":
		if c.Store.Path == "" {
			warnings = append(warnings, "store backend 'badger' is configured but store.path is empty")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown store backend '%s', falling back to memory", c.Store.Backend))
	}

	if c.Cache.TTL < 0 {
		warnings = append(warnings, fmt.Sprintf("cache ttl %s is negative", c.Cache.TTL))
	}

	if c.Graph.URI != "" && c.Graph.Username == "" {
		warnings = append(warnings, "graph uri is configured but username is empty")
	}

	if c.Workers < 0 {
		warnings = append(warnings, fmt.Sprintf("workers %d is negative", c.Workers))
	}

	if c.Reanalysis.MaxAgeDays < 0 {
		warnings = append(warnings, fmt.Sprintf("reanalysis max_age_days %d is negative", c.Reanalysis.MaxAgeDays))
	}

	return warnings
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("vector.port", d.Vector.Port)
	v.SetDefault("vector.collection", d.Vector.Collection)
	v.SetDefault("temporal.host", d.Temporal.Host)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.health_addr", d.Server.HealthAddr)
	v.SetDefault("server.import_root", d.Server.ImportRoot)
	v.SetDefault("reanalysis.max_age_days", d.Reanalysis.MaxAgeDays)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("workers", d.Workers)

	// Bind keys without defaults so AutomaticEnv can see them during Unmarshal.
	for _, key := range []string{
		"store.path", "graph.uri", "graph.username", "graph.password", "vector.host",
		"observability.otlp_endpoint", "observability.audit_log",
	} {
		v.SetDefault(key, "")
	}
}

// Load reads configuration from file and environment. An empty path searches
// ./rackscan.yaml and $HOME/.rackscan/rackscan.yaml and tolerates neither existing.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RACKSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rackscan")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.rackscan")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
