package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Search   SearchConfig   `yaml:"search"`
	Auth     AuthConfig     `yaml:"auth"`
	Events   EventsConfig   `yaml:"events"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	TrustedProxies []string `yaml:"trustedProxies"`
	ExplorerRPS    float64  `yaml:"explorerRPS"`
	ExplorerBurst  int      `yaml:"explorerBurst"`
	ExplorerRows   int      `yaml:"explorerRows"`
	// ExportDir, when set, is served under /data (the export-json output).
	ExportDir string `yaml:"exportDir"`
}

// DatabaseConfig describes where the catalog file lives. Path is the local
// file published under /db; Source is what the query engine reads and may be
// an http(s) URL, an s3://bucket/key URI or a file path. An empty Source
// means "read Path".
type DatabaseConfig struct {
	Path            string        `yaml:"path"`
	Source          string        `yaml:"source"`
	InfoURL         string        `yaml:"infoURL"`
	ChunkSize       int           `yaml:"chunkSize"`
	MaxCachedChunks int           `yaml:"maxCachedChunks"`
	MaxReadAhead    int           `yaml:"maxReadAhead"`
	FetchRetries    int           `yaml:"fetchRetries"`
	LoadAttempts    int           `yaml:"loadAttempts"`
	RetryInterval   time.Duration `yaml:"retryInterval"`
	ReadyTimeout    time.Duration `yaml:"readyTimeout"`
	QueryTimeout    time.Duration `yaml:"queryTimeout"`
	QuerySlots      int           `yaml:"querySlots"`
	Watch           bool          `yaml:"watch"`
	S3Region        string        `yaml:"s3Region"`
}

type CacheConfig struct {
	Backend         string        `yaml:"backend"` // memory, redis, memcache
	TTL             time.Duration `yaml:"ttl"`
	RedisAddr       string        `yaml:"redisAddr"`
	RedisPassword   string        `yaml:"redisPassword"`
	RedisDB         int           `yaml:"redisDB"`
	MemcachedAddr   string        `yaml:"memcachedAddr"`
	PrefetchWorkers int           `yaml:"prefetchWorkers"`
}

type SearchConfig struct {
	MaxQueryRunes     int           `yaml:"maxQueryRunes"`
	AutocompleteMin   int           `yaml:"autocompleteMin"`
	AutocompleteLimit int           `yaml:"autocompleteLimit"`
	Debounce          time.Duration `yaml:"debounce"`
}

type AuthConfig struct {
	JWTSecret         string        `yaml:"jwtSecret"`
	JWTIssuer         string        `yaml:"jwtIssuer"`
	JWTDuration       time.Duration `yaml:"jwtDuration"`
	AdminPasswordHash string        `yaml:"adminPasswordHash"`
}

type EventsConfig struct {
	TCPAddr      string `yaml:"tcpAddr"`
	RedisChannel string `yaml:"redisChannel"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			TrustedProxies: []string{"127.0.0.1"},
			ExplorerRPS:    2,
			ExplorerBurst:  5,
			ExplorerRows:   1000,
		},
		Database: DatabaseConfig{
			Path:            "public/db/archimap.sqlite",
			ChunkSize:       64 * 1024,
			MaxCachedChunks: 512,
			MaxReadAhead:    16,
			FetchRetries:    4,
			LoadAttempts:    3,
			RetryInterval:   10 * time.Second,
			ReadyTimeout:    15 * time.Second,
			QueryTimeout:    10 * time.Second,
			QuerySlots:      8,
			Watch:           true,
		},
		Cache: CacheConfig{
			Backend:         "memory",
			TTL:             5 * time.Minute,
			PrefetchWorkers: 2,
		},
		Search: SearchConfig{
			MaxQueryRunes:     100,
			AutocompleteMin:   2,
			AutocompleteLimit: 10,
			Debounce:          300 * time.Millisecond,
		},
		Auth: AuthConfig{
			// dev default (change for production)
			JWTSecret:   "dev-secret-change-me",
			JWTIssuer:   "archimap",
			JWTDuration: 12 * time.Hour,
		},
		Events: EventsConfig{
			RedisChannel: "archimap:events",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads a YAML file over the defaults. A missing file is not an
// error; environment overrides are applied in both cases.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("open config: %w", err)
		default:
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ARCHIMAP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ARCHIMAP_EXPORT_DIR"); v != "" {
		c.Server.ExportDir = v
	}
	if v := os.Getenv("ARCHIMAP_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("ARCHIMAP_DB_SOURCE"); v != "" {
		c.Database.Source = v
	}
	if v := os.Getenv("ARCHIMAP_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("ARCHIMAP_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("ARCHIMAP_MEMCACHED_ADDR"); v != "" {
		c.Cache.MemcachedAddr = v
	}
	if v := os.Getenv("ARCHIMAP_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("ARCHIMAP_JWT_TTL_HOURS"); v != "" {
		// if parse fails, keep the configured duration
		if h, err := strconv.Atoi(v); err == nil && h > 0 {
			c.Auth.JWTDuration = time.Duration(h) * time.Hour
		}
	}
	if v := os.Getenv("ARCHIMAP_ADMIN_PASSWORD_HASH"); v != "" {
		c.Auth.AdminPasswordHash = v
	}
	if v := os.Getenv("ARCHIMAP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("ARCHIMAP_OTLP_ENDPOINT"); v != "" {
		c.Tracing.Enabled = true
		c.Tracing.Endpoint = v
	}
}

func (c Config) Validate() error {
	if c.Database.Path == "" && c.Database.Source == "" {
		return errors.New("config: database.path or database.source is required")
	}
	if c.Database.ChunkSize <= 0 || c.Database.ChunkSize&(c.Database.ChunkSize-1) != 0 {
		return fmt.Errorf("config: database.chunkSize must be a power of two, got %d", c.Database.ChunkSize)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return errors.New("config: cache.redisAddr is required for the redis backend")
		}
	case "memcache":
		if c.Cache.MemcachedAddr == "" {
			return errors.New("config: cache.memcachedAddr is required for the memcache backend")
		}
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

// ReadSource returns what the query engine should read.
func (d DatabaseConfig) ReadSource() string {
	if d.Source != "" {
		return d.Source
	}
	return d.Path
}
