package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration, unmarshaled from YAML/env and
// translated into the subsystem Config types (transport, scheduler, cache,
// security) at startup.
type Config struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Client      ClientConfig      `mapstructure:"client"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Log         LogConfig         `mapstructure:"log"`
}

// CoordinatorConfig holds coordinator-specific settings.
type CoordinatorConfig struct {
	Port           int           `mapstructure:"port"` // transport.Server listen port
	HTTPPort       int           `mapstructure:"http_port"`
	AuthToken      string        `mapstructure:"auth_token"`
	TLSCert        string        `mapstructure:"tls_cert"`
	TLSKey         string        `mapstructure:"tls_key"`
	MDNSEnable     bool          `mapstructure:"mdns_enable"`
	HeartbeatTTL   time.Duration `mapstructure:"heartbeat_ttl"`
	SchedulerAlgo  string        `mapstructure:"scheduler_algorithm"` // "weighted", "least-loaded", "round-robin"
	DefaultTimeout int           `mapstructure:"default_timeout_sec"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// WorkerConfig holds worker-specific settings.
type WorkerConfig struct {
	CoordinatorAddr   string        `mapstructure:"coordinator_addr"`
	AuthToken         string        `mapstructure:"auth_token"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	WorkDir           string        `mapstructure:"work_dir"`
	Timeout           time.Duration `mapstructure:"timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// ClientConfig holds hgbuild CLI client settings.
type ClientConfig struct {
	CoordinatorAddr string        `mapstructure:"coordinator_addr"`
	AuthToken       string        `mapstructure:"auth_token"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Fallback        bool          `mapstructure:"fallback"`
}

// CacheConfig holds local and optional S3-backed remote cache settings.
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Dir      string `mapstructure:"dir"`
	MaxSize  int64  `mapstructure:"max_size_mb"`
	TTLHours int    `mapstructure:"ttl_hours"`

	RemoteEnable   bool   `mapstructure:"remote_enable"`
	RemoteBucket   string `mapstructure:"remote_bucket"`
	RemotePrefix   string `mapstructure:"remote_prefix"`
	RemoteRegion   string `mapstructure:"remote_region"`
	RemoteEndpoint string `mapstructure:"remote_endpoint"` // set for S3-compatible stores (e.g. MinIO)
	RemoteReadOnly bool   `mapstructure:"remote_read_only"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cacheDir, _ := os.UserCacheDir()
	return &Config{
		Coordinator: CoordinatorConfig{
			Port:           9000,
			HTTPPort:       8080,
			MDNSEnable:     true,
			HeartbeatTTL:   30 * time.Second,
			SchedulerAlgo:  "weighted",
			DefaultTimeout: 300,
			MaxRetries:     3,
		},
		Worker: WorkerConfig{
			MaxParallel:       runtime.NumCPU(),
			WorkDir:           filepath.Join(os.TempDir(), "hybridbuild-worker"),
			Timeout:           5 * time.Minute,
			HeartbeatInterval: 10 * time.Second,
		},
		Client: ClientConfig{
			Timeout:  30 * time.Second,
			Fallback: true,
		},
		Cache: CacheConfig{
			Enable:   true,
			Dir:      filepath.Join(cacheDir, "hybridbuild"),
			MaxSize:  1024, // 1GB
			TTLHours: 168,  // 7 days
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("hybridbuild")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/hybridbuild")
		v.AddConfigPath("/etc/hybridbuild")
	}

	v.SetEnvPrefix("HGBUILD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("coordinator.port", cfg.Coordinator.Port)
	v.SetDefault("coordinator.http_port", cfg.Coordinator.HTTPPort)
	v.SetDefault("coordinator.mdns_enable", cfg.Coordinator.MDNSEnable)
	v.SetDefault("coordinator.heartbeat_ttl", cfg.Coordinator.HeartbeatTTL)
	v.SetDefault("coordinator.scheduler_algorithm", cfg.Coordinator.SchedulerAlgo)
	v.SetDefault("coordinator.default_timeout_sec", cfg.Coordinator.DefaultTimeout)
	v.SetDefault("coordinator.max_retries", cfg.Coordinator.MaxRetries)

	v.SetDefault("worker.max_parallel", cfg.Worker.MaxParallel)
	v.SetDefault("worker.work_dir", cfg.Worker.WorkDir)
	v.SetDefault("worker.timeout", cfg.Worker.Timeout)
	v.SetDefault("worker.heartbeat_interval", cfg.Worker.HeartbeatInterval)

	v.SetDefault("client.timeout", cfg.Client.Timeout)
	v.SetDefault("client.fallback", cfg.Client.Fallback)

	v.SetDefault("cache.enable", cfg.Cache.Enable)
	v.SetDefault("cache.dir", cfg.Cache.Dir)
	v.SetDefault("cache.max_size_mb", cfg.Cache.MaxSize)
	v.SetDefault("cache.ttl_hours", cfg.Cache.TTLHours)
	v.SetDefault("cache.remote_enable", cfg.Cache.RemoteEnable)
	v.SetDefault("cache.remote_read_only", cfg.Cache.RemoteReadOnly)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// WriteExample writes an example config file.
func WriteExample(path string) error {
	example := `# hybridbuild distributed build configuration

coordinator:
  port: 9000
  http_port: 8080
  auth_token: ""
  mdns_enable: true
  scheduler_algorithm: weighted   # weighted, least-loaded, round-robin
  default_timeout_sec: 300
  max_retries: 3
  # tls_cert: /path/to/cert.pem
  # tls_key: /path/to/key.pem

worker:
  coordinator_addr: ""  # Empty for auto-discovery
  auth_token: ""
  max_parallel: 0       # 0 = auto (number of CPUs)
  work_dir: /tmp/hybridbuild-worker
  timeout: 5m
  heartbeat_interval: 10s

client:
  coordinator_addr: ""  # Empty for auto-discovery
  auth_token: ""
  timeout: 30s
  fallback: true        # Fall back to local build if remote fails

cache:
  enable: true
  dir: ~/.cache/hybridbuild
  max_size_mb: 1024     # 1GB
  ttl_hours: 168        # 7 days
  remote_enable: false
  remote_bucket: ""
  remote_prefix: "hybridbuild"
  remote_region: ""
  remote_endpoint: ""   # set for S3-compatible stores, e.g. MinIO
  remote_read_only: false

log:
  level: info           # debug, info, warn, error
  format: console       # console, json
  # file: /var/log/hybridbuild.log
`
	return os.WriteFile(path, []byte(example), 0644)
}
