package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dontdude/qdoas/internal/logger"
)

// Config holds every setting of the qdoas binaries.
type Config struct {
	Log       logger.Config `mapstructure:"log"`
	Redis     RedisConfig   `mapstructure:"redis"`
	Server    ServerConfig  `mapstructure:"server"`
	Worker    WorkerConfig  `mapstructure:"worker"`
	Workspace string        `mapstructure:"workspace"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	// Stream carries request envelopes; Group is the consumer group of the engine workers.
	Stream string `mapstructure:"stream"`
	Group  string `mapstructure:"group"`
	// Channel is the Pub/Sub channel carrying response batches.
	Channel string `mapstructure:"channel"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// Rate is the number of requests per second allowed per client, Burst the bucket size.
	Rate  float64 `mapstructure:"rate"`
	Burst float64 `mapstructure:"burst"`
}

type WorkerConfig struct {
	Consumer string `mapstructure:"consumer"`
	// BatchImage is the container image running the command-line engine. Requests cannot pick
	// another one, and BatchMemory caps what they ask for.
	BatchImage  string `mapstructure:"batch_image"`
	BatchMemory int64  `mapstructure:"batch_memory"`
	// DataRoot is the only host tree batch requests may mount. Empty disables mounts.
	DataRoot         string        `mapstructure:"data_root"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
	RecoveryMinIdle  time.Duration `mapstructure:"recovery_min_idle"`
	// SessionIdle is how long a session's engine thread lives without requests.
	SessionIdle time.Duration `mapstructure:"session_idle"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.stream", "qdoas:requests")
	v.SetDefault("redis.group", "qdoas:workers")
	v.SetDefault("redis.channel", "qdoas:responses")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate", 5.0)
	v.SetDefault("server.burst", 20.0)

	v.SetDefault("worker.consumer", "")
	v.SetDefault("worker.batch_image", "qdoas/doas_cl:latest")
	v.SetDefault("worker.batch_memory", 512*1024*1024)
	v.SetDefault("worker.data_root", "")
	v.SetDefault("worker.recovery_interval", 30*time.Second)
	v.SetDefault("worker.recovery_min_idle", 2*time.Minute)
	v.SetDefault("worker.session_idle", 10*time.Minute)

	v.SetDefault("workspace", "qdoas.toml")
}

// Load reads the configuration from the environment (prefix QDOAS, e.g. QDOAS_REDIS_ADDR) and,
// when file is not empty, from that file. A nil v uses a fresh viper instance.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix("QDOAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr must be set"))
	}
	if c.Redis.Stream == "" || c.Redis.Group == "" || c.Redis.Channel == "" {
		errs = append(errs, errors.New("redis.stream, redis.group and redis.channel must be set"))
	}
	if c.Server.Rate <= 0 || c.Server.Burst < 1 {
		errs = append(errs, fmt.Errorf("server.rate must be positive and server.burst at least 1, got %g and %g",
			c.Server.Rate, c.Server.Burst))
	}
	if c.Worker.RecoveryInterval <= 0 || c.Worker.RecoveryMinIdle <= 0 {
		errs = append(errs, errors.New("worker recovery durations must be positive"))
	}
	if c.Worker.BatchMemory <= 0 {
		errs = append(errs, errors.New("worker.batch_memory must be positive"))
	}
	if c.Worker.SessionIdle <= 0 {
		errs = append(errs, errors.New("worker.session_idle must be positive"))
	}
	return errors.Join(errs...)
}
