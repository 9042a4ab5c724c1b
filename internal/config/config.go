package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. EMS_DB_HOST
const EnvPrefix = "EMS"

// Config holds the configuration for the workflow service.
type Config struct {
	Server struct {
		Port            int           `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		TLS      bool   `mapstructure:"tls"`
	} `mapstructure:"db"`
	Redis struct {
		Addrs     []string `mapstructure:"addrs"`
		Channel   string   `mapstructure:"channel"`
		QueueSize int      `mapstructure:"queue_size"`
	} `mapstructure:"redis"`
	Workflow struct {
		SuperRole          string        `mapstructure:"super_role"`
		EscalationInterval time.Duration `mapstructure:"escalation_interval"`
		MaxAutoHops        int           `mapstructure:"max_auto_hops"`
		GraphCacheCleanup  time.Duration `mapstructure:"graph_cache_cleanup"`
	} `mapstructure:"workflow"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("db.host", "127.0.0.1")
	v.SetDefault("db.port", 3306)
	v.SetDefault("db.user", "root")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "ems_cop")
	v.SetDefault("db.tls", false)

	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.channel", "ems.workflow.events")
	v.SetDefault("redis.queue_size", 1024)

	v.SetDefault("workflow.super_role", "admin")
	v.SetDefault("workflow.escalation_interval", 30*time.Second)
	v.SetDefault("workflow.max_auto_hops", 100)
	v.SetDefault("workflow.graph_cache_cleanup", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads .env (if present), an optional config file and EMS_* environment
// variables into a Config. Flags already bound to v take precedence.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			// it's ok if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// comma separated lists arrive as one string from the environment
	cfg.Redis.Addrs = splitList(cfg.Redis.Addrs)
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no usable fallback
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Workflow.MaxAutoHops <= 0 {
		return fmt.Errorf("workflow.max_auto_hops must be positive, got %d", c.Workflow.MaxAutoHops)
	}
	if c.Workflow.EscalationInterval < time.Second {
		return fmt.Errorf("workflow.escalation_interval must be at least 1s, got %s", c.Workflow.EscalationInterval)
	}
	if strings.TrimSpace(c.Workflow.SuperRole) == "" {
		return fmt.Errorf("workflow.super_role must not be empty")
	}
	return nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
