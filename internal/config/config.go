package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Store    StoreConfig    `mapstructure:"store"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Identity IdentityConfig `mapstructure:"identity"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Push     PushConfig     `mapstructure:"push"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

type AppConfig struct {
	Name       string `mapstructure:"name"`
	HTTPPort   int    `mapstructure:"http_port"`
	HealthPort int    `mapstructure:"health_port"`
	Mode       string `mapstructure:"mode"`
	LogLevel   string `mapstructure:"log_level"`
	NodeID     int    `mapstructure:"node_id"` // 雪花 ID 节点号，多实例部署时各不相同
}

// StoreConfig 存储后端: memory | postgres
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	SeedFile string `mapstructure:"seed_file"` // 启动时开通的会话列表（可选）
}

// FeedConfig 变更通知源: local | postgres | nats | redis | none
type FeedConfig struct {
	Driver  string `mapstructure:"driver"`
	Channel string `mapstructure:"channel"` // postgres NOTIFY channel / redis pub-sub channel
	Subject string `mapstructure:"subject"` // nats subject 前缀
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// IdentityConfig HR 身份识别规则
type IdentityConfig struct {
	HRSenderID string   `mapstructure:"hr_sender_id"`
	HRMarker   string   `mapstructure:"hr_marker"`
	HRNames    []string `mapstructure:"hr_names"`
}

type BrokerConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type PushConfig struct {
	SendBuffer        int           `mapstructure:"send_buffer"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// Load 从指定路径加载配置，path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()

	var cfg Config
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, err
		}
	}

	// 从环境变量覆盖配置
	cfg.applyEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnv 从环境变量覆盖配置
func (c *Config) applyEnv() {
	// App
	c.App.HTTPPort = GetEnvInt("HRCHAT_HTTP_PORT", c.App.HTTPPort)
	c.App.HealthPort = GetEnvInt("HRCHAT_HEALTH_PORT", c.App.HealthPort)
	c.App.LogLevel = GetEnv("HRCHAT_LOG_LEVEL", c.App.LogLevel)
	c.App.NodeID = GetEnvInt("HRCHAT_NODE_ID", c.App.NodeID)

	// Store / Feed
	c.Store.Driver = GetEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.SeedFile = GetEnv("SEED_FILE", c.Store.SeedFile)
	c.Feed.Driver = GetEnv("FEED_DRIVER", c.Feed.Driver)

	// Database
	c.Database.Host = GetEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = GetEnvInt("POSTGRES_PORT", c.Database.Port)
	c.Database.User = GetEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = GetEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Name = GetEnv("POSTGRES_DB", c.Database.Name)
	c.Database.MaxOpenConns = GetEnvInt("POSTGRES_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.ConnMaxLifetime = GetEnvDuration("POSTGRES_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)

	// Redis
	c.Redis.Host = GetEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = GetEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = GetEnvInt("REDIS_DB", c.Redis.DB)

	// NATS
	c.NATS.URL = GetEnv("NATS_URL", c.NATS.URL)

	// Identity
	c.Identity.HRSenderID = GetEnv("HR_SENDER_ID", c.Identity.HRSenderID)
	c.Identity.HRMarker = GetEnv("HR_MARKER", c.Identity.HRMarker)
}

// applyDefaults 为未配置的字段填充默认值
func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "hrchat"
	}
	if c.App.HTTPPort == 0 {
		c.App.HTTPPort = 8080
	}
	if c.App.HealthPort == 0 {
		c.App.HealthPort = 8081
	}
	if c.App.Mode == "" {
		c.App.Mode = "release"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Feed.Driver == "" {
		c.Feed.Driver = "local"
	}
	if c.Feed.Channel == "" {
		c.Feed.Channel = "hrchat_changes"
	}
	if c.Feed.Subject == "" {
		c.Feed.Subject = "hrchat.change"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.Identity.HRSenderID == "" {
		c.Identity.HRSenderID = "hr_sconnor"
	}
	if c.Identity.HRMarker == "" {
		c.Identity.HRMarker = "(HR)"
	}
	if c.Broker.Workers == 0 {
		c.Broker.Workers = 8
	}
	if c.Broker.QueueSize == 0 {
		c.Broker.QueueSize = 1024
	}
	if c.Push.SendBuffer == 0 {
		c.Push.SendBuffer = 128
	}
	if c.Push.ReadLimit == 0 {
		c.Push.ReadLimit = 1 << 16
	}
	if c.Push.HeartbeatTimeout == 0 {
		c.Push.HeartbeatTimeout = 90 * time.Second
	}
	if c.Push.HeartbeatInterval == 0 {
		c.Push.HeartbeatInterval = 30 * time.Second
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
}
