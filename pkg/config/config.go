package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/store"
)

// Config 服务配置
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Hub     HubConfig     `mapstructure:"hub"`
	Sweeper SweeperConfig `mapstructure:"sweeper"`
	Store   store.Config  `mapstructure:"store"`
	Log     logger.Config `mapstructure:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"` // gin 模式：debug / release / test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// HubConfig 中继引擎配置
type HubConfig struct {
	AuthTimeout       time.Duration `mapstructure:"auth_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	MaxClientsPerRoom int           `mapstructure:"max_clients_per_room"`
	MaxHistory        int           `mapstructure:"max_history"`
	EmptyRoomGrace    time.Duration `mapstructure:"empty_room_grace"`
	AllowAllOrigins   bool          `mapstructure:"allow_all_origins"`
}

// SweeperConfig 保留期清扫配置
type SweeperConfig struct {
	Interval  time.Duration `mapstructure:"interval"`  // 清扫周期（默认 24h）
	Retention time.Duration `mapstructure:"retention"` // 记录保留窗口（默认 30 天）
}

// setDefaults 注册默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("hub.auth_timeout", "30s")
	v.SetDefault("hub.heartbeat_interval", "30s")
	v.SetDefault("hub.heartbeat_timeout", "90s")
	v.SetDefault("hub.max_clients_per_room", 50)
	v.SetDefault("hub.max_history", 100)
	v.SetDefault("hub.empty_room_grace", "60s")
	v.SetDefault("hub.allow_all_origins", false)

	v.SetDefault("sweeper.interval", "24h")
	v.SetDefault("sweeper.retention", "720h") // 30 天

	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.dsn", "relay.db")
	v.SetDefault("store.max_idle_conns", 10)
	v.SetDefault("store.max_open_conns", 100)
	v.SetDefault("store.conn_max_lifetime", "1h")
	v.SetDefault("store.log_level", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.console", true)
}

// Load 加载配置
//
// path 为空时在工作目录查找 relay.yaml；文件不存在则使用
// 默认值。环境变量以 RELAY_ 为前缀覆盖同名配置项。
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, v, nil
}

// Watch 监控配置文件变更
//
// 每次变更重新解析并回调，解析失败时跳过本次变更。
func Watch(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		if onChange != nil {
			onChange(&cfg)
		}
	})
	v.WatchConfig()
}
