package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，如 FSMAUDIT_SSH_PORT 覆盖 ssh.port
const EnvPrefix = "FSMAUDIT"

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Collector CollectorConfig `mapstructure:"collector"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Output    OutputConfig    `mapstructure:"output"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// CollectorConfig 采集配置
type CollectorConfig struct {
	// Concurrent 同时处理的设备数，1 表示逐台串行
	Concurrent int `mapstructure:"concurrent"`
	// RetryFlags 连接失败后的重试次数（认证失败不重试）
	RetryFlags int `mapstructure:"retry_flags"`
	// ConcurrencyProfile 并发档位：S/M/L/XL，设置后覆盖 concurrent
	ConcurrencyProfile  string         `mapstructure:"concurrency_profile"`
	ConcurrencyProfiles map[string]int `mapstructure:"concurrency_profiles"`
	// DeviceTimeout 单台设备（连接+全部命令）的时间窗口
	DeviceTimeout time.Duration      `mapstructure:"device_timeout"`
	OutputFilter  OutputFilterConfig `mapstructure:"output_filter"`
}

// OutputFilterConfig 原始回显的行过滤（移除分页提示等）
type OutputFilterConfig struct {
	Prefixes        []string `mapstructure:"prefixes"`
	Contains        []string `mapstructure:"contains"`
	CaseInsensitive bool     `mapstructure:"case_insensitive"`
}

// TemplatesConfig 解析模板配置
type TemplatesConfig struct {
	// Dir 模板目录，其中的同名文件覆盖内置模板
	Dir              string `mapstructure:"dir"`
	Watch            bool   `mapstructure:"watch"`
	MaxReevaluations int    `mapstructure:"max_reevaluations"`
}

// OutputConfig 结果输出配置
type OutputConfig struct {
	CSVPath string `mapstructure:"csv_path"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite 配置，Path 为空时不持久化
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig 原始回显归档配置
type StorageConfig struct {
	Minio MinioConfig `mapstructure:"minio"`
}

// MinioConfig 对象存储配置，Host 为空时不归档
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
	Prefix    string `mapstructure:"prefix"`
}

// SSHConfig SSH 配置
type SSHConfig struct {
	Port              int           `mapstructure:"port"`
	ConnectTimeout    time.Duration `mapstructure:"-"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	PromptSuffixes    []string      `mapstructure:"prompt_suffixes"`
	DisablePagingCmds []string      `mapstructure:"disable_paging_cmds"`
	ExitCommands      []string      `mapstructure:"exit_commands"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

var globalConfig *Config

// Load 加载配置文件。configPath 为空时按默认路径查找，找不到则只使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("fsmaudit")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 拨号与握手超时拆分配置，合并为 ConnectTimeout
	dial := v.GetDuration("ssh.timeout.dial_timeout")
	auth := v.GetDuration("ssh.timeout.auth_timeout")
	config.SSH.ConnectTimeout = dial + auth

	applyConcurrencyProfile(&config)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &config
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)

	// 默认逐台串行，与逐台处理的人工流程一致
	v.SetDefault("collector.concurrent", 1)
	v.SetDefault("collector.retry_flags", 0)
	v.SetDefault("collector.concurrency_profile", "")
	v.SetDefault("collector.concurrency_profiles", map[string]int{
		"S":  4,
		"M":  8,
		"L":  16,
		"XL": 32,
	})
	v.SetDefault("collector.device_timeout", 2*time.Minute)
	v.SetDefault("collector.output_filter.prefixes", []string{"--More--", " --More--"})
	v.SetDefault("collector.output_filter.contains", []string{"--more--"})
	v.SetDefault("collector.output_filter.case_insensitive", true)

	v.SetDefault("templates.dir", "")
	v.SetDefault("templates.watch", false)
	v.SetDefault("templates.max_reevaluations", 1000)

	v.SetDefault("output.csv_path", "")

	v.SetDefault("database.sqlite.path", "")
	v.SetDefault("database.sqlite.max_idle_conns", 2)
	v.SetDefault("database.sqlite.max_open_conns", 1)
	v.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	v.SetDefault("storage.minio.port", 9000)
	v.SetDefault("storage.minio.bucket", "fsmaudit")
	v.SetDefault("storage.minio.prefix", "raw")

	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.timeout.dial_timeout", 5*time.Second)
	v.SetDefault("ssh.timeout.auth_timeout", 10*time.Second)
	v.SetDefault("ssh.command_timeout", 30*time.Second)
	v.SetDefault("ssh.keep_alive_interval", 30*time.Second)
	v.SetDefault("ssh.prompt_suffixes", []string{"#", ">"})
	v.SetDefault("ssh.disable_paging_cmds", []string{"terminal length 0"})
	v.SetDefault("ssh.exit_commands", []string{"exit"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file_path", "./logs/fsmaudit.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
}

// applyConcurrencyProfile 并发档位覆盖 Collector.Concurrent
func applyConcurrencyProfile(cfg *Config) {
	p := strings.ToUpper(strings.TrimSpace(cfg.Collector.ConcurrencyProfile))
	if p == "" {
		return
	}
	for k, n := range cfg.Collector.ConcurrencyProfiles {
		if strings.ToUpper(k) == p && n > 0 {
			cfg.Collector.Concurrent = n
			return
		}
	}
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.Collector.Concurrent < 1 {
		return fmt.Errorf("collector.concurrent must be >= 1, got %d", c.Collector.Concurrent)
	}
	if c.Collector.RetryFlags < 0 {
		return fmt.Errorf("collector.retry_flags must be >= 0, got %d", c.Collector.RetryFlags)
	}
	if c.SSH.Port <= 0 || c.SSH.Port > 65535 {
		return fmt.Errorf("ssh.port out of range: %d", c.SSH.Port)
	}
	if len(c.SSH.PromptSuffixes) == 0 {
		return errors.New("ssh.prompt_suffixes must not be empty")
	}
	return nil
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
