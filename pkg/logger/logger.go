package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	// 日志级别：debug / info / warn / error（默认 info）
	Level string `mapstructure:"level"`

	// 输出格式：json / console（默认 json）
	Format string `mapstructure:"format"`

	// 是否输出到控制台（默认 true）
	Console bool `mapstructure:"console"`

	// 文件路径（空则不输出到文件）
	File string `mapstructure:"file"`

	// 轮转配置
	MaxSizeMB  int  `mapstructure:"max_size_mb"`  // 单文件最大大小（默认 100MB）
	MaxAgeDays int  `mapstructure:"max_age_days"` // 文件保留天数（默认 30 天）
	MaxBackups int  `mapstructure:"max_backups"`  // 最多保留文件数（默认 10 个）
	Compress   bool `mapstructure:"compress"`     // 是否压缩
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
	if !c.Console && c.File == "" {
		c.Console = true
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 100
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 30
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 10
	}
}

// New 创建 Logger，返回的 AtomicLevel 支持运行期调级
func New(cfg *Config) (*zap.Logger, zap.AtomicLevel, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	level := zap.NewAtomicLevelAt(ParseLevel(cfg.Level))

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var writers []zapcore.WriteSyncer
	if cfg.Console {
		writers = append(writers, zapcore.AddSync(os.Stdout))
	}
	if cfg.File != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			LocalTime:  true,
			Compress:   cfg.Compress,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	log := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return log, level, nil
}

// ParseLevel 解析日志级别字符串，无法识别时回退 info
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
