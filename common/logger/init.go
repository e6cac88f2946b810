package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rainbow-me/platform-mdc/common/env"
)

const (
	StringJSONEncoderName = "string_json"
	MessageKey            = "message"
	NameKey               = "logger"

	LevelEnvKey    = "LOG_LEVEL"
	DisabledEnvKey = "LOG_DISABLED"
)

type stringJSONEncoder struct {
	zapcore.Encoder
}

func newStringJSONEncoder(cfg zapcore.EncoderConfig) *stringJSONEncoder {
	return &stringJSONEncoder{zapcore.NewJSONEncoder(cfg)}
}

// NewStringJSONEncoder returns an encoder that encodes the JSON log dict as a string
// so the log processing pipeline can correctly process logs with nested JSON.
func NewStringJSONEncoder(cfg zapcore.EncoderConfig) (zapcore.Encoder, error) {
	return newStringJSONEncoder(cfg), nil
}

var (
	registerOnce sync.Once
	registerErr  error
)

func registerEncoder() error {
	registerOnce.Do(func() {
		registerErr = zap.RegisterEncoder(StringJSONEncoderName, NewStringJSONEncoder)
	})
	return registerErr
}

// FileConfig enables an additional rotated JSON file sink.
type FileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config drives InitLogger. The zero value logs at the environment's default level to stderr.
type Config struct {
	Environment env.Environment `mapstructure:"environment"`
	// Level overrides the environment default (debug, info, warn, error)
	Level    string      `mapstructure:"level"`
	Disabled bool        `mapstructure:"disabled"`
	File     *FileConfig `mapstructure:"file"`
}

// ConfigFromEnv reads ENVIRONMENT, LOG_LEVEL and LOG_DISABLED.
func ConfigFromEnv() Config {
	return Config{
		Environment: env.GetApplicationEnvSafe(),
		Level:       os.Getenv(LevelEnvKey),
		Disabled:    strings.EqualFold(os.Getenv(DisabledEnvKey), "yes"),
	}
}

// InitLogger initializes and returns a configured Zap logger with environment-specific settings.
func InitLogger(cfg Config, zapOpts ...zap.Option) (*zap.Logger, error) {
	if cfg.Disabled {
		return zap.NewNop(), nil
	}

	var (
		config  zap.Config
		options []zap.Option
	)

	currentEnv := cfg.Environment
	if currentEnv == "" {
		currentEnv = env.GetApplicationEnvSafe()
	}
	if err := env.IsEnvironmentValid(currentEnv.String()); err != nil {
		return nil, errors.Wrap(err, "invalid environment")
	}

	if err := registerEncoder(); err != nil {
		return nil, errors.Wrap(err, "failed to register string JSON encoder")
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:       "timestamp",
		LevelKey:      "level",
		NameKey:       NameKey,
		CallerKey:     "caller",
		FunctionKey:   zapcore.OmitKey,
		MessageKey:    MessageKey,
		StacktraceKey: "stacktrace",
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	switch currentEnv {
	case env.EnvironmentLocal:
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.MessageKey = MessageKey
		config.EncoderConfig.NameKey = NameKey
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	case env.EnvironmentLocalDocker, env.EnvironmentTest, env.EnvironmentDevelopment, env.EnvironmentStaging:
		// JSON logs for Datadog ingestion
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig = encoderConfig
		config.Encoding = StringJSONEncoderName

	case env.EnvironmentProduction:
		config = zap.NewProductionConfig()
		config.EncoderConfig = encoderConfig
		config.Encoding = StringJSONEncoderName
		config.Level.SetLevel(zap.InfoLevel)
	}
	options = append(options, zap.AddStacktrace(zap.ErrorLevel))

	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s", LevelEnvKey)
		}
		config.Level.SetLevel(lvl)
	}

	if cfg.File != nil && cfg.File.Filename != "" {
		options = append(options, fileSink(cfg.File, encoderConfig, config.Level))
	}

	options = append(options, zapOpts...)

	logger, err := config.Build(options...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize logger")
	}

	return logger, nil
}

// fileSink tees every entry into a lumberjack rotated file, always JSON encoded.
func fileSink(cfg *FileConfig, encCfg zapcore.EncoderConfig, level zapcore.LevelEnabler) zap.Option {
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), writer, level)
	return zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})
}
