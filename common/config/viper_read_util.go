package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/rainbow-me/platform-mdc/common/env"
	"github.com/rainbow-me/platform-mdc/common/logger"
)

const (
	fileFormat   = ".yaml"    // File format of the config files
	relativePath = "./config" // Default relative path for config files
	envVarPrefix = "env://"   // Prefix for environment variable placeholders
)

// YamlReadConfig holds the configuration paths (relative and absolute).
type YamlReadConfig struct {
	RelativePath string // Path relative to the current directory
	AbsolutePath string // Absolute path if provided
	DynamicDir   string // Optional dynamic directory
	Environment  env.Environment
}

// ReadConfigOption is a function signature used to set configuration options.
type ReadConfigOption func(*YamlReadConfig)

// WithRelativePath sets a relative path for the config file.
func WithRelativePath(path string) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.RelativePath = path
	}
}

// WithAbsolutePath sets an absolute path for the config file.
func WithAbsolutePath(path string) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.AbsolutePath = path
	}
}

// WithDynamicDir allows setting a dynamic subdirectory for the configuration path.
func WithDynamicDir(dynamicDir string) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.DynamicDir = dynamicDir
	}
}

// WithEnvironment selects the config file instead of the ENVIRONMENT variable.
func WithEnvironment(environment env.Environment) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.Environment = environment
	}
}

// LoadConfig reads <dir>/<ENVIRONMENT>.yaml into conf. Values of the form env://NAME are
// replaced by the NAME environment variable, and every key can be overridden by the
// environment variable of the same name with dots replaced by underscores.
func LoadConfig(conf any, log *logger.Logger, options ...ReadConfigOption) error {
	config := &YamlReadConfig{RelativePath: relativePath}
	for _, option := range options {
		option(config)
	}

	pathToConfigDir := config.RelativePath
	if config.AbsolutePath != "" {
		pathToConfigDir = config.AbsolutePath
	}
	if config.DynamicDir != "" {
		pathToConfigDir = filepath.Join(pathToConfigDir, config.DynamicDir)
	}

	var err error
	currentEnv := config.Environment
	if currentEnv == "" {
		if currentEnv, err = env.GetApplicationEnv(); err != nil {
			return errors.Wrap(err, "invalid environment")
		}
	}

	filePath := filepath.Join(pathToConfigDir, currentEnv.String()+fileFormat)
	log.Info("Reading config file", logger.String("path", filePath))

	v := viper.New()
	v.SetConfigFile(filePath)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read configuration file %s", filePath)
	}

	for _, key := range v.AllKeys() {
		resolvePlaceholder(v, key, log)
	}

	if err = v.Unmarshal(conf); err != nil {
		return errors.Wrap(err, "failed to unmarshal configuration")
	}
	return nil
}

func resolvePlaceholder(v *viper.Viper, key string, log *logger.Logger) {
	str, ok := v.Get(key).(string)
	if !ok || !strings.HasPrefix(str, envVarPrefix) {
		return
	}
	envVar := str[len(envVarPrefix):]
	if envValue, exists := os.LookupEnv(envVar); exists {
		v.Set(key, envValue)
		log.Debug("set environment variable", logger.String("variableName", envVar))
		return
	}
	v.Set(key, "")
	log.Warn("environment variable not found", logger.String("variableName", envVar))
}
