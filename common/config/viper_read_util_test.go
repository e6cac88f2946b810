package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbow-me/platform-mdc/common/env"
	"github.com/rainbow-me/platform-mdc/common/test"
)

type testConfig struct {
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	Kafka struct {
		Brokers string `mapstructure:"brokers"`
		Topic   string `mapstructure:"topic"`
	} `mapstructure:"kafka"`
}

const yamlContent = `
http:
  addr: ":3000"
kafka:
  brokers: "env://TEST_KAFKA_BROKERS"
  topic: "orders"
`

// createTempConfig writes <dir>/<dynamicDir>/<appEnv>.yaml and returns dir.
func createTempConfig(t *testing.T, dynamicDir, appEnv, content string) string {
	t.Helper()
	dir := t.TempDir()

	configPath := dir
	if dynamicDir != "" {
		configPath = filepath.Join(dir, dynamicDir)
	}
	require.NoError(t, os.MkdirAll(configPath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configPath, appEnv+".yaml"), []byte(content), 0o644))
	return dir
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		appEnv      string
		dynamicDir  string
		envVars     map[string]string
		options     func(dir string) []ReadConfigOption
		wantErr     bool
		wantAddr    string
		wantBrokers string
	}{
		{
			name:   "absolute path",
			appEnv: "development",
			options: func(dir string) []ReadConfigOption {
				return []ReadConfigOption{WithAbsolutePath(dir)}
			},
			wantAddr: ":3000",
		},
		{
			name:    "placeholder replaced",
			appEnv:  "staging",
			envVars: map[string]string{"TEST_KAFKA_BROKERS": "kafka:9092"},
			options: func(dir string) []ReadConfigOption {
				return []ReadConfigOption{WithAbsolutePath(dir)}
			},
			wantAddr:    ":3000",
			wantBrokers: "kafka:9092",
		},
		{
			name:    "env var overrides file",
			appEnv:  "production",
			envVars: map[string]string{"HTTP_ADDR": ":8080"},
			options: func(dir string) []ReadConfigOption {
				return []ReadConfigOption{WithAbsolutePath(dir)}
			},
			wantAddr: ":8080",
		},
		{
			name:       "dynamic directory",
			appEnv:     "local",
			dynamicDir: "orders",
			options: func(dir string) []ReadConfigOption {
				return []ReadConfigOption{WithAbsolutePath(dir), WithDynamicDir("orders")}
			},
			wantAddr: ":3000",
		},
		{
			name:   "explicit environment",
			appEnv: "staging",
			options: func(dir string) []ReadConfigOption {
				return []ReadConfigOption{WithAbsolutePath(dir), WithEnvironment(env.EnvironmentStaging)}
			},
			wantAddr: ":3000",
		},
		{
			name:   "missing file",
			appEnv: "development",
			options: func(dir string) []ReadConfigOption {
				return []ReadConfigOption{WithAbsolutePath(dir), WithEnvironment(env.EnvironmentProduction)}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := createTempConfig(t, tt.dynamicDir, tt.appEnv, yamlContent)
			t.Setenv(env.ApplicationEnvKey, tt.appEnv)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			var conf testConfig
			err := LoadConfig(&conf, test.NewLogger(t), tt.options(dir)...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, conf.HTTP.Addr)
			assert.Equal(t, tt.wantBrokers, conf.Kafka.Brokers)
			assert.Equal(t, "orders", conf.Kafka.Topic)
		})
	}
}

func TestLoadConfigInvalidEnvironment(t *testing.T) {
	dir := createTempConfig(t, "", "development", yamlContent)
	t.Setenv(env.ApplicationEnvKey, "moon")

	var conf testConfig
	err := LoadConfig(&conf, test.NewLogger(t), WithAbsolutePath(dir))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid environment")
}

func TestLoadConfigRelativePath(t *testing.T) {
	dir := createTempConfig(t, "config", "development", yamlContent)
	t.Chdir(dir)
	t.Setenv(env.ApplicationEnvKey, "development")

	var conf testConfig
	require.NoError(t, LoadConfig(&conf, test.NewLogger(t)))
	assert.Equal(t, ":3000", conf.HTTP.Addr)
}
