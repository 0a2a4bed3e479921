package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

const defaultEnvFile = ".env"

var (
	mu          sync.Mutex
	envFilePath string
	exported    map[string]bool
)

// SetEnvFile overrides the env file read before decoding. An empty path
// falls back to ./.env when it exists.
func SetEnvFile(path string) {
	mu.Lock()
	defer mu.Unlock()
	envFilePath = strings.TrimSpace(path)
}

func MustNew[T any](prefix string) *T {
	conf, err := New[T](prefix)
	if err != nil {
		panic(err)
	}
	return conf
}

func New[T any](prefix string) (*T, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, fmt.Errorf("decode %T: %w", conf, err)
	}

	return &conf, nil
}

// LookupSuffix returns every environment variable ending with suffix, keyed
// by the part before the suffix. Used for families like WEATHER_MCP_URL.
func LookupSuffix(suffix string) (map[string]string, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	out := map[string]string{}
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasSuffix(key, suffix) {
			continue
		}
		name := strings.TrimSuffix(key, suffix)
		if name == "" || strings.TrimSpace(val) == "" {
			continue
		}
		out[name] = strings.TrimSpace(val)
	}
	return out, nil
}

func loadEnvFile() error {
	mu.Lock()
	defer mu.Unlock()

	if envFilePath != "" {
		if err := exportEnvironment(envFilePath); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		return nil
	}
	if err := exportEnvironmentIfExists(defaultEnvFile); err != nil {
		return fmt.Errorf("failed to load default env file: %w", err)
	}
	return nil
}

func exportEnvironmentIfExists(filepath string) error {
	info, err := os.Stat(filepath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvironment(filepath)
}

// exportEnvironment copies the file's settings into the process environment.
// Variables already set by the process win over the file.
func exportEnvironment(filepath string) error {
	v := viper.New()
	v.SetConfigFile(filepath)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	if exported == nil {
		exported = map[string]bool{}
	}
	for k, val := range v.AllSettings() {
		key := strings.ToUpper(k)
		if _, set := os.LookupEnv(key); set && !exported[key] {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return err
		}
		exported[key] = true
	}

	return nil
}
