// Package config resolves the settings of a closeutil run. Later sources win: defaults, the
// YAML file given with --config, a .env file, the process environment and finally flags.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	EnvAPIKey       = "CLOSE_API_KEY"
	EnvAPIKeySecret = "CLOSE_API_KEY_SECRET"
	EnvBaseURL      = "CLOSE_BASE_URL"

	DefaultEnvFile = ".env"
)

type Retry struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1"`
	Interval    time.Duration `yaml:"interval"`
}

type Config struct {
	// APIKey is used as is. APIKeySecret names an AWS Secrets Manager secret holding the key.
	APIKey       string `yaml:"api_key" validate:"required_without=APIKeySecret"`
	APIKeySecret string `yaml:"api_key_secret"`
	BaseURL      string `yaml:"base_url" validate:"required,url"`

	Confirmed       bool `yaml:"confirmed"`
	ContinueOnError bool `yaml:"continue_on_error"`
	Concurrency     int  `yaml:"concurrency" validate:"min=1,max=10"`
	ShardSize       int  `yaml:"shard_size" validate:"min=1"`
	Debug           bool `yaml:"debug"`

	Retry Retry `yaml:"retry"`
}

func Default() Config {
	return Config{
		BaseURL:     closeio.DefaultBaseUrl,
		Concurrency: transfer.DefaultConcurrency,
		ShardSize:   transfer.DefaultShardSize,
		Retry: Retry{
			MaxAttempts: closeio.DefaultRetryAttempts,
			Interval:    closeio.DefaultRetryInterval,
		},
	}
}

// Load layers the YAML file (if path is set), the env file and the environment over the
// defaults. A missing env file is not an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	env, err := readEnv(envFile)
	if err != nil {
		return cfg, err
	}
	cfg.applyEnv(env)
	return cfg, nil
}

// readEnv merges the env file under the process environment.
func readEnv(envFile string) (map[string]string, error) {
	env := map[string]string{}
	if envFile != "" {
		fromFile, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read env file %s: %w", envFile, err)
		}
		for k, v := range fromFile {
			env[k] = v
		}
	}
	for _, k := range []string{EnvAPIKey, EnvAPIKeySecret, EnvBaseURL} {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env, nil
}

func (c *Config) applyEnv(env map[string]string) {
	if v := env[EnvAPIKey]; v != "" {
		c.APIKey = v
	}
	if v := env[EnvAPIKeySecret]; v != "" {
		c.APIKeySecret = v
	}
	if v := env[EnvBaseURL]; v != "" {
		c.BaseURL = v
	}
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c Config) RetryPolicy() closeio.RetryPolicy {
	return closeio.RetryPolicy{MaxAttempts: c.Retry.MaxAttempts, Interval: c.Retry.Interval}
}

// KeyGetter returns the configured API key source. A secret is read from AWS Secrets
// Manager with the default AWS credential chain and cached in memory.
func (c Config) KeyGetter(ctx context.Context, log *zap.Logger) (closeio.KeyGetter, error) {
	if c.APIKey != "" {
		return closeio.StaticKey(c.APIKey), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	kc, err := closeio.NewKeyCacheWithLogger(closeio.KeyParams{
		SMClient: secretsmanager.NewFromConfig(awsCfg),
		SMKey:    c.APIKeySecret,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("api key cache: %w", err)
	}
	return kc, nil
}
