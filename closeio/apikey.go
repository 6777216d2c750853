package closeio

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cenkalti/backoff/v4"
	"github.com/ellogroup/ello-golang-cache/cache"
	"github.com/ellogroup/ello-golang-cache/driver"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const keyCacheTtl = 15 * time.Minute

// StaticKey is an API key given on the command line or in the environment.
type StaticKey string

func (k StaticKey) Get(_ context.Context) (string, error) {
	if k == "" {
		return "", fmt.Errorf("api key is empty")
	}
	return string(k), nil
}

// SecretGetter is the part of *secretsmanager.Client used to read API keys.
type SecretGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type KeyParams struct {
	SMClient SecretGetter `validate:"required"`
	SMKey    string       `validate:"required"`
	Backoff  backoff.BackOff
}

// SecretKeyFetcher reads a Close API key from AWS Secrets Manager.
// The secret is either the raw key or a JSON object with an `apiKey` field.
type SecretKeyFetcher struct {
	sm      SecretGetter
	smKey   string
	backoff backoff.BackOff
}

type secretPayload struct {
	ApiKey string `json:"apiKey"`
}

func NewSecretKeyFetcher(p KeyParams) (*SecretKeyFetcher, error) {
	if err := validateKeyParams(p); err != nil {
		return nil, err
	}

	b := p.Backoff
	if b == nil {
		b = backoff.NewExponentialBackOff()
	}

	return &SecretKeyFetcher{
		sm:      p.SMClient,
		smKey:   p.SMKey,
		backoff: b,
	}, nil
}

func validateKeyParams(p KeyParams) error {
	validate := validator.New()
	if err := validate.Struct(p); err != nil {
		return err
	}
	return nil
}

func (kf SecretKeyFetcher) Fetch(ctx context.Context) (string, error) {
	return backoff.RetryWithData[string](func() (string, error) {
		out, err := kf.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(kf.smKey),
		})
		if err != nil {
			return "", fmt.Errorf("unable to fetch api key from secrets manager: %w", err)
		}
		key, err := parseSecret(aws.ToString(out.SecretString))
		if err != nil {
			return "", backoff.Permanent(err)
		}
		return key, nil
	}, backoff.WithContext(kf.backoff, ctx))
}

func parseSecret(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var p secretPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return "", fmt.Errorf("unable to parse api key secret: %w", err)
		}
		raw = strings.TrimSpace(p.ApiKey)
	}
	if raw == "" {
		return "", fmt.Errorf("api key secret is empty")
	}
	return raw, nil
}

type KeyCache struct {
	c *cache.KeylessRecordCache[string]
}

// NewKeyCacheWithLogger keeps the secret-backed API key in memory, refreshed asynchronously
// with cache.KeylessRecordCache so long runs pick up a rotated key.
func NewKeyCacheWithLogger(p KeyParams, log *zap.Logger) (*KeyCache, error) {
	kf, err := NewSecretKeyFetcher(p)
	if err != nil {
		return nil, err
	}
	return &KeyCache{
		cache.NewKeylessRecordCacheAsyncWithLogger[string](
			driver.NewMemoryCache[int, cache.RecordCacheItem[string]](),
			kf,
			keyCacheTtl,
			log.Named("CloseApiKeyCache"),
		),
	}, nil
}

func (kc KeyCache) Get(ctx context.Context) (string, error) {
	return kc.c.Get(ctx)
}
