package closeio

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type SecretGetterMock struct {
	mock.Mock
}

func (m *SecretGetterMock) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*secretsmanager.GetSecretValueOutput)
	return out, args.Error(1)
}

func newSecretGetterMock(secret string, err error) *SecretGetterMock {
	m := new(SecretGetterMock)
	var out *secretsmanager.GetSecretValueOutput
	if err == nil {
		out = &secretsmanager.GetSecretValueOutput{SecretString: aws.String(secret)}
	}
	m.On("GetSecretValue", mock.Anything, mock.Anything).Return(out, err)
	return m
}

func TestNewSecretKeyFetcher(t *testing.T) {
	tests := []struct {
		name    string
		params  KeyParams
		wantErr assert.ErrorAssertionFunc
	}{
		{
			name:    "all params provided  no error",
			params:  KeyParams{SMClient: new(SecretGetterMock), SMKey: "close/api-key"},
			wantErr: assert.NoError,
		},
		{
			name:    "client missing  error",
			params:  KeyParams{SMKey: "close/api-key"},
			wantErr: assert.Error,
		},
		{
			name:    "secret key missing  error",
			params:  KeyParams{SMClient: new(SecretGetterMock)},
			wantErr: assert.Error,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSecretKeyFetcher(tt.params)
			tt.wantErr(t, err)
		})
	}
}

func TestSecretKeyFetcher_Fetch(t *testing.T) {
	tests := []struct {
		name    string
		sm      *SecretGetterMock
		want    string
		wantErr assert.ErrorAssertionFunc
	}{
		{
			name:    "raw secret  key returned",
			sm:      newSecretGetterMock(" api_123 \n", nil),
			want:    "api_123",
			wantErr: assert.NoError,
		},
		{
			name:    "json secret  apiKey returned",
			sm:      newSecretGetterMock(`{"apiKey":"api_456"}`, nil),
			want:    "api_456",
			wantErr: assert.NoError,
		},
		{
			name:    "empty json secret  error",
			sm:      newSecretGetterMock(`{"other":"x"}`, nil),
			wantErr: assert.Error,
		},
		{
			name:    "secrets manager error  error",
			sm:      newSecretGetterMock("", errors.New("denied")),
			wantErr: assert.Error,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kf, err := NewSecretKeyFetcher(KeyParams{
				SMClient: tt.sm,
				SMKey:    "close/api-key",
				Backoff:  backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1),
			})
			assert.NoError(t, err)

			got, err := kf.Fetch(context.Background())
			if !tt.wantErr(t, err) {
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStaticKey_Get(t *testing.T) {
	got, err := StaticKey("api_1").Get(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "api_1", got)

	_, err = StaticKey("").Get(context.Background())
	assert.Error(t, err)
}
