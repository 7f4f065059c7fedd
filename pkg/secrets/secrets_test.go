package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/richxcame/risk-engine/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	name    ProviderType
	secrets map[string]Secret
	err     error
	calls   int
}

func (f *fakeFetcher) Name() ProviderType { return f.name }

func (f *fakeFetcher) Fetch(_ context.Context, ref Reference) (Secret, error) {
	f.calls++
	if f.err != nil {
		return Secret{}, f.err
	}
	s, ok := f.secrets[ref.Path]
	if !ok {
		return Secret{}, errors.New("not found")
	}
	return s, nil
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Reference
		wantErr bool
	}{
		{name: "path only", raw: "risk/db", want: Reference{Path: "risk/db"}},
		{name: "with key", raw: "risk/db#password", want: Reference{Path: "risk/db", Key: "password"}},
		{name: "provider and mount", raw: "vault://kv::risk/db#password", want: Reference{Provider: ProviderVault, Mount: "kv", Path: "risk/db", Key: "password"}},
		{name: "trims slashes", raw: " /risk/jwt/ ", want: Reference{Path: "risk/jwt"}},
		{name: "empty", raw: "   ", wantErr: true},
		{name: "key only", raw: "#password", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReference(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidReference)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManager_ResolveCaches(t *testing.T) {
	f := &fakeFetcher{
		name: ProviderVault,
		secrets: map[string]Secret{
			"risk/db": {Data: map[string]string{"password": "s3cret"}},
		},
	}
	m := newManager(f, time.Minute)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	v, err := m.Resolve(context.Background(), "risk/db#password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	_, err = m.Resolve(context.Background(), "vault://risk/db#password")
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)

	now = now.Add(2 * time.Minute)
	_, err = m.Resolve(context.Background(), "risk/db#password")
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
}

func TestManager_ResolveDefaultsToValueKey(t *testing.T) {
	f := &fakeFetcher{
		name:    ProviderAWS,
		secrets: map[string]Secret{"risk/jwt": {Data: parseSecretString("plain-text-secret")}},
	}
	m := newManager(f, 0)

	v, err := m.Resolve(context.Background(), "risk/jwt")
	require.NoError(t, err)
	assert.Equal(t, "plain-text-secret", v)
}

func TestManager_ResolveErrors(t *testing.T) {
	f := &fakeFetcher{
		name:    ProviderVault,
		secrets: map[string]Secret{"risk/db": {Data: map[string]string{"user": "risk"}}},
	}
	m := newManager(f, time.Minute)

	_, err := m.Resolve(context.Background(), "risk/db#password")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = m.Resolve(context.Background(), "aws://risk/db#user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")

	f.err = errors.New("vault sealed")
	_, err = m.Resolve(context.Background(), "risk/other#x")
	assert.EqualError(t, err, "vault sealed")
}

func TestNewManager_NoProvider(t *testing.T) {
	_, err := NewManager(context.Background(), config.SecretsConfig{})
	assert.ErrorIs(t, err, ErrProviderNotConfigured)

	_, err = NewManager(context.Background(), config.SecretsConfig{Provider: "gcp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")

	_, err = NewManager(context.Background(), config.SecretsConfig{Provider: "vault"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires address and token")
}

func TestParseSecretString(t *testing.T) {
	assert.Equal(t, map[string]string{"password": "p", "user": "u"}, parseSecretString(`{"user":"u","password":"p"}`))
	assert.Equal(t, map[string]string{"value": "raw"}, parseSecretString("raw"))
	assert.Empty(t, parseSecretString(""))
}

func TestApplyToConfig(t *testing.T) {
	f := &fakeFetcher{
		name: ProviderVault,
		secrets: map[string]Secret{
			"risk/db":  {Data: map[string]string{"password": "db-pass"}},
			"risk/jwt": {Data: map[string]string{"value": "jwt-secret"}},
		},
	}

	cfg := &config.Config{
		Database: config.DatabaseConfig{Password: "default", PasswordRef: "risk/db#password"},
		JWT:      config.JWTConfig{Secret: "default", SecretRef: "risk/jwt"},
	}

	require.NoError(t, ApplyToConfig(context.Background(), cfg, newManager(f, time.Minute)))
	assert.Equal(t, "db-pass", cfg.Database.Password)
	assert.Equal(t, "jwt-secret", cfg.JWT.Secret)
}

func TestApplyToConfig_NoRefs(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Password: "postgres"}}
	require.NoError(t, ApplyToConfig(context.Background(), cfg, nil))
	assert.Equal(t, "postgres", cfg.Database.Password)
}

func TestApplyToConfig_RefWithoutProvider(t *testing.T) {
	cfg := &config.Config{JWT: config.JWTConfig{SecretRef: "risk/jwt"}}
	err := ApplyToConfig(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}
