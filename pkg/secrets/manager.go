package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/richxcame/risk-engine/pkg/config"
	"github.com/richxcame/risk-engine/pkg/logger"
	"go.uber.org/zap"
)

// ProviderType enumerates supported secret backends.
type ProviderType string

const (
	ProviderNone  ProviderType = ""
	ProviderVault ProviderType = "vault"
	ProviderAWS   ProviderType = "aws"
)

var (
	// ErrProviderNotConfigured is returned when a reference is used but no provider is configured.
	ErrProviderNotConfigured = errors.New("secrets: provider not configured")
	// ErrInvalidReference indicates an invalid or empty reference string.
	ErrInvalidReference = errors.New("secrets: invalid reference")
	// ErrKeyNotFound is returned when a requested key does not exist in the secret payload.
	ErrKeyNotFound = errors.New("secrets: key not found")
)

// Reference points at one value inside a secret.
// Syntax: [provider://][mount::]path[#key]
type Reference struct {
	Provider ProviderType
	Mount    string
	Path     string
	Key      string
}

// ParseReference converts a raw reference string into a Reference.
func ParseReference(raw string) (Reference, error) {
	var ref Reference

	clean := strings.TrimSpace(raw)
	if clean == "" {
		return ref, ErrInvalidReference
	}

	if idx := strings.Index(clean, "://"); idx > 0 {
		ref.Provider = ProviderType(clean[:idx])
		clean = clean[idx+3:]
	}

	if idx := strings.Index(clean, "#"); idx >= 0 {
		ref.Key = strings.TrimSpace(clean[idx+1:])
		clean = clean[:idx]
	}

	if idx := strings.Index(clean, "::"); idx >= 0 {
		ref.Mount = strings.Trim(clean[:idx], "/ ")
		clean = clean[idx+2:]
	}

	ref.Path = strings.Trim(strings.TrimSpace(clean), "/")
	if ref.Path == "" {
		return ref, ErrInvalidReference
	}

	return ref, nil
}

func (r Reference) cacheKey() string {
	return r.Mount + "|" + r.Path
}

// Secret is a resolved secret payload.
type Secret struct {
	Data    map[string]string
	Version string
}

// Value returns a single entry from the secret payload.
func (s Secret) Value(key string) (string, bool) {
	val, ok := s.Data[key]
	return val, ok && val != ""
}

type fetcher interface {
	Name() ProviderType
	Fetch(ctx context.Context, ref Reference) (Secret, error)
}

// Manager resolves references against one backend and caches the payloads.
type Manager struct {
	fetcher  fetcher
	cacheTTL time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	secret    Secret
	expiresAt time.Time
}

// NewManager builds a Manager for the configured provider. It returns
// ErrProviderNotConfigured when no provider is selected.
func NewManager(ctx context.Context, cfg config.SecretsConfig) (*Manager, error) {
	var (
		f   fetcher
		err error
	)

	switch ProviderType(cfg.Provider) {
	case ProviderNone:
		return nil, ErrProviderNotConfigured
	case ProviderVault:
		f, err = newVaultFetcher(cfg)
	case ProviderAWS:
		f, err = newAWSFetcher(ctx, cfg)
	default:
		err = fmt.Errorf("secrets: unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return newManager(f, time.Duration(cfg.CacheTTL)*time.Second), nil
}

func newManager(f fetcher, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		fetcher:  f,
		cacheTTL: ttl,
		now:      time.Now,
		cache:    make(map[string]cachedSecret),
	}
}

// Resolve returns the value a raw reference points at. A reference without
// a #key selector resolves to the payload's "value" entry.
func (m *Manager) Resolve(ctx context.Context, raw string) (string, error) {
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}
	if ref.Provider != ProviderNone && ref.Provider != m.fetcher.Name() {
		return "", fmt.Errorf("secrets: reference provider %q does not match manager provider %q", ref.Provider, m.fetcher.Name())
	}

	secret, err := m.get(ctx, ref)
	if err != nil {
		return "", err
	}

	key := ref.Key
	if key == "" {
		key = "value"
	}
	if value, ok := secret.Value(key); ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
}

func (m *Manager) get(ctx context.Context, ref Reference) (Secret, error) {
	now := m.now()

	m.mu.Lock()
	entry, ok := m.cache[ref.cacheKey()]
	m.mu.Unlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.secret, nil
	}

	secret, err := m.fetcher.Fetch(ctx, ref)
	if err != nil {
		logger.Warn("secret fetch failed",
			zap.String("provider", string(m.fetcher.Name())),
			zap.String("secret_path", ref.Path),
			zap.Error(err))
		return Secret{}, err
	}

	m.mu.Lock()
	m.cache[ref.cacheKey()] = cachedSecret{secret: secret, expiresAt: now.Add(m.cacheTTL)}
	m.mu.Unlock()

	logger.Info("secret fetched",
		zap.String("provider", string(m.fetcher.Name())),
		zap.String("secret_path", ref.Path),
		zap.String("version", secret.Version))

	return secret, nil
}

// Resolver is implemented by *Manager
type Resolver interface {
	Resolve(ctx context.Context, raw string) (string, error)
}

// ApplyToConfig replaces credentials in cfg whose *_REF setting is present.
// With no references configured it does nothing, so r may be nil.
func ApplyToConfig(ctx context.Context, cfg *config.Config, r Resolver) error {
	targets := []struct {
		name string
		ref  string
		dst  *string
	}{
		{"DB_PASSWORD_REF", cfg.Database.PasswordRef, &cfg.Database.Password},
		{"JWT_SECRET_REF", cfg.JWT.SecretRef, &cfg.JWT.Secret},
	}

	for _, t := range targets {
		if t.ref == "" {
			continue
		}
		if r == nil {
			return fmt.Errorf("%s is set: %w", t.name, ErrProviderNotConfigured)
		}
		value, err := r.Resolve(ctx, t.ref)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", t.name, err)
		}
		*t.dst = value
	}

	return nil
}
