package jwtkeys

import "errors"

// ErrKeyNotFound is returned when no key matches the requested key id.
var ErrKeyNotFound = errors.New("jwtkeys: signing key not found")

// KeyProvider resolves the HMAC secret used to verify a token.
type KeyProvider interface {
	// ResolveKey returns the secret for the token's "kid" header.
	ResolveKey(kid string) ([]byte, error)
	// LegacyKey returns the secret for tokens issued without a "kid".
	LegacyKey() []byte
}

// StaticProvider serves a single shared secret regardless of key id.
type StaticProvider struct {
	secret []byte
}

// NewStaticProvider returns a provider backed by one secret
func NewStaticProvider(secret string) *StaticProvider {
	return &StaticProvider{secret: []byte(secret)}
}

// ResolveKey ignores kid and returns the configured secret
func (p *StaticProvider) ResolveKey(kid string) ([]byte, error) {
	if len(p.secret) == 0 {
		return nil, ErrKeyNotFound
	}
	return p.secret, nil
}

// LegacyKey returns the configured secret
func (p *StaticProvider) LegacyKey() []byte {
	return p.secret
}
