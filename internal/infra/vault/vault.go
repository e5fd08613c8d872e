// File: internal/infra/vault/vault.go
package vault

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
	"coursepay/internal/infra/metrics"
	"coursepay/internal/infra/security"
)

const defaultCacheTTL = 5 * time.Minute

// essentialKeys is the fixed allowlist of bootstrap-only keys that the
// process reads from its environment and that the persisted store never
// shadows. Everything else is store-first: provider credentials rotate live
// by updating the store, without a restart.
var essentialKeys = map[string]string{
	"database_url":  "DATABASE_URL",
	"master_secret": "MASTER_SECRET",
	"redis_url":     "REDIS_URL",
}

func IsEssential(key string) bool {
	_, ok := essentialKeys[key]
	return ok
}

type cacheEntry struct {
	secret    model.Secret
	expiresAt time.Time
}

// secretCache is owned by the Vault and injected nowhere else; it holds
// plaintext values only, never ciphertext.
type secretCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

func newSecretCache(ttl time.Duration) *secretCache {
	return &secretCache{entries: make(map[string]cacheEntry), ttl: ttl}
}

func (c *secretCache) get(key string) (*model.Secret, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	s := e.secret
	return &s, true
}

func (c *secretCache) put(key string, s model.Secret) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{secret: s, expiresAt: time.Now().Add(c.ttl)}
}

func (c *secretCache) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Vault is the credential store for provider secrets: encrypted at rest,
// plaintext in a short-lived in-process cache, with env-var fallback reserved
// for the subsystem's own bootstrap keys.
type Vault struct {
	repo  repository.SecretRepository
	enc   *security.EncryptionService
	cache *secretCache
	env   func(string) string // stubbed in tests
	log   *zerolog.Logger
}

func New(repo repository.SecretRepository, enc *security.EncryptionService, logger *zerolog.Logger) *Vault {
	return &Vault{
		repo:  repo,
		enc:   enc,
		cache: newSecretCache(defaultCacheTTL),
		env:   os.Getenv,
		log:   logger,
	}
}

// Get resolves a secret by key. Lookup order: essential allowlist (env
// first), in-process cache, persisted store, then fallbackEnv only when the
// store itself is unavailable. Inactive keys resolve to nil regardless of
// what the cache still holds. A decryption failure degrades to the stored
// value unchanged: the caller sees a value that does not look decrypted and
// treats it as a configuration error, the process does not crash and the
// ciphertext is what it already had.
func (v *Vault) Get(ctx context.Context, key, fallbackEnv string) (*model.Secret, error) {
	if envVar, ok := essentialKeys[key]; ok {
		if val := v.env(envVar); val != "" {
			return &model.Secret{Key: key, Value: val, IsActive: true, Category: "bootstrap"}, nil
		}
	}

	if s, ok := v.cache.get(key); ok {
		metrics.IncVaultCache("hit")
		if !s.IsActive {
			return nil, nil
		}
		return s, nil
	}
	metrics.IncVaultCache("miss")

	stored, err := v.repo.FindByKey(ctx, nil, key)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, nil
		}
		// Store unavailable: the env fallback exists only for the vault's own
		// bootstrap configuration, never for user financial data.
		if fallbackEnv != "" {
			if val := v.env(fallbackEnv); val != "" {
				v.log.Warn().Str("key", key).Str("env", fallbackEnv).Msg("secret store unavailable, using environment fallback")
				return &model.Secret{Key: key, Value: val, IsActive: true, Category: "fallback"}, nil
			}
		}
		return nil, fmt.Errorf("vault lookup %q: %w", key, err)
	}

	out := *stored
	if stored.IsEncrypted {
		pt, decErr := v.enc.Decrypt(stored.Value)
		if decErr != nil {
			metrics.IncVaultDecryptFailure()
			v.log.Error().Err(decErr).Str("key", key).Msg("secret decryption failed, returning stored value as-is")
			// Never cached: the cache holds plaintext only, and the next read
			// must retry decryption so a key rotation takes effect at once.
			if !out.IsActive {
				return nil, nil
			}
			return &out, nil
		}
		out.Value = pt
	}

	v.cache.put(key, out)
	if !out.IsActive {
		return nil, nil
	}
	return &out, nil
}

// Set encrypts the value when sensitive, upserts it, and refreshes the cache
// with the plaintext so readers never see ciphertext.
func (v *Vault) Set(ctx context.Context, key, value, category string, sensitive bool) error {
	stored := value
	if sensitive {
		ct, err := v.enc.Encrypt(value)
		if err != nil {
			return fmt.Errorf("vault encrypt %q: %w", key, err)
		}
		stored = ct
	}
	s := &model.Secret{
		Key:         key,
		Value:       stored,
		IsEncrypted: sensitive,
		IsActive:    true,
		Category:    category,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := v.repo.Upsert(ctx, nil, s); err != nil {
		return fmt.Errorf("vault upsert %q: %w", key, err)
	}

	cached := *s
	cached.Value = value
	v.cache.put(key, cached)
	return nil
}

// ToggleActive flips a key on or off. Disabling evicts the cache entry
// immediately so no stale plaintext is served for the rest of the TTL.
func (v *Vault) ToggleActive(ctx context.Context, key string, active bool) error {
	if err := v.repo.SetActive(ctx, nil, key, active); err != nil {
		return fmt.Errorf("vault toggle %q: %w", key, err)
	}
	v.cache.evict(key)
	return nil
}

// Value is a convenience for callers that only need the plaintext. Missing
// or inactive keys come back as domain.ErrInvalidCredentials so gateway
// adapters can surface a configuration fault without retrying.
func (v *Vault) Value(ctx context.Context, key, fallbackEnv string) (string, error) {
	s, err := v.Get(ctx, key, fallbackEnv)
	if err != nil {
		return "", err
	}
	if s == nil || s.Value == "" {
		return "", fmt.Errorf("secret %q: %w", key, domain.ErrInvalidCredentials)
	}
	return s.Value, nil
}
