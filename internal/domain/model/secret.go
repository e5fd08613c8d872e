package model

import "time"

// Secret is a provider credential held by the vault. Value is plaintext only
// in memory; the persisted form is AES-256-GCM ciphertext when IsEncrypted.
type Secret struct {
	Key         string
	Value       string
	IsEncrypted bool
	IsActive    bool
	Category    string
	UpdatedAt   time.Time
}
