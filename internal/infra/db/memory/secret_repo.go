package memory

import (
	"context"
	"sync"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
)

var _ repository.SecretRepository = (*SecretRepo)(nil)

type SecretRepo struct {
	mu      sync.RWMutex
	secrets map[string]*model.Secret
}

func NewSecretRepo() *SecretRepo {
	return &SecretRepo{secrets: make(map[string]*model.Secret)}
}

func (r *SecretRepo) Upsert(_ context.Context, _ repository.Tx, s *model.Secret) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.secrets[s.Key] = &cp
	return nil
}

func (r *SecretRepo) FindByKey(_ context.Context, _ repository.Tx, key string) (*model.Secret, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.secrets[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *SecretRepo) SetActive(_ context.Context, _ repository.Tx, key string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.secrets[key]
	if !ok {
		return domain.ErrNotFound
	}
	s.IsActive = active
	return nil
}
