// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/adapter"
)

// mockGateway lets each test script the provider's behavior per call.
type mockGateway struct {
	name            model.Provider
	InitiateFunc    func(ctx context.Context, a *model.PaymentAttempt) (*adapter.InitiateResult, error)
	ConfirmFunc     func(ctx context.Context, req adapter.WebhookRequest) (*adapter.Outcome, error)
	CheckStatusFunc func(ctx context.Context, providerRef string) (*adapter.Outcome, error)

	initiateCalls int
	statusCalls   int
}

func (m *mockGateway) Name() model.Provider { return m.name }

func (m *mockGateway) Initiate(ctx context.Context, a *model.PaymentAttempt) (*adapter.InitiateResult, error) {
	m.initiateCalls++
	return m.InitiateFunc(ctx, a)
}

func (m *mockGateway) Confirm(ctx context.Context, req adapter.WebhookRequest) (*adapter.Outcome, error) {
	return m.ConfirmFunc(ctx, req)
}

func (m *mockGateway) CheckStatus(ctx context.Context, providerRef string) (*adapter.Outcome, error) {
	m.statusCalls++
	return m.CheckStatusFunc(ctx, providerRef)
}

// fakeRedisClient is an in-process stand-in for the redis client, just enough
// for the status cache.
type fakeRedisClient struct {
	mu    sync.Mutex
	store map[string]string
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{store: make(map[string]string)}
}

func (c *fakeRedisClient) Ping(context.Context) error { return nil }

func (c *fakeRedisClient) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		c.store[key] = string(v)
	case string:
		c.store[key] = v
	}
	return nil
}

func (c *fakeRedisClient) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (c *fakeRedisClient) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.store, k)
	}
	return nil
}

func (c *fakeRedisClient) Close() error { return nil }
