//go:build !integration

package postgres

import (
	"context"
	"sync"
	"time"

	"meeting-ai-pipeline/internal/domain"
	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/domain/ports/repository"
	red "meeting-ai-pipeline/internal/infra/redis"
)

// mockInnerMeetingRepo mocks the database repository the decorator wraps.
type mockInnerMeetingRepo struct {
	SaveFunc  func(ctx context.Context, tx repository.Tx, userID string, res *model.JobResult) error
	FindFunc  func(ctx context.Context, tx repository.Tx, jobID string) (*model.JobResult, error)
	findCalls int
}

func (m *mockInnerMeetingRepo) SaveResult(ctx context.Context, tx repository.Tx, userID string, res *model.JobResult) error {
	return m.SaveFunc(ctx, tx, userID, res)
}

func (m *mockInnerMeetingRepo) FindResult(ctx context.Context, tx repository.Tx, jobID string) (*model.JobResult, error) {
	m.findCalls++
	return m.FindFunc(ctx, tx, jobID)
}

// mockRedisClient is an in-memory key/value stand-in. Only the string
// commands are implemented.
type mockRedisClient struct {
	red.RedisClient
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	GetErr  error
	deleted []string
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *mockRedisClient) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return "", m.GetErr
	}
	v, ok := m.data[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (m *mockRedisClient) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	m.ttls[key] = ttl
	return nil
}

func (m *mockRedisClient) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}
