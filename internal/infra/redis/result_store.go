package redis

import (
	"context"
	"encoding/json"
	"time"

	"meeting-ai-pipeline/internal/domain/model"
	"meeting-ai-pipeline/internal/domain/ports/repository"
)

var _ repository.ResultStore = (*ResultStore)(nil)

// ResultStore keeps task state and results under short-lived keys.
type ResultStore struct {
	client RedisClient
}

func NewResultStore(client RedisClient) *ResultStore {
	return &ResultStore{client: client}
}

func stateKey(taskID string) string  { return "task_status:" + taskID }
func resultKey(taskID string) string { return "task_result:" + taskID }

func (s *ResultStore) SetState(ctx context.Context, state *model.TaskState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, stateKey(state.TaskID), data, ttl)
}

func (s *ResultStore) GetState(ctx context.Context, taskID string) (*model.TaskState, error) {
	data, err := s.client.Get(ctx, stateKey(taskID))
	if err != nil {
		return nil, err
	}

	var state model.TaskState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *ResultStore) SetResult(ctx context.Context, taskID string, result []byte, ttl time.Duration) error {
	return s.client.Set(ctx, resultKey(taskID), result, ttl)
}

func (s *ResultStore) GetResult(ctx context.Context, taskID string) ([]byte, error) {
	data, err := s.client.Get(ctx, resultKey(taskID))
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}
