package undolog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore implementa Store sobre Redis, com snapshots serializados em
// JSON sob a chave "ORDER:<transaction id>".
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore cria um undo log sobre o client Redis informado.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Put grava o snapshot da transação. Uma falha aqui deve abortar o join: uma
// transação nunca pode ser considerada aberta sem snapshot correspondente.
func (s *RedisStore) Put(ctx context.Context, transactionID string, snapshot OrderSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode undo snapshot: %w", err)
	}
	if err := s.client.Set(ctx, Key(transactionID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store undo snapshot: %w", err)
	}
	return nil
}

// Get lê o snapshot da transação, ou ErrSnapshotNotFound.
func (s *RedisStore) Get(ctx context.Context, transactionID string) (OrderSnapshot, error) {
	data, err := s.client.Get(ctx, Key(transactionID)).Bytes()
	if err == redis.Nil {
		return OrderSnapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return OrderSnapshot{}, fmt.Errorf("failed to read undo snapshot: %w", err)
	}

	var snapshot OrderSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return OrderSnapshot{}, fmt.Errorf("failed to decode undo snapshot: %w", err)
	}
	return snapshot, nil
}

// Delete remove o snapshot da transação. Remover uma chave inexistente não é
// erro.
func (s *RedisStore) Delete(ctx context.Context, transactionID string) error {
	if err := s.client.Del(ctx, Key(transactionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete undo snapshot: %w", err)
	}
	return nil
}
