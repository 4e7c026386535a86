package txlog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dataField = "data"

// RedisLog implementa Log sobre Redis Streams. Cada transação vive em um
// stream próprio, com a chave igual ao id da transação, então streams de
// transações distintas não se ordenam entre si.
type RedisLog struct {
	client *redis.Client
	poll   time.Duration
}

// NewRedisLog cria um log de transações sobre o client Redis informado.
// pollInterval limita o bloqueio de cada XREAD durante o live-tailing;
// zero usa DefaultPollInterval.
func NewRedisLog(client *redis.Client, pollInterval time.Duration) *RedisLog {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &RedisLog{
		client: client,
		poll:   pollInterval,
	}
}

// Append anexa o registro via XADD e retorna o id do stream como offset.
func (l *RedisLog) Append(ctx context.Context, transactionID string, data []byte) (string, error) {
	offset, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: transactionID,
		Values: map[string]interface{}{dataField: string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append transaction record: %w", err)
	}
	return offset, nil
}

// ReadFrom segue o stream da transação com XREAD bloqueante, repassando os
// registros pelo canal até o contexto ser cancelado.
func (l *RedisLog) ReadFrom(ctx context.Context, transactionID string, offset string) (<-chan Entry, error) {
	entries := make(chan Entry)

	go func() {
		defer close(entries)

		cursor := offset
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := l.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{transactionID, cursor},
				Block:   l.poll,
			}).Result()
			if err != nil {
				if err == redis.Nil {
					// Block timeout sem registros novos.
					continue
				}
				if ctx.Err() != nil {
					return
				}
				time.Sleep(l.poll)
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					data, ok := msg.Values[dataField].(string)
					if !ok {
						continue
					}
					select {
					case entries <- Entry{Offset: msg.ID, Data: []byte(data)}:
						cursor = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return entries, nil
}

// FindLatest varre o stream do registro mais novo para o mais antigo
// (XREVRANGE) e retorna o primeiro que satisfizer o predicado.
func (l *RedisLog) FindLatest(ctx context.Context, transactionID string, match func(data []byte) bool) ([]byte, error) {
	msgs, err := l.client.XRevRange(ctx, transactionID, "+", "-").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction stream: %w", err)
	}

	for _, msg := range msgs {
		data, ok := msg.Values[dataField].(string)
		if !ok {
			continue
		}
		if match([]byte(data)) {
			return []byte(data), nil
		}
	}

	return nil, ErrRecordNotFound
}
