package txlog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// InMemoryLog implementa Log em memória, com as mesmas garantias de ordem e
// de múltiplos consumidores da implementação Redis. Usado em testes e em
// execução local sem infraestrutura.
type InMemoryLog struct {
	mu      sync.RWMutex
	streams map[string][][]byte
	poll    time.Duration
}

// NewInMemoryLog cria um log de transações em memória.
func NewInMemoryLog(pollInterval time.Duration) *InMemoryLog {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &InMemoryLog{
		streams: make(map[string][][]byte),
		poll:    pollInterval,
	}
}

// Append anexa o registro ao stream da transação. Offsets são posições
// 1-based dentro do stream.
func (l *InMemoryLog) Append(ctx context.Context, transactionID string, data []byte) (string, error) {
	record := make([]byte, len(data))
	copy(record, data)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.streams[transactionID] = append(l.streams[transactionID], record)
	return strconv.Itoa(len(l.streams[transactionID])), nil
}

// ReadFrom entrega os registros já existentes a partir do offset e segue o
// stream por polling até o contexto ser cancelado.
func (l *InMemoryLog) ReadFrom(ctx context.Context, transactionID string, offset string) (<-chan Entry, error) {
	cursor, err := parseOffset(offset)
	if err != nil {
		return nil, err
	}

	entries := make(chan Entry)

	go func() {
		defer close(entries)

		for {
			for {
				entry, ok := l.entryAt(transactionID, cursor)
				if !ok {
					break
				}
				select {
				case entries <- entry:
					cursor++
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(l.poll):
			}
		}
	}()

	return entries, nil
}

// FindLatest varre o stream do registro mais novo para o mais antigo.
func (l *InMemoryLog) FindLatest(ctx context.Context, transactionID string, match func(data []byte) bool) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stream := l.streams[transactionID]
	for i := len(stream) - 1; i >= 0; i-- {
		if match(stream[i]) {
			return stream[i], nil
		}
	}

	return nil, ErrRecordNotFound
}

func (l *InMemoryLog) entryAt(transactionID string, index int) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stream := l.streams[transactionID]
	if index >= len(stream) {
		return Entry{}, false
	}
	return Entry{Offset: strconv.Itoa(index + 1), Data: stream[index]}, true
}

func parseOffset(offset string) (int, error) {
	n, err := strconv.Atoi(offset)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid stream offset %q", offset)
	}
	return n, nil
}
