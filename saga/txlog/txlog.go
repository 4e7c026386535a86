// Package txlog implementa o log de transações: um stream append-only,
// ordenado por inserção, com múltiplos consumidores independentes por
// transação.
package txlog

import (
	"context"
	"errors"
	"time"
)

// OffsetStart lê o stream de uma transação desde o primeiro registro.
const OffsetStart = "0"

// DefaultPollInterval limita a latência de entrega para consumidores em
// live-tailing: novos registros são observados dentro desse intervalo.
const DefaultPollInterval = 100 * time.Millisecond

// ErrRecordNotFound indica que nenhum registro satisfez o predicado de busca.
var ErrRecordNotFound = errors.New("transaction record not found")

// Entry é um registro lido do stream de uma transação, com o offset a partir
// do qual a leitura pode ser retomada.
type Entry struct {
	Offset string
	Data   []byte
}

// Log é o contrato do log de transações. Registros são imutáveis depois de
// anexados, e a ordem de inserção é preservada dentro de cada transação.
type Log interface {
	// Append anexa um registro ao stream da transação e retorna seu offset.
	Append(ctx context.Context, transactionID string, data []byte) (string, error)

	// ReadFrom segue o stream da transação a partir do offset informado
	// (OffsetStart para ler desde o início). O canal é fechado quando o
	// contexto é cancelado. Cada chamada mantém um cursor independente.
	ReadFrom(ctx context.Context, transactionID string, offset string) (<-chan Entry, error)

	// FindLatest retorna o registro mais recente da transação que satisfaz o
	// predicado, ou ErrRecordNotFound.
	FindLatest(ctx context.Context, transactionID string, match func(data []byte) bool) ([]byte, error)
}
