// Package undolog implementa o undo log: um armazenamento chave-valor que
// mapeia id de transação para o snapshot compensatório mínimo necessário
// para desfazer o passo local daquela transação.
package undolog

import (
	"context"
	"errors"
)

// ErrSnapshotNotFound indica que não existe snapshot para a transação.
var ErrSnapshotNotFound = errors.New("undo snapshot not found")

// OrderSnapshot é o estado compensatório de um pedido, gravado no momento em
// que a transação é aberta. Exatamente um snapshot vivo existe por transação
// aberta.
type OrderSnapshot struct {
	OrderID int64 `json:"order_id"`
	// State é o estado do pedido no momento do join. A compensação sempre
	// leva o pedido a FAILED; o estado gravado documenta o ponto de partida.
	State string `json:"state"`
}

// Store é o contrato do undo log. Delete é idempotente: remover uma entrada
// já removida não é erro, então o listener pode reprocessar o mesmo offset
// após um restart sem corromper nada.
type Store interface {
	Put(ctx context.Context, transactionID string, snapshot OrderSnapshot) error
	Get(ctx context.Context, transactionID string) (OrderSnapshot, error)
	Delete(ctx context.Context, transactionID string) error
}

// Key é a chave do snapshot de um pedido no armazenamento subjacente.
func Key(transactionID string) string {
	return "ORDER:" + transactionID
}
