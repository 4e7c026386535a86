package saga

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/saga-commerce/order-service/saga/txlog"
	"github.com/saga-commerce/order-service/saga/undolog"
)

// JoinObserver é notificado de forma síncrona sempre que esta instância entra
// em uma transação. O listener de rollback se registra aqui para começar a
// seguir o stream da transação imediatamente após o join.
type JoinObserver interface {
	TransactionJoined(transactionID string)
}

// Coordinator orquestra o ciclo de vida de transações distribuídas contra o
// log de transações e o undo log. Várias réplicas podem compartilhar o mesmo
// log físico: cada uma só considera sua uma transação cujo registro carrega a
// própria identidade de servidor.
type Coordinator struct {
	serverID string
	log      txlog.Log
	undo     undolog.Store
	observer JoinObserver
	logger   *zap.Logger
}

// NewCoordinator cria um coordenador identificado por serverID.
func NewCoordinator(serverID string, log txlog.Log, undo undolog.Store, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		serverID: serverID,
		log:      log,
		undo:     undo,
		logger:   logger,
	}
}

// SetJoinObserver registra o observador notificado a cada join bem-sucedido.
func (c *Coordinator) SetJoinObserver(observer JoinObserver) {
	c.observer = observer
}

// Join anexa um registro JOIN com a identidade desta instância e grava o
// snapshot compensatório no undo log. Se a gravação do snapshot falhar o join
// inteiro falha: sem snapshot não haveria como compensar a transação depois.
func (c *Coordinator) Join(ctx context.Context, transactionID string, snapshot undolog.OrderSnapshot) (string, error) {
	record := Record{
		TransactionID: transactionID,
		State:         StateJoin,
		Join: &JoinPayload{
			ServerID: c.serverID,
			UndoKey:  undolog.Key(transactionID),
		},
	}

	if err := c.append(ctx, record); err != nil {
		return "", fmt.Errorf("failed to join transaction %q: %w", transactionID, err)
	}

	if err := c.undo.Put(ctx, transactionID, snapshot); err != nil {
		return "", fmt.Errorf("join of transaction %q aborted, undo snapshot was not stored: %w", transactionID, err)
	}

	if c.observer != nil {
		c.observer.TransactionJoined(transactionID)
	}

	c.logger.Info("joined transaction",
		zap.String("transaction_id", transactionID),
		zap.Int64("order_id", snapshot.OrderID),
	)
	return transactionID, nil
}

// Commit anexa um registro COMMIT. Falha com ErrTransactionNotFound se esta
// instância não tiver registro próprio para a transação.
func (c *Coordinator) Commit(ctx context.Context, transactionID string) error {
	if _, err := c.findOwned(ctx, transactionID); err != nil {
		return err
	}

	record := Record{
		TransactionID: transactionID,
		State:         StateCommit,
		Commit:        &CommitPayload{ServerID: c.serverID},
	}
	if err := c.append(ctx, record); err != nil {
		return fmt.Errorf("failed to commit transaction %q: %w", transactionID, err)
	}

	c.logger.Info("committed transaction", zap.String("transaction_id", transactionID))
	return nil
}

// Rollback anexa um registro ROLLBACK com a causa do aborto. Mesma
// precondição de posse do Commit.
func (c *Coordinator) Rollback(ctx context.Context, transactionID string, cause string) error {
	if _, err := c.findOwned(ctx, transactionID); err != nil {
		return err
	}

	record := Record{
		TransactionID: transactionID,
		State:         StateRollback,
		Rollback:      &RollbackPayload{ServerID: c.serverID, Cause: cause},
	}
	if err := c.append(ctx, record); err != nil {
		return fmt.Errorf("failed to roll back transaction %q: %w", transactionID, err)
	}

	c.logger.Info("rolled back transaction",
		zap.String("transaction_id", transactionID),
		zap.String("cause", cause),
	)
	return nil
}

// Exists verifica se esta instância participa da transação, como precondição
// para um chamador juntar um segundo passo a uma transação já aberta.
func (c *Coordinator) Exists(ctx context.Context, transactionID string) (string, error) {
	if _, err := c.findOwned(ctx, transactionID); err != nil {
		return "", err
	}
	return transactionID, nil
}

func (c *Coordinator) append(ctx context.Context, record Record) error {
	data, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	_, err = c.log.Append(ctx, record.TransactionID, data)
	return err
}

func (c *Coordinator) findOwned(ctx context.Context, transactionID string) (Record, error) {
	data, err := c.log.FindLatest(ctx, transactionID, func(data []byte) bool {
		record, err := DecodeRecord(data)
		return err == nil && record.ServerID() == c.serverID
	})
	if errors.Is(err, txlog.ErrRecordNotFound) {
		return Record{}, fmt.Errorf("cannot find opened transaction %q: %w", transactionID, ErrTransactionNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to look up transaction %q: %w", transactionID, err)
	}
	return DecodeRecord(data)
}
