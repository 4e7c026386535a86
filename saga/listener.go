package saga

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saga-commerce/order-service/saga/txlog"
	"github.com/saga-commerce/order-service/saga/undolog"
)

// CompensationEvent carrega o que o passo de compensação local precisa para
// desfazer o efeito de uma transação abortada.
type CompensationEvent struct {
	TransactionID string
	OrderID       int64
}

// CompensationHandler é o destino dos eventos de compensação despachados pelo
// listener. A compensação deve ser idempotente: o mesmo stream pode ser
// reprocessado após um restart.
type CompensationHandler interface {
	CompensateOrder(ctx context.Context, event CompensationEvent) error
}

// RollbackListener mantém, por transação aberta nesta instância, uma
// assinatura dedicada seguindo o stream da transação desde o início. Ao
// observar um registro terminal a assinatura é desfeita: ROLLBACK dispara a
// compensação local e remove o snapshot; COMMIT apenas remove o snapshot,
// para que entradas de transações confirmadas não se acumulem para sempre.
type RollbackListener struct {
	log     txlog.Log
	undo    undolog.Store
	handler CompensationHandler
	logger  *zap.Logger

	// deleteRetry nunca desiste: um snapshot órfão é um vazamento tolerável,
	// mas o delete não pode bloquear o despacho do evento.
	deleteRetry Policy

	mu     sync.Mutex
	subs   map[string]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewRollbackListener cria o listener. Watch só começa a ser chamado quando o
// listener é registrado como JoinObserver do coordenador.
func NewRollbackListener(log txlog.Log, undo undolog.Store, handler CompensationHandler, logger *zap.Logger) *RollbackListener {
	return &RollbackListener{
		log:     log,
		undo:    undo,
		handler: handler,
		logger:  logger,
		deleteRetry: Policy{
			Delay:  100 * time.Millisecond,
			Jitter: 1.0,
		},
		subs: make(map[string]context.CancelFunc),
	}
}

// TransactionJoined implementa JoinObserver: o listener passa a seguir a
// transação assim que esta instância entra nela.
func (l *RollbackListener) TransactionJoined(transactionID string) {
	l.Watch(transactionID)
}

// Watch abre uma assinatura dedicada para a transação. Assinaturas são
// independentes entre si; repetir o Watch de uma transação já seguida não tem
// efeito.
func (l *RollbackListener) Watch(transactionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if _, ok := l.subs[transactionID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.subs[transactionID] = cancel
	l.wg.Add(1)

	go l.tail(ctx, transactionID)
}

// Close desfaz todas as assinaturas vivas e espera os consumidores pararem.
func (l *RollbackListener) Close() {
	l.mu.Lock()
	l.closed = true
	for _, cancel := range l.subs {
		cancel()
	}
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *RollbackListener) tail(ctx context.Context, transactionID string) {
	defer l.wg.Done()
	defer l.forget(transactionID)

	entries, err := l.log.ReadFrom(ctx, transactionID, txlog.OffsetStart)
	if err != nil {
		l.logger.Error("failed to subscribe to transaction stream",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return
	}

	for entry := range entries {
		record, err := DecodeRecord(entry.Data)
		if err != nil {
			l.logger.Warn("skipping malformed transaction record",
				zap.String("transaction_id", transactionID),
				zap.String("offset", entry.Offset),
				zap.Error(err),
			)
			continue
		}

		switch record.State {
		case StateJoin:
			continue

		case StateCommit:
			if err := l.undo.Delete(ctx, transactionID); err != nil {
				l.logger.Warn("leaking undo snapshot of committed transaction",
					zap.String("transaction_id", transactionID),
					zap.Error(err),
				)
			}
			return

		case StateRollback:
			l.compensate(ctx, transactionID)
			return
		}
	}
}

func (l *RollbackListener) compensate(ctx context.Context, transactionID string) {
	snapshot, err := l.undo.Get(ctx, transactionID)
	if errors.Is(err, undolog.ErrSnapshotNotFound) {
		// Já compensada, ou a transação nunca teve passo local aqui.
		l.logger.Debug("no undo snapshot to compensate",
			zap.String("transaction_id", transactionID),
		)
		return
	}
	if err != nil {
		l.logger.Error("failed to read undo snapshot",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return
	}

	event := CompensationEvent{
		TransactionID: transactionID,
		OrderID:       snapshot.OrderID,
	}
	if err := l.handler.CompensateOrder(ctx, event); err != nil {
		l.logger.Error("compensation dispatch failed",
			zap.String("transaction_id", transactionID),
			zap.Int64("order_id", snapshot.OrderID),
			zap.Error(err),
		)
	}

	if err := l.deleteRetry.Do(ctx, func(ctx context.Context) error {
		return l.undo.Delete(ctx, transactionID)
	}); err != nil {
		l.logger.Warn("leaking undo snapshot of rolled back transaction",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
	}
}

func (l *RollbackListener) forget(transactionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cancel, ok := l.subs[transactionID]; ok {
		cancel()
		delete(l.subs, transactionID)
	}
}
