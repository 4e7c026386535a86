package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/saga-commerce/order-service/saga/txlog"
	"github.com/saga-commerce/order-service/saga/undolog"
)

// capturingHandler coleta os eventos de compensação despachados.
type capturingHandler struct {
	mu     sync.Mutex
	events []CompensationEvent
}

func (h *capturingHandler) CompensateOrder(ctx context.Context, event CompensationEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *capturingHandler) captured() []CompensationEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]CompensationEvent(nil), h.events...)
}

type sagaFixture struct {
	log         *txlog.InMemoryLog
	undo        *undolog.InMemoryStore
	coordinator *Coordinator
	listener    *RollbackListener
	handler     *capturingHandler
}

func newSagaFixture(serverID string) *sagaFixture {
	log := txlog.NewInMemoryLog(testPollInterval)
	undo := undolog.NewInMemoryStore()
	handler := &capturingHandler{}
	listener := NewRollbackListener(log, undo, handler, zap.NewNop())
	coordinator := NewCoordinator(serverID, log, undo, zap.NewNop())
	coordinator.SetJoinObserver(listener)
	return &sagaFixture{
		log:         log,
		undo:        undo,
		coordinator: coordinator,
		listener:    listener,
		handler:     handler,
	}
}

func eventually(t *testing.T, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(testPollInterval)
	}
	t.Fatal(msg)
}

// Cenário: transação confirmada nunca gera compensação, e o snapshot é
// limpo para não acumular entradas de transações confirmadas.
func TestCommittedTransactionIsNotCompensated(t *testing.T) {
	// Arrange
	ctx := context.Background()
	fx := newSagaFixture("server-a")
	defer fx.listener.Close()

	_, err := fx.coordinator.Join(ctx, "tx-commit", undolog.OrderSnapshot{OrderID: 1, State: "PENDING"})
	assert.NoError(t, err)

	// Act
	assert.NoError(t, fx.coordinator.Commit(ctx, "tx-commit"))

	// Assert
	eventually(t, func() bool {
		_, err := fx.undo.Get(ctx, "tx-commit")
		return errors.Is(err, undolog.ErrSnapshotNotFound)
	}, "undo snapshot of committed transaction was not cleaned up")
	assert.Empty(t, fx.handler.captured())
}

// Cenário: rollback despacha exatamente uma compensação com o order id do
// snapshot, e o snapshot é removido em seguida.
func TestRollbackDispatchesExactlyOneCompensation(t *testing.T) {
	// Arrange
	ctx := context.Background()
	fx := newSagaFixture("server-a")
	defer fx.listener.Close()

	_, err := fx.coordinator.Join(ctx, "tx-rollback", undolog.OrderSnapshot{OrderID: 2, State: "PENDING"})
	assert.NoError(t, err)

	// Act
	assert.NoError(t, fx.coordinator.Rollback(ctx, "tx-rollback", "payment rejected"))

	// Assert
	eventually(t, func() bool {
		return len(fx.handler.captured()) == 1
	}, "compensation event was not dispatched")

	events := fx.handler.captured()
	assert.Equal(t, int64(2), events[0].OrderID)
	assert.Equal(t, "tx-rollback", events[0].TransactionID)

	eventually(t, func() bool {
		_, err := fx.undo.Get(ctx, "tx-rollback")
		return errors.Is(err, undolog.ErrSnapshotNotFound)
	}, "undo snapshot was not deleted after compensation")

	// Nenhum segundo evento aparece depois.
	time.Sleep(5 * testPollInterval)
	assert.Len(t, fx.handler.captured(), 1)
}

// Cenário: transações independentes abortadas concorrentemente compensam
// cada uma o seu pedido, sem entrega cruzada.
func TestConcurrentRollbacksDoNotCrossDeliver(t *testing.T) {
	// Arrange
	ctx := context.Background()
	fx := newSagaFixture("server-a")
	defer fx.listener.Close()

	_, err := fx.coordinator.Join(ctx, "tx-3", undolog.OrderSnapshot{OrderID: 3, State: "PENDING"})
	assert.NoError(t, err)
	_, err = fx.coordinator.Join(ctx, "tx-4", undolog.OrderSnapshot{OrderID: 4, State: "PENDING"})
	assert.NoError(t, err)

	// Act
	var wg sync.WaitGroup
	for _, transactionID := range []string{"tx-3", "tx-4"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, fx.coordinator.Rollback(ctx, id, "boom"))
		}(transactionID)
	}
	wg.Wait()

	// Assert
	eventually(t, func() bool {
		return len(fx.handler.captured()) == 2
	}, "expected one compensation per transaction")

	byTransaction := map[string]int64{}
	for _, event := range fx.handler.captured() {
		byTransaction[event.TransactionID] = event.OrderID
	}
	assert.Equal(t, map[string]int64{"tx-3": 3, "tx-4": 4}, byTransaction)
}

// Sem snapshot não há o que compensar: a transação pode já ter sido
// compensada, ou nunca teve passo local.
func TestRollbackWithoutSnapshotDispatchesNothing(t *testing.T) {
	// Arrange
	ctx := context.Background()
	fx := newSagaFixture("server-a")
	defer fx.listener.Close()

	_, err := fx.coordinator.Join(ctx, "tx-5", undolog.OrderSnapshot{OrderID: 5, State: "PENDING"})
	assert.NoError(t, err)
	assert.NoError(t, fx.undo.Delete(ctx, "tx-5"))

	// Act
	assert.NoError(t, fx.coordinator.Rollback(ctx, "tx-5", "boom"))

	// Assert: a assinatura termina sem despachar nada.
	eventually(t, func() bool {
		fx.listener.mu.Lock()
		defer fx.listener.mu.Unlock()
		_, ok := fx.listener.subs["tx-5"]
		return !ok
	}, "subscription was not torn down")
	assert.Empty(t, fx.handler.captured())
}

func TestSubscriptionIsTornDownAfterTerminalRecord(t *testing.T) {
	// Arrange
	ctx := context.Background()
	fx := newSagaFixture("server-a")
	defer fx.listener.Close()

	_, err := fx.coordinator.Join(ctx, "tx-6", undolog.OrderSnapshot{OrderID: 6, State: "PENDING"})
	assert.NoError(t, err)

	fx.listener.mu.Lock()
	_, subscribed := fx.listener.subs["tx-6"]
	fx.listener.mu.Unlock()
	assert.True(t, subscribed)

	// Act
	assert.NoError(t, fx.coordinator.Commit(ctx, "tx-6"))

	// Assert
	eventually(t, func() bool {
		fx.listener.mu.Lock()
		defer fx.listener.mu.Unlock()
		_, ok := fx.listener.subs["tx-6"]
		return !ok
	}, "subscription survived the terminal record")
}

func TestWatchAfterCloseIsNoop(t *testing.T) {
	// Arrange
	fx := newSagaFixture("server-a")
	fx.listener.Close()

	// Act
	fx.listener.Watch("tx-late")

	// Assert
	fx.listener.mu.Lock()
	defer fx.listener.mu.Unlock()
	assert.Empty(t, fx.listener.subs)
}
