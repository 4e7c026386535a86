package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/saga-commerce/order-service/saga"
	"github.com/saga-commerce/order-service/saga/txlog"
	"github.com/saga-commerce/order-service/saga/undolog"
)

// stubRepository guarda pedidos em memória; o fluxo de ponta a ponta precisa
// que a compensação em background leia o que o caso de uso escreveu.
type stubRepository struct {
	mu     sync.Mutex
	orders map[int64]Order
}

func newStubRepository() *stubRepository {
	return &stubRepository{orders: make(map[int64]Order)}
}

func (r *stubRepository) CreateOrder(ctx context.Context, order *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = *order
	return nil
}

func (r *stubRepository) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &order, nil
}

func (r *stubRepository) UpdateOrder(ctx context.Context, order *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = *order
	return nil
}

func (r *stubRepository) state(orderID int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[orderID].State
}

type sagaFlow struct {
	useCase    *OrderUseCase
	listener   *saga.RollbackListener
	repository *stubRepository
	undo       *undolog.InMemoryStore
	payments   *MockPaymentClient
	inventory  *MockInventoryClient
}

func newSagaFlow() *sagaFlow {
	log := txlog.NewInMemoryLog(10 * time.Millisecond)
	undo := undolog.NewInMemoryStore()
	logger := zap.NewNop()

	repository := newStubRepository()
	payments := new(MockPaymentClient)
	inventory := new(MockInventoryClient)

	coordinator := saga.NewCoordinator("server-a", log, undo, logger)
	useCase := NewOrderUseCase(repository, coordinator, payments, inventory, logger.Sugar())

	listener := saga.NewRollbackListener(log, undo, useCase, logger)
	coordinator.SetJoinObserver(listener)

	return &sagaFlow{
		useCase:    useCase,
		listener:   listener,
		repository: repository,
		undo:       undo,
		payments:   payments,
		inventory:  inventory,
	}
}

func (f *sagaFlow) waitUndoCleared(t *testing.T, transactionID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := f.undo.Get(context.Background(), transactionID); errors.Is(err, undolog.ErrSnapshotNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("undo snapshot for transaction %s was not removed", transactionID)
}

// TestPaymentFailureCompensatesOrderEndToEnd exercita o fluxo completo com o
// coordenador e o listener reais sobre stores em memória: a falha de
// pagamento dispara o rollback em background, o listener observa o registro
// terminal e a compensação força o pedido a FAILED.
func TestPaymentFailureCompensatesOrderEndToEnd(t *testing.T) {
	// Arrange
	flow := newSagaFlow()
	defer flow.listener.Close()

	flow.inventory.On("GetProduct", mock.Anything, int64(10)).Return(&ProductResponse{ID: 10, Price: 500}, nil)
	flow.payments.On("RegisterOrder", mock.Anything, mock.Anything).Return(errors.New("payment rejected"))

	// Act
	order, transactionID, err := flow.useCase.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:    1,
		ProductID: 10,
		Quantity:  2,
	})
	flow.useCase.WaitDetached()

	// Assert: a requisição é rejeitada...
	assert.Error(t, err)
	assert.Nil(t, order)

	// ...e a compensação converge em background.
	var orderID int64
	flow.repository.mu.Lock()
	for id := range flow.repository.orders {
		orderID = id
	}
	flow.repository.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for flow.repository.state(orderID) != OrderStateFailed && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, OrderStateFailed, flow.repository.state(orderID))

	// O snapshot de undo é removido depois do despacho.
	flow.waitUndoCleared(t, transactionID)
}

// TestConfirmCommitCleansUndoEndToEnd exercita o caminho feliz: confirmação
// SUCCESS consome o estoque, o commit em background encerra a transação e o
// listener remove o snapshot da transação confirmada.
func TestConfirmCommitCleansUndoEndToEnd(t *testing.T) {
	// Arrange
	flow := newSagaFlow()
	defer flow.listener.Close()

	flow.inventory.On("GetProduct", mock.Anything, int64(10)).Return(&ProductResponse{ID: 10, Price: 500}, nil)
	flow.payments.On("RegisterOrder", mock.Anything, mock.Anything).Return(nil)
	flow.inventory.On("ConsumeProduct", mock.Anything, mock.Anything).Return(nil)

	placed, transactionID, err := flow.useCase.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:    1,
		ProductID: 10,
		Quantity:  2,
	})
	assert.NoError(t, err)

	// Act
	err = flow.useCase.ConfirmOrder(context.Background(), ConfirmOrderRequest{
		TransactionID: transactionID,
		OrderID:       placed.ID,
		ConfirmState:  OrderStateSuccess,
	})
	flow.useCase.WaitDetached()

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, OrderStateSuccess, flow.repository.state(placed.ID))
	flow.inventory.AssertExpectations(t)

	flow.waitUndoCleared(t, transactionID)

	// Nenhuma compensação foi despachada: o pedido segue SUCCESS.
	assert.Equal(t, OrderStateSuccess, flow.repository.state(placed.ID))
}
