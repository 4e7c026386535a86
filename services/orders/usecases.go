package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saga-commerce/order-service/saga"
	"github.com/saga-commerce/order-service/saga/undolog"
)

// detachedTimeout limita as chamadas de commit/rollback disparadas depois da
// resposta de negócio já ter sido produzida.
const detachedTimeout = 10 * time.Second

// PlaceOrderRequest representa a requisição para criar um pedido. O preço
// não vem do cliente: o preço unitário corrente é resolvido no serviço de
// estoque no momento do pedido.
type PlaceOrderRequest struct {
	UserID    int64 `json:"user_id" binding:"required"`
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int64 `json:"quantity" binding:"required,gt=0"`
}

// ConfirmOrderRequest representa a instrução de confirmação vinda do serviço
// de pagamentos.
type ConfirmOrderRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	OrderID       int64  `json:"order_id" binding:"required"`
	ConfirmState  string `json:"confirm_state" binding:"required,oneof=SUCCESS FAILED"`
}

// TransactionCoordinator abstrai o coordenador de transações distribuídas.
type TransactionCoordinator interface {
	Join(ctx context.Context, transactionID string, snapshot undolog.OrderSnapshot) (string, error)
	Commit(ctx context.Context, transactionID string) error
	Rollback(ctx context.Context, transactionID string, cause string) error
	Exists(ctx context.Context, transactionID string) (string, error)
}

// OrderUseCase contém a lógica de negócio dos pedidos.
type OrderUseCase struct {
	repository  Repository
	coordinator TransactionCoordinator
	payments    PaymentClient
	inventory   InventoryClient
	ids         *idGenerator
	logger      *zap.SugaredLogger

	// persistRetry absorve conflitos de versão e falhas transitórias de
	// conexão; retenta sem limite, com delay fixo e full jitter.
	persistRetry saga.Policy

	// detached rastreia as chamadas de commit/rollback não aguardadas, para
	// que testes e o shutdown possam esperá-las.
	detached sync.WaitGroup
}

// NewOrderUseCase cria uma nova instância de OrderUseCase.
func NewOrderUseCase(
	repository Repository,
	coordinator TransactionCoordinator,
	payments PaymentClient,
	inventory InventoryClient,
	logger *zap.SugaredLogger,
) *OrderUseCase {
	return &OrderUseCase{
		repository:  repository,
		coordinator: coordinator,
		payments:    payments,
		inventory:   inventory,
		ids:         newIDGenerator(),
		logger:      logger,
		persistRetry: saga.Policy{
			Delay:    50 * time.Millisecond,
			Jitter:   1.0,
			Classify: isRetryablePersistenceError,
		},
	}
}

// PlaceOrder resolve o produto no serviço de estoque, cria um pedido PENDING
// com o preço unitário corrente, abre a transação distribuída e registra o
// pedido no serviço de pagamentos. Uma falha de pagamento dispara o rollback
// da transação e rejeita a requisição.
func (uc *OrderUseCase) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, string, error) {
	product, err := uc.inventory.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve product %d: %w", req.ProductID, err)
	}

	order := NewOrder(uc.ids.NextID(), req.UserID, req.ProductID, req.Quantity, product.Price)
	if err := uc.repository.CreateOrder(ctx, order); err != nil {
		return nil, "", fmt.Errorf("failed to create order: %w", err)
	}

	transactionID := uuid.New().String()
	snapshot := undolog.OrderSnapshot{OrderID: order.ID, State: OrderStatePending}
	if _, err := uc.coordinator.Join(ctx, transactionID, snapshot); err != nil {
		return nil, "", fmt.Errorf("failed to open transaction for order %d: %w", order.ID, err)
	}

	payment := RegisterPaymentRequest{
		OrderID:       order.ID,
		UserID:        order.UserID,
		TransactionID: transactionID,
		Price:         order.TotalPrice,
	}
	if err := uc.payments.RegisterOrder(ctx, payment); err != nil {
		uc.rollbackDetached(transactionID, err.Error())
		return nil, "", fmt.Errorf("failed to register order %d with payment service: %w", order.ID, err)
	}

	uc.logger.Infof("🚀 Order %d placed | TransactionID: %s", order.ID, transactionID)
	return order, transactionID, nil
}

// ConfirmOrder junta o passo de confirmação à transação aberta, aplica a
// instrução SUCCESS/FAILED ao pedido e consome o estoque quando confirmado.
// O commit (ou rollback) da transação é disparado em background: o chamador
// recebe a resposta antes do registro terminal estar durável.
func (uc *OrderUseCase) ConfirmOrder(ctx context.Context, req ConfirmOrderRequest) error {
	if _, err := uc.coordinator.Exists(ctx, req.TransactionID); err != nil {
		return fmt.Errorf("failed to confirm order %d: %w", req.OrderID, err)
	}

	snapshot := undolog.OrderSnapshot{OrderID: req.OrderID, State: OrderStatePending}
	if _, err := uc.coordinator.Join(ctx, req.TransactionID, snapshot); err != nil {
		return fmt.Errorf("failed to join transaction %q: %w", req.TransactionID, err)
	}

	order, err := uc.confirmWithRetry(ctx, req)
	if err != nil {
		uc.rollbackDetached(req.TransactionID, err.Error())
		return fmt.Errorf("failed to confirm order %d: %w", req.OrderID, err)
	}

	if order.State == OrderStateSuccess {
		consume := ConsumeProductRequest{
			TransactionID: req.TransactionID,
			ProductID:     order.ProductID,
			Quantity:      order.Quantity,
		}
		if err := uc.inventory.ConsumeProduct(ctx, consume); err != nil {
			uc.rollbackDetached(req.TransactionID, err.Error())
			return fmt.Errorf("failed to consume product for order %d: %w", order.ID, err)
		}
	}

	uc.commitDetached(req.TransactionID)
	uc.logger.Infof("✅ Order %d confirmed as %s | TransactionID: %s", order.ID, order.State, req.TransactionID)
	return nil
}

// confirmWithRetry executa o ciclo ler-modificar-escrever sob a política de
// retry otimista: um conflito de versão relê a versão mais nova e tenta de
// novo; erros de validação e not-found propagam imediatamente.
func (uc *OrderUseCase) confirmWithRetry(ctx context.Context, req ConfirmOrderRequest) (*Order, error) {
	var confirmed *Order
	err := uc.persistRetry.Do(ctx, func(ctx context.Context) error {
		order, err := uc.repository.GetOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if err := order.Confirm(req.ConfirmState); err != nil {
			return err
		}
		if err := uc.repository.UpdateOrder(ctx, order); err != nil {
			return err
		}
		confirmed = order
		return nil
	})
	return confirmed, err
}

// CompensateOrder é o passo de compensação despachado pelo listener de
// rollback: força o pedido a FAILED. Compensar um pedido já terminal é um
// no-op, então reprocessar o mesmo evento após um restart é seguro. A
// ausência do pedido é fatal — ele precisa existir antes de qualquer
// transação que o referencie.
func (uc *OrderUseCase) CompensateOrder(ctx context.Context, event saga.CompensationEvent) error {
	uc.logger.Infof("↩️ Compensating order %d | TransactionID: %s", event.OrderID, event.TransactionID)

	err := uc.persistRetry.Do(ctx, func(ctx context.Context) error {
		order, err := uc.repository.GetOrder(ctx, event.OrderID)
		if err != nil {
			return err
		}
		if err := order.Fail(); err != nil {
			if errors.Is(err, ErrOrderNotPending) {
				// Já terminal; nada a desfazer.
				return nil
			}
			return err
		}
		return uc.repository.UpdateOrder(ctx, order)
	})
	if err != nil {
		uc.logger.Errorf("❌ Rollback of order %d failed: %v", event.OrderID, err)
		return fmt.Errorf("failed to compensate order %d: %w", event.OrderID, err)
	}

	uc.logger.Infof("♻️  Order %d compensated | TransactionID: %s", event.OrderID, event.TransactionID)
	return nil
}

// commitDetached dispara o commit em uma goroutine própria: a resposta de
// negócio não espera o registro terminal ficar durável, e o desfecho é
// apenas observado em log e métrica.
func (uc *OrderUseCase) commitDetached(transactionID string) {
	uc.detached.Add(1)
	go func() {
		defer uc.detached.Done()

		ctx, cancel := context.WithTimeout(context.Background(), detachedTimeout)
		defer cancel()

		err := uc.coordinator.Commit(ctx, transactionID)
		RecordSagaOperation(ctx, "commit", err == nil)
		if err != nil {
			uc.logger.Errorf("❌ Detached commit of transaction %s failed: %v", transactionID, err)
			return
		}
	}()
}

// rollbackDetached dispara o rollback em background; o chamador já recebeu o
// erro de negócio e o pedido converge para FAILED de forma assíncrona.
func (uc *OrderUseCase) rollbackDetached(transactionID string, cause string) {
	uc.detached.Add(1)
	go func() {
		defer uc.detached.Done()

		ctx, cancel := context.WithTimeout(context.Background(), detachedTimeout)
		defer cancel()

		err := uc.coordinator.Rollback(ctx, transactionID, cause)
		RecordSagaOperation(ctx, "rollback", err == nil)
		if err != nil {
			uc.logger.Errorf("❌ Detached rollback of transaction %s failed: %v", transactionID, err)
			return
		}
	}()
}

// WaitDetached espera as chamadas de commit/rollback em voo; usado no
// shutdown para não abandonar registros terminais pendentes.
func (uc *OrderUseCase) WaitDetached() {
	uc.detached.Wait()
}
