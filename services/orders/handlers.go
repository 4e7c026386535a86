package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/saga-commerce/order-service/saga"
)

// OrderUseCaseInterface define a interface para o use case.
type OrderUseCaseInterface interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, string, error)
	ConfirmOrder(ctx context.Context, req ConfirmOrderRequest) error
}

// OrderHandler contém os handlers HTTP.
type OrderHandler struct {
	useCase OrderUseCaseInterface
	tracer  trace.Tracer
}

// NewOrderHandler cria uma nova instância de OrderHandler.
func NewOrderHandler(useCase OrderUseCaseInterface, tracer trace.Tracer) *OrderHandler {
	return &OrderHandler{
		useCase: useCase,
		tracer:  tracer,
	}
}

// PlaceOrder cria um pedido e abre a transação distribuída.
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "place_order")
	defer span.End()

	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int64("user_id", req.UserID),
		attribute.Int64("product_id", req.ProductID),
		attribute.Int64("quantity", req.Quantity),
	)

	order, transactionID, err := h.useCase.PlaceOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int64("order_id", order.ID),
		attribute.String("transaction_id", transactionID),
	)

	c.JSON(http.StatusOK, gin.H{
		"order_id":       order.ID,
		"transaction_id": transactionID,
	})
}

// ConfirmOrder aplica a instrução de confirmação do serviço de pagamentos.
func (h *OrderHandler) ConfirmOrder(c *gin.Context) {
	var req ConfirmOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, span := CreateSagaSpan(c.Request.Context(), "confirm_order", req.TransactionID)
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", req.OrderID),
		attribute.String("confirm_state", req.ConfirmState),
	)

	if err := h.useCase.ConfirmOrder(ctx, req); err != nil {
		span.RecordError(err)
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "success"})
}

// HealthCheck verifica a saúde do serviço.
func (h *OrderHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "orders-service",
	})
}

// statusFromError mapeia erros de negócio para a classe 4xx; o resto é falha
// interna.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrOrderNotPending),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, saga.ErrTransactionNotFound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
