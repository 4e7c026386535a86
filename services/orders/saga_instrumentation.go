package main

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CreateSagaSpan cria um span específico para operações da transação
// distribuída.
func CreateSagaSpan(ctx context.Context, operationName string, transactionID string) (context.Context, trace.Span) {
	tracer := otel.Tracer("order-saga")
	ctx, span := tracer.Start(ctx, "saga."+operationName)

	span.SetAttributes(
		attribute.String("saga.transaction_id", transactionID),
		attribute.String("saga.operation", operationName),
		attribute.String("component", "saga-coordinator"),
	)

	return ctx, span
}

var (
	sagaCounterOnce sync.Once
	sagaCounter     metric.Int64Counter
)

// RecordSagaOperation conta operações de saga por nome e resultado.
func RecordSagaOperation(ctx context.Context, operationName string, success bool) {
	sagaCounterOnce.Do(func() {
		meter := otel.Meter("order-saga")
		sagaCounter, _ = meter.Int64Counter("saga_operations_total")
	})
	if sagaCounter == nil {
		return
	}

	sagaCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("saga.operation", operationName),
			attribute.Bool("saga.success", success),
		),
	)
}
