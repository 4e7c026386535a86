package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrVersionConflict indica uma escrita com versão defasada do pedido. O
// conflito é transitório: releia a versão mais recente e tente de novo.
var ErrVersionConflict = errors.New("order was updated concurrently")

// Repository define a interface para operações de banco de dados de pedidos.
type Repository interface {
	// CreateOrder cria um novo pedido no banco de dados.
	CreateOrder(ctx context.Context, order *Order) error

	// GetOrder busca um pedido pelo ID, ou ErrOrderNotFound.
	GetOrder(ctx context.Context, orderID int64) (*Order, error)

	// UpdateOrder persiste o estado do pedido com verificação otimista de
	// versão; versão defasada retorna ErrVersionConflict.
	UpdateOrder(ctx context.Context, order *Order) error
}

// OrderRepository implementa Repository usando PostgreSQL.
type OrderRepository struct {
	db *pgxpool.Pool
}

// NewOrderRepository cria uma nova instância de OrderRepository.
func NewOrderRepository(db *pgxpool.Pool) Repository {
	return &OrderRepository{db: db}
}

// CreateOrder cria um novo pedido no banco de dados.
func (r *OrderRepository) CreateOrder(ctx context.Context, order *Order) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO orders (id, user_id, product_id, quantity, total_price, state, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, order.ID, order.UserID, order.ProductID, order.Quantity, order.TotalPrice,
		order.State, order.Version, order.CreatedAt, order.UpdatedAt)
	return err
}

// GetOrder busca um pedido pelo ID.
func (r *OrderRepository) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	var order Order
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, product_id, quantity, total_price, state, version, created_at, updated_at
		FROM orders WHERE id = $1
	`, orderID).Scan(&order.ID, &order.UserID, &order.ProductID, &order.Quantity,
		&order.TotalPrice, &order.State, &order.Version, &order.CreatedAt, &order.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cannot find order %d: %w", orderID, ErrOrderNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder persiste o pedido apenas se a versão informada ainda for a
// corrente, incrementando-a na mesma escrita.
func (r *OrderRepository) UpdateOrder(ctx context.Context, order *Order) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET state = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4
	`, order.State, order.UpdatedAt, order.ID, order.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stale write of order %d at version %d: %w", order.ID, order.Version, ErrVersionConflict)
	}

	order.Version++
	return nil
}

// isRetryablePersistenceError classifica os erros de persistência
// transitórios: conflito de versão otimista e falha de aquisição de conexão.
// Todo o resto propaga imediatamente.
func isRetryablePersistenceError(err error) bool {
	if errors.Is(err, ErrVersionConflict) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
