package main

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// OrderState representa os possíveis estados de um pedido. PENDING é o único
// estado de origem de transições; SUCCESS e FAILED são terminais.
const (
	OrderStatePending = "PENDING"
	OrderStateSuccess = "SUCCESS"
	OrderStateFailed  = "FAILED"
)

var (
	// ErrOrderNotPending indica uma transição a partir de estado terminal.
	ErrOrderNotPending = errors.New("order is not in PENDING state")

	// ErrOrderNotFound indica que o pedido não existe.
	ErrOrderNotFound = errors.New("order not found")
)

// Order representa um pedido no sistema. Version é o token de concorrência
// otimista: toda escrita informa a versão lida, e escritas com versão
// defasada são rejeitadas.
type Order struct {
	ID         int64     `json:"id" db:"id"`
	UserID     int64     `json:"user_id" db:"user_id"`
	ProductID  int64     `json:"product_id" db:"product_id"`
	Quantity   int64     `json:"quantity" db:"quantity"`
	TotalPrice int64     `json:"total_price" db:"total_price"`
	State      string    `json:"state" db:"state"`
	Version    int       `json:"version" db:"version"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// NewOrder cria um pedido PENDING; o preço total é quantidade × preço
// unitário.
func NewOrder(id, userID, productID, quantity, unitPrice int64) *Order {
	now := time.Now()
	return &Order{
		ID:         id,
		UserID:     userID,
		ProductID:  productID,
		Quantity:   quantity,
		TotalPrice: quantity * unitPrice,
		State:      OrderStatePending,
		Version:    0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Success confirma o pedido. Só pedidos PENDING podem ser confirmados.
func (o *Order) Success() error {
	return o.transition(OrderStateSuccess)
}

// Fail marca o pedido como falho. Só pedidos PENDING podem transicionar.
func (o *Order) Fail() error {
	return o.transition(OrderStateFailed)
}

// Confirm aplica a instrução de confirmação recebida do serviço de
// pagamentos.
func (o *Order) Confirm(confirmState string) error {
	switch confirmState {
	case OrderStateSuccess:
		return o.Success()
	case OrderStateFailed:
		return o.Fail()
	default:
		return fmt.Errorf("cannot find matched confirm state %q", confirmState)
	}
}

func (o *Order) transition(target string) error {
	if o.State != OrderStatePending {
		return fmt.Errorf("cannot change state of order %d: %w", o.ID, ErrOrderNotPending)
	}
	o.State = target
	o.UpdatedAt = time.Now()
	return nil
}

// idGenerator gera ids int64 ordenados por tempo: milissegundos desde uma
// época fixa nos bits altos, contador de sequência por milissegundo nos bits
// baixos.
type idGenerator struct {
	mu       sync.Mutex
	lastUnit int64
	sequence int64
}

// epoch é 2024-01-01T00:00:00Z em milissegundos Unix.
const epoch = 1704067200000

const sequenceBits = 12

func newIDGenerator() *idGenerator {
	return &idGenerator{}
}

// NextID retorna o próximo id, único e crescente dentro do processo.
func (g *idGenerator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	unit := time.Now().UnixMilli() - epoch
	if unit == g.lastUnit {
		g.sequence++
		if g.sequence >= 1<<sequenceBits {
			// Sequência esgotada dentro do milissegundo.
			for unit <= g.lastUnit {
				unit = time.Now().UnixMilli() - epoch
			}
			g.sequence = 0
		}
	} else {
		g.sequence = 0
	}
	g.lastUnit = unit

	return unit<<sequenceBits | g.sequence
}
