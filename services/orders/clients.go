package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrProductNotFound indica que o produto não existe no serviço de estoque.
var ErrProductNotFound = errors.New("product not found")

// RegisterPaymentRequest é o corpo enviado ao serviço de pagamentos ao
// registrar um pedido.
type RegisterPaymentRequest struct {
	OrderID       int64  `json:"order_id"`
	UserID        int64  `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	Price         int64  `json:"price"`
}

// ConsumeProductRequest é o corpo enviado ao serviço de estoque ao consumir
// as unidades de um pedido confirmado.
type ConsumeProductRequest struct {
	TransactionID string `json:"transaction_id"`
	ProductID     int64  `json:"product_id"`
	Quantity      int64  `json:"quantity"`
}

// ProductResponse é a representação de um produto no serviço de estoque.
type ProductResponse struct {
	ID       int64  `json:"id"`
	SellerID int64  `json:"seller_id"`
	Title    string `json:"title"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

// PaymentClient registra pedidos no serviço de pagamentos.
type PaymentClient interface {
	RegisterOrder(ctx context.Context, req RegisterPaymentRequest) error
}

// InventoryClient consulta e consome estoque no serviço de produtos.
type InventoryClient interface {
	// GetProduct resolve o produto e seu preço unitário corrente, ou
	// ErrProductNotFound.
	GetProduct(ctx context.Context, productID int64) (*ProductResponse, error)

	ConsumeProduct(ctx context.Context, req ConsumeProductRequest) error
}

// newServiceClient cria o client HTTP dos serviços vizinhos: respostas 5xx
// são retentadas com backoff e jitter até o limite de tentativas, 4xx não.
func newServiceClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r.StatusCode() >= 500
		})
}

type restPaymentClient struct {
	http *resty.Client
}

// NewPaymentClient cria o client do serviço de pagamentos.
func NewPaymentClient(baseURL string) PaymentClient {
	return &restPaymentClient{http: newServiceClient(baseURL)}
}

// RegisterOrder registra o pedido para pagamento; qualquer resposta não-2xx é
// falha e dispara o caminho de rollback no chamador.
func (c *restPaymentClient) RegisterOrder(ctx context.Context, req RegisterPaymentRequest) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/v1/pays/orders")
	if err != nil {
		return fmt.Errorf("failed to call payment service: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("payment service rejected order %d: %s", req.OrderID, resp.Status())
	}
	return nil
}

type restInventoryClient struct {
	http *resty.Client
}

// NewInventoryClient cria o client do serviço de estoque.
func NewInventoryClient(baseURL string) InventoryClient {
	return &restInventoryClient{http: newServiceClient(baseURL)}
}

// GetProduct busca o produto no serviço de estoque. Resposta 4xx vira
// ErrProductNotFound; o preço do pedido sempre vem daqui, nunca do cliente.
func (c *restInventoryClient) GetProduct(ctx context.Context, productID int64) (*ProductResponse, error) {
	var product ProductResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&product).
		Get(fmt.Sprintf("/v1/products/%d", productID))
	if err != nil {
		return nil, fmt.Errorf("failed to call inventory service: %w", err)
	}
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
		return nil, fmt.Errorf("cannot find product %d: %w", productID, ErrProductNotFound)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("inventory service failed resolving product %d: %s", productID, resp.Status())
	}
	return &product, nil
}

// ConsumeProduct consome as unidades do pedido; não-2xx é falha e dispara o
// rollback no chamador.
func (c *restInventoryClient) ConsumeProduct(ctx context.Context, req ConsumeProductRequest) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/v1/products/consumes")
	if err != nil {
		return fmt.Errorf("failed to call inventory service: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("inventory service rejected consuming product %d: %s", req.ProductID, resp.Status())
	}
	return nil
}
