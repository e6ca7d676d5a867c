package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/mesapay/chatpay/internal/flow"
	"github.com/mesapay/chatpay/internal/model"
	"github.com/mesapay/chatpay/pkg/logger"
)

// OrderClient talks to the order system. It satisfies flow.OrderService
// and payments.OrderCollaborator.
type OrderClient struct {
	http *httpClient
}

func NewOrderClient(baseURL string, timeout time.Duration) *OrderClient {
	return &OrderClient{http: newHTTPClient(baseURL, "", timeout)}
}

func (c *OrderClient) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	raw, err := c.http.do(ctx, "GET", fmt.Sprintf("/api/v1/orders/%d", orderID), nil)
	if err != nil {
		if isStatus(err, fasthttp.StatusNotFound) {
			return nil, flow.ErrOrderNotFound
		}
		return nil, err
	}

	var order model.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &order, nil
}

type addPaymentRequest struct {
	Amount float64 `json:"amount"`
}

type addPaymentResponse struct {
	AmountPaid  float64 `json:"amount_paid"`
	TotalAmount float64 `json:"total_amount"`
	FullyPaid   bool    `json:"fully_paid"`
}

// AddPayment records a settled amount on the order and reports whether
// the order is now fully covered.
func (c *OrderClient) AddPayment(ctx context.Context, orderID int64, amount float64) (bool, error) {
	body, err := json.Marshal(addPaymentRequest{Amount: amount})
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}

	raw, err := c.http.do(ctx, "POST", fmt.Sprintf("/api/v1/orders/%d/payments", orderID), body)
	if err != nil {
		return false, err
	}

	var resp addPaymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	logger.Info("payment applied to order",
		"order_id", orderID, "amount", amount,
		"amount_paid", resp.AmountPaid, "fully_paid", resp.FullyPaid)
	return resp.FullyPaid, nil
}

// SetSplit records the agreed n-way division on the order.
func (c *OrderClient) SetSplit(ctx context.Context, orderID int64, split *model.SplitInfo) error {
	body, err := json.Marshal(split)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	_, err = c.http.do(ctx, "PUT", fmt.Sprintf("/api/v1/orders/%d/split", orderID), body)
	return err
}
