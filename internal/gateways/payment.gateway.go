package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesapay/chatpay/internal/payments"
	"github.com/mesapay/chatpay/pkg/logger"
)

// PaymentClient talks to the payment gateway. It satisfies
// payments.GatewayClient.
type PaymentClient struct {
	http *httpClient
}

func NewPaymentClient(baseURL, token string, timeout time.Duration) *PaymentClient {
	return &PaymentClient{http: newHTTPClient(baseURL, token, timeout)}
}

type pixChargeRequest struct {
	Reference        string  `json:"reference"`
	Amount           float64 `json:"amount"`
	Document         string  `json:"document"`
	Name             string  `json:"name"`
	ExpirationSecond int     `json:"expiration_seconds"`
}

type cardChargeRequest struct {
	Reference string  `json:"reference"`
	Amount    float64 `json:"amount"`
	Document  string  `json:"document"`
	Name      string  `json:"name"`
	Number    string  `json:"card_number,omitempty"`
	Brand     string  `json:"brand,omitempty"`
	ExpMonth  string  `json:"exp_month,omitempty"`
	ExpYear   string  `json:"exp_year,omitempty"`
	CVV       string  `json:"cvv,omitempty"`
	Token     string  `json:"card_token,omitempty"`
	Capture   bool    `json:"capture"`
	StoreCard bool    `json:"store_card"`
}

func (c *PaymentClient) CreatePix(ctx context.Context, req payments.PixRequest) (payments.GatewayResponse, error) {
	body, err := json.Marshal(pixChargeRequest{
		Reference:        req.Reference,
		Amount:           req.Amount,
		Document:         req.Document,
		Name:             req.Name,
		ExpirationSecond: int(req.ExpiresIn.Seconds()),
	})
	if err != nil {
		return payments.GatewayResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	raw, err := c.http.do(ctx, "POST", "/api/v1/charges/pix", body)
	if err != nil {
		return payments.GatewayResponse{}, err
	}

	var resp payments.GatewayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return payments.GatewayResponse{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	logger.Info("pix charge created",
		"reference", req.Reference, "gateway_id", resp.GatewayID,
		"latency_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (c *PaymentClient) CreateCard(ctx context.Context, req payments.CardRequest) (payments.GatewayResponse, error) {
	body, err := json.Marshal(cardChargeRequest{
		Reference: req.Reference,
		Amount:    req.Amount,
		Document:  req.Document,
		Name:      req.Name,
		Number:    req.Number,
		Brand:     req.Brand,
		ExpMonth:  req.ExpMonth,
		ExpYear:   req.ExpYear,
		CVV:       req.CVV,
		Token:     req.Token,
		Capture:   req.Capture,
		StoreCard: req.StoreCard,
	})
	if err != nil {
		return payments.GatewayResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	raw, err := c.http.do(ctx, "POST", "/api/v1/charges/card", body)
	if err != nil {
		return payments.GatewayResponse{}, err
	}

	var resp payments.GatewayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return payments.GatewayResponse{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	logger.Info("card charge created",
		"reference", req.Reference, "gateway_id", resp.GatewayID,
		"brand", req.Brand, "latency_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (c *PaymentClient) Capture(ctx context.Context, gatewayID string, amount float64) (payments.GatewayResponse, error) {
	body, err := json.Marshal(map[string]float64{"amount": amount})
	if err != nil {
		return payments.GatewayResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	raw, err := c.http.do(ctx, "POST", fmt.Sprintf("/api/v1/charges/%s/capture", gatewayID), body)
	if err != nil {
		return payments.GatewayResponse{}, err
	}

	var resp payments.GatewayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return payments.GatewayResponse{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return resp, nil
}
