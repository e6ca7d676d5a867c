package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesapay/chatpay/internal/flow"
	"github.com/mesapay/chatpay/pkg/logger"
)

// MessengerClient delivers outbound chat messages through the messaging
// platform and routes operational alerts to the staff channel. It
// satisfies flow.Messenger and payments.Notifier.
type MessengerClient struct {
	http *httpClient
}

func NewMessengerClient(baseURL, token string, timeout time.Duration) *MessengerClient {
	return &MessengerClient{http: newHTTPClient(baseURL, token, timeout)}
}

type outboundMessage struct {
	To      string           `json:"to"`
	Body    string           `json:"body"`
	Buttons []outboundButton `json:"buttons,omitempty"`
}

type outboundButton struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (c *MessengerClient) SendText(ctx context.Context, to, body string) error {
	return c.deliver(ctx, outboundMessage{To: to, Body: body})
}

func (c *MessengerClient) SendChoices(ctx context.Context, to, body string, choices []flow.Choice) error {
	msg := outboundMessage{To: to, Body: body}
	for _, ch := range choices {
		msg.Buttons = append(msg.Buttons, outboundButton{ID: ch.ID, Label: ch.Label})
	}
	return c.deliver(ctx, msg)
}

func (c *MessengerClient) deliver(ctx context.Context, msg outboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := c.http.do(ctx, "POST", "/api/v1/messages", body); err != nil {
		return err
	}
	logger.Debug("message delivered", "to", msg.To, "buttons", len(msg.Buttons))
	return nil
}

type operationsAlert struct {
	TableID    string `json:"table_id"`
	OrderID    int64  `json:"order_id"`
	Diagnostic string `json:"diagnostic"`
}

// NotifyOperations pushes a staff alert. Alerts are best effort: a
// failure is logged by the caller, never surfaced to the payer.
func (c *MessengerClient) NotifyOperations(ctx context.Context, tableID string, orderID int64, diagnostic string) error {
	body, err := json.Marshal(operationsAlert{TableID: tableID, OrderID: orderID, Diagnostic: diagnostic})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	_, err = c.http.do(ctx, "POST", "/api/v1/alerts", body)
	return err
}
