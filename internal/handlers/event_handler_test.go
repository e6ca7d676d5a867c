package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/mesapay/chatpay/internal/model"
	xhttp "github.com/mesapay/chatpay/pkg/http"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishEvent(ctx context.Context, ev model.InboundEvent) (string, error) {
	args := m.Called(ctx, ev)
	return args.String(0), args.Error(1)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func TestEventHandler_CreateEvent(t *testing.T) {
	t.Run("accepts and enqueues", func(t *testing.T) {
		pub := new(MockPublisher)
		handler := NewEventHandler(pub)

		reqBody, _ := json.Marshal(createEventRequest{
			PayerID:   "+5511988887777",
			Type:      "text",
			Body:      "pagar mesa 12",
			Timestamp: "2025-06-10T15:00:00Z",
		})

		pub.On("PublishEvent", mock.Anything, mock.MatchedBy(func(ev model.InboundEvent) bool {
			return ev.PayerID == "+5511988887777" &&
				ev.Type == model.EventText &&
				ev.Body == "pagar mesa 12" &&
				ev.Timestamp.Equal(time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC))
		})).Return("1749567600000-0", nil)

		ctx := setupTestContext("POST", "/events", reqBody)
		handler.CreateEvent(ctx)

		assert.Equal(t, 202, ctx.Response.StatusCode())

		var resp createEventResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Equal(t, "1749567600000-0", resp.EventID)

		pub.AssertExpectations(t)
	})

	t.Run("missing timestamp defaults to now", func(t *testing.T) {
		pub := new(MockPublisher)
		handler := NewEventHandler(pub)

		reqBody, _ := json.Marshal(createEventRequest{
			PayerID: "+5511988887777",
			Type:    "button",
			Body:    "pix",
		})

		pub.On("PublishEvent", mock.Anything, mock.MatchedBy(func(ev model.InboundEvent) bool {
			return time.Since(ev.Timestamp) < time.Minute
		})).Return("1-0", nil)

		ctx := setupTestContext("POST", "/events", reqBody)
		handler.CreateEvent(ctx)

		assert.Equal(t, 202, ctx.Response.StatusCode())
		pub.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		pub := new(MockPublisher)
		handler := NewEventHandler(pub)

		ctx := setupTestContext("POST", "/events", []byte("not json"))
		handler.CreateEvent(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())

		var resp map[string]string
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Contains(t, resp["error"], "invalid JSON")
	})

	t.Run("invalid timestamp", func(t *testing.T) {
		pub := new(MockPublisher)
		handler := NewEventHandler(pub)

		reqBody, _ := json.Marshal(createEventRequest{
			PayerID:   "+5511988887777",
			Type:      "text",
			Body:      "oi",
			Timestamp: "yesterday",
		})

		ctx := setupTestContext("POST", "/events", reqBody)
		handler.CreateEvent(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("publisher rejects event", func(t *testing.T) {
		pub := new(MockPublisher)
		handler := NewEventHandler(pub)

		reqBody, _ := json.Marshal(createEventRequest{Type: "text", Body: "oi"})

		pub.On("PublishEvent", mock.Anything, mock.Anything).
			Return("", errors.New("payer_id is required"))

		ctx := setupTestContext("POST", "/events", reqBody)
		handler.CreateEvent(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())

		var resp map[string]string
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Equal(t, "payer_id is required", resp["error"])

		pub.AssertExpectations(t)
	})
}
