package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesapay/chatpay/internal/payments"
	xhttp "github.com/mesapay/chatpay/pkg/http"
)

type fakeCallbackService struct {
	err       error
	signature string
	event     string
	timestamp string
	body      []byte
}

func (f *fakeCallbackService) HandleCallback(ctx context.Context, verifier *payments.Verifier, remoteAddr, signature, event, timestamp string, body []byte) error {
	f.signature = signature
	f.event = event
	f.timestamp = timestamp
	f.body = body
	return f.err
}

func callbackContext(body []byte, sig, event, ts string) *xhttp.RequestCtx {
	ctx := setupTestContext("POST", "/callbacks/payment", body)
	if sig != "" {
		ctx.Request.Header.Set(payments.HeaderSignature, sig)
	}
	if event != "" {
		ctx.Request.Header.Set(payments.HeaderEvent, event)
	}
	if ts != "" {
		ctx.Request.Header.Set(payments.HeaderTimestamp, ts)
	}
	return ctx
}

func TestCallbackHandler_PaymentCallback(t *testing.T) {
	verifier := payments.NewVerifier("secret", nil)
	body := []byte(`{"event":"charge.paid","data":{"status_code":8,"acquirer_code":"00"}}`)

	t.Run("passes raw body and headers through", func(t *testing.T) {
		svc := &fakeCallbackService{}
		handler := NewCallbackHandler(svc, verifier)

		ctx := callbackContext(body, "deadbeef", "charge.paid", "1749567600")
		handler.PaymentCallback(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		assert.Equal(t, "deadbeef", svc.signature)
		assert.Equal(t, "charge.paid", svc.event)
		assert.Equal(t, "1749567600", svc.timestamp)
		assert.Equal(t, body, svc.body)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Equal(t, "ok", resp["status"])
	})

	t.Run("forbidden origin", func(t *testing.T) {
		svc := &fakeCallbackService{err: payments.ErrForbiddenOrigin}
		handler := NewCallbackHandler(svc, verifier)

		ctx := callbackContext(body, "deadbeef", "charge.paid", "1749567600")
		handler.PaymentCallback(ctx)

		assert.Equal(t, 403, ctx.Response.StatusCode())
	})

	t.Run("bad signature", func(t *testing.T) {
		svc := &fakeCallbackService{err: payments.ErrBadSignature}
		handler := NewCallbackHandler(svc, verifier)

		ctx := callbackContext(body, "wrong", "charge.paid", "1749567600")
		handler.PaymentCallback(ctx)

		assert.Equal(t, 401, ctx.Response.StatusCode())
	})

	t.Run("missing headers", func(t *testing.T) {
		svc := &fakeCallbackService{err: payments.ErrMissingHeaders}
		handler := NewCallbackHandler(svc, verifier)

		ctx := callbackContext(body, "", "", "")
		handler.PaymentCallback(ctx)

		assert.Equal(t, 401, ctx.Response.StatusCode())
	})

	t.Run("malformed payload", func(t *testing.T) {
		svc := &fakeCallbackService{err: payments.ErrMalformedPayload}
		handler := NewCallbackHandler(svc, verifier)

		ctx := callbackContext([]byte("{"), "deadbeef", "charge.paid", "1749567600")
		handler.PaymentCallback(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("unknown transaction", func(t *testing.T) {
		svc := &fakeCallbackService{err: payments.ErrUnknownReference}
		handler := NewCallbackHandler(svc, verifier)

		ctx := callbackContext(body, "deadbeef", "charge.paid", "1749567600")
		handler.PaymentCallback(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
	})
}
