package handlers

import (
	"context"
	"errors"

	"github.com/fasthttp/router"

	"github.com/mesapay/chatpay/internal/payments"
	xhttp "github.com/mesapay/chatpay/pkg/http"
)

// CallbackService settles transactions from verified gateway callbacks.
// Satisfied by payments.Orchestrator.
type CallbackService interface {
	HandleCallback(ctx context.Context, verifier *payments.Verifier, remoteAddr, signature, event, timestamp string, body []byte) error
}

type CallbackHandler struct {
	svc      CallbackService
	verifier *payments.Verifier
}

func RegisterCallbackRoutes(e *router.Group, h *CallbackHandler) {
	e.POST("/callbacks/payment", h.PaymentCallback)
}

func NewCallbackHandler(svc CallbackService, verifier *payments.Verifier) *CallbackHandler {
	return &CallbackHandler{
		svc:      svc,
		verifier: verifier,
	}
}

// PaymentCallback receives the gateway's settlement notification. The
// signature covers the raw body, so the body is passed through without
// re-serialization.
func (h *CallbackHandler) PaymentCallback(ctx *xhttp.RequestCtx) {
	signature := string(ctx.Request.Header.Peek(payments.HeaderSignature))
	event := string(ctx.Request.Header.Peek(payments.HeaderEvent))
	timestamp := string(ctx.Request.Header.Peek(payments.HeaderTimestamp))
	remoteAddr := ctx.RemoteAddr().String()

	err := h.svc.HandleCallback(ctx, h.verifier, remoteAddr, signature, event, timestamp, ctx.PostBody())
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrForbiddenOrigin):
			writeError(ctx, 403, "forbidden")
		case errors.Is(err, payments.ErrMissingHeaders), errors.Is(err, payments.ErrBadSignature):
			writeError(ctx, 401, "unauthorized")
		case errors.Is(err, payments.ErrMalformedPayload):
			writeError(ctx, 400, "malformed payload")
		case errors.Is(err, payments.ErrUnknownReference):
			writeError(ctx, 404, "unknown transaction")
		default:
			writeError(ctx, 500, "callback processing failed")
		}
		return
	}
	writeJSON(ctx, 200, map[string]string{"status": "ok"})
}
