package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/fasthttp/router"

	"github.com/mesapay/chatpay/internal/model"
	"github.com/mesapay/chatpay/internal/repository"
	xhttp "github.com/mesapay/chatpay/pkg/http"
)

// ConversationService is the read-only slice the operations surface
// needs.
type ConversationService interface {
	GetByID(ctx context.Context, id int64) (*model.Conversation, error)
	List(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, int64, error)
}

type ConversationHandler struct {
	svc ConversationService
}

func RegisterConversationRoutes(e *router.Group, h *ConversationHandler) {
	e.GET("/conversations", h.ListConversations)
	e.GET("/conversations/{id}", h.GetConversation)
}

func NewConversationHandler(svc ConversationService) *ConversationHandler {
	return &ConversationHandler{
		svc: svc,
	}
}

type listConversationsResponse struct {
	Items []*model.Conversation `json:"items"`
	Total int64                 `json:"total"`
}

func (h *ConversationHandler) GetConversation(ctx *xhttp.RequestCtx) {
	id, err := strconv.ParseInt(ctx.UserValue("id").(string), 10, 64)
	if err != nil {
		writeError(ctx, 400, "invalid conversation id")
		return
	}

	conv, err := h.svc.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(ctx, 404, "conversation not found")
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, conv)
}

func (h *ConversationHandler) ListConversations(ctx *xhttp.RequestCtx) {
	var f model.ConversationFilter

	if v := query(ctx, "payer_id"); v != "" {
		f.PayerID = &v
	}
	if v := query(ctx, "order_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.OrderID = &id
		}
	}
	if v := query(ctx, "active"); v == "true" || v == "1" {
		f.ActiveOnly = true
	}
	if v := query(ctx, "since"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.ActiveSince = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, listConversationsResponse{Items: items, Total: total})
}
