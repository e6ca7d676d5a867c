package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fasthttp/router"

	"github.com/mesapay/chatpay/internal/model"
	xhttp "github.com/mesapay/chatpay/pkg/http"
)

// EventPublisher puts inbound chat events on the stream for the
// processor fleet.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev model.InboundEvent) (string, error)
}

type EventHandler struct {
	publisher EventPublisher
}

func RegisterEventRoutes(e *router.Group, h *EventHandler) {
	e.POST("/events", h.CreateEvent)
}

func NewEventHandler(publisher EventPublisher) *EventHandler {
	return &EventHandler{
		publisher: publisher,
	}
}

type createEventRequest struct {
	PayerID   string `json:"payer_id"`
	Type      string `json:"type"`
	Body      string `json:"body"`
	MediaURL  string `json:"media_url,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type createEventResponse struct {
	EventID string `json:"event_id"`
}

// CreateEvent accepts one inbound chat event from the messaging
// transport and enqueues it. Processing is asynchronous; 202 means
// accepted, not handled.
func (h *EventHandler) CreateEvent(ctx *xhttp.RequestCtx) {
	var req createEventRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	ev := model.InboundEvent{
		PayerID:   req.PayerID,
		Type:      model.EventType(req.Type),
		Body:      req.Body,
		MediaURL:  req.MediaURL,
		Timestamp: time.Now(),
	}
	if req.Timestamp != "" {
		t, err := parseTime(req.Timestamp)
		if err != nil {
			writeError(ctx, 400, "invalid timestamp: "+err.Error())
			return
		}
		ev.Timestamp = t
	}

	id, err := h.publisher.PublishEvent(ctx, ev)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 202, createEventResponse{EventID: id})
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
