package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"

	"github.com/pkg/errors"
)

// Callback header names set by the payment gateway on every delivery.
const (
	HeaderSignature = "X-Gateway-Signature"
	HeaderEvent     = "X-Gateway-Event"
	HeaderTimestamp = "X-Gateway-Timestamp"
)

var (
	ErrForbiddenOrigin  = errors.New("payments: callback origin not allowed")
	ErrMissingHeaders   = errors.New("payments: callback headers missing")
	ErrBadSignature     = errors.New("payments: callback signature mismatch")
	ErrMalformedPayload = errors.New("payments: callback payload malformed")
)

// CallbackEvent is the decoded body of one gateway notification.
type CallbackEvent struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Response  GatewayResponse `json:"data"`
}

// Verifier authenticates gateway callbacks: source address allow-list,
// mandatory headers and an HMAC-SHA256 signature over the raw body.
type Verifier struct {
	secret  []byte
	allowed map[string]bool
}

func NewVerifier(secret string, allowedIPs []string) *Verifier {
	allowed := make(map[string]bool, len(allowedIPs))
	for _, ip := range allowedIPs {
		allowed[ip] = true
	}
	return &Verifier{secret: []byte(secret), allowed: allowed}
}

// Verify checks origin, headers and signature, then decodes the body.
// The raw body is never mutated or re-serialized before signature
// comparison.
func (v *Verifier) Verify(remoteAddr, signature, event, timestamp string, body []byte) (*CallbackEvent, error) {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if !v.originAllowed(host) {
		return nil, ErrForbiddenOrigin
	}
	if signature == "" || event == "" || timestamp == "" {
		return nil, ErrMissingHeaders
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	want := mac.Sum(nil)
	got, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(want, got) {
		return nil, ErrBadSignature
	}

	var cb CallbackEvent
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	if cb.Event == "" {
		cb.Event = event
	}
	if cb.Timestamp == "" {
		cb.Timestamp = timestamp
	}
	return &cb, nil
}

// originAllowed checks the source host against the allow-list. An empty
// list fails closed: only loopback deliveries are admitted, which keeps
// a local mock gateway usable without granting the open internet.
func (v *Verifier) originAllowed(host string) bool {
	if len(v.allowed) > 0 {
		return v.allowed[host]
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Sign computes the hex signature the gateway would attach to body.
// The mock gateway and the tests use it to produce valid deliveries.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
