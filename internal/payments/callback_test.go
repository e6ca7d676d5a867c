package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyAcceptsSignedDelivery(t *testing.T) {
	v := NewVerifier("topsecret", []string{"10.1.2.3"})
	body := []byte(`{"event":"payment.updated","timestamp":"2026-09-01T12:00:00Z","data":{"gateway_id":"gw-1","status_code":8,"acquirer_code":"00","amount":42.5}}`)

	cb, err := v.Verify("10.1.2.3:39812", v.Sign(body), "payment.updated", "2026-09-01T12:00:00Z", body)
	require.NoError(t, err)
	assert.Equal(t, "payment.updated", cb.Event)
	assert.Equal(t, "gw-1", cb.Response.GatewayID)
	assert.Equal(t, 8, cb.Response.StatusCode)
	assert.Equal(t, 42.5, cb.Response.Amount)
}

func TestVerifySignsRawBodyNotCanonicalJSON(t *testing.T) {
	v := NewVerifier("topsecret", nil)
	// Key order and whitespace diverge from what a re-serialization
	// would produce. The signature must still match because it is
	// computed over the raw bytes.
	body := []byte("{ \"data\": {\"status_code\": 2, \"gateway_id\": \"gw-2\"},\n\"event\": \"payment.updated\", \"timestamp\": \"t\" }")
	_, err := v.Verify("127.0.0.1:1", v.Sign(body), "payment.updated", "t", body)
	assert.NoError(t, err)
}

func TestVerifyRejections(t *testing.T) {
	v := NewVerifier("topsecret", []string{"10.1.2.3"})
	body := []byte(`{"event":"e","timestamp":"t","data":{}}`)
	sig := v.Sign(body)

	_, err := v.Verify("192.168.0.9:1000", sig, "e", "t", body)
	assert.ErrorIs(t, err, ErrForbiddenOrigin)

	_, err = v.Verify("10.1.2.3:1000", "", "e", "t", body)
	assert.ErrorIs(t, err, ErrMissingHeaders)

	_, err = v.Verify("10.1.2.3:1000", sig, "", "t", body)
	assert.ErrorIs(t, err, ErrMissingHeaders)

	other := NewVerifier("othersecret", nil)
	_, err = v.Verify("10.1.2.3:1000", other.Sign(body), "e", "t", body)
	assert.ErrorIs(t, err, ErrBadSignature)

	// A single flipped byte after signing invalidates the delivery.
	tampered := append([]byte(nil), body...)
	tampered[10] ^= 0x01
	_, err = v.Verify("10.1.2.3:1000", sig, "e", "t", tampered)
	assert.ErrorIs(t, err, ErrBadSignature)

	bad := []byte(`not json`)
	_, err = v.Verify("10.1.2.3:1000", v.Sign(bad), "e", "t", bad)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestVerifyEmptyAllowListAdmitsLoopbackOnly(t *testing.T) {
	v := NewVerifier("topsecret", nil)
	body := []byte(`{"event":"e","timestamp":"t","data":{}}`)

	_, err := v.Verify("203.0.113.7:443", v.Sign(body), "e", "t", body)
	assert.ErrorIs(t, err, ErrForbiddenOrigin)

	_, err = v.Verify("127.0.0.1:443", v.Sign(body), "e", "t", body)
	assert.NoError(t, err)

	_, err = v.Verify("[::1]:443", v.Sign(body), "e", "t", body)
	assert.NoError(t, err)
}
