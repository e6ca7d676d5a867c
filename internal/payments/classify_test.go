package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyGatewayLevelWins(t *testing.T) {
	// A gateway-level failure short-circuits even a success-looking
	// status and acquirer pair.
	c := Classify(GatewayResponse{GatewayCode: "GW01", StatusCode: 8, AcquirerCode: "00"})
	assert.Equal(t, OutcomeGatewayError, c.Outcome)
	assert.True(t, c.Failed())
	assert.Equal(t, "GW01", c.Err.Code)
	assert.Equal(t, "O sistema de pagamento está indisponível no momento.", c.Err.Message)
}

func TestClassifyStatusAxis(t *testing.T) {
	tests := []struct {
		name     string
		resp     GatewayResponse
		outcome  Outcome
		hasError bool
	}{
		{"created", GatewayResponse{GatewayCode: "00", StatusCode: 1}, OutcomeCreated, false},
		{"waiting", GatewayResponse{StatusCode: 2}, OutcomeWaiting, false},
		{"waiting ignores acquirer", GatewayResponse{StatusCode: 2, AcquirerCode: "91"}, OutcomeWaiting, false},
		{"canceled", GatewayResponse{GatewayCode: "000", StatusCode: 3, AcquirerCode: "00"}, OutcomeCanceled, false},
		{"pre-authorized", GatewayResponse{StatusCode: 5, AcquirerCode: "00"}, OutcomePreAuthorized, false},
		{"success", GatewayResponse{GatewayCode: "00", StatusCode: 8, AcquirerCode: "00"}, OutcomeSuccess, false},
		{"success status without acquirer sentinel", GatewayResponse{StatusCode: 8, AcquirerCode: "51"}, OutcomeAcquirerError, true},
		{"pre-auth status without acquirer sentinel", GatewayResponse{StatusCode: 5, AcquirerCode: "05"}, OutcomeAcquirerError, true},
		{"unknown status", GatewayResponse{StatusCode: 42, AcquirerCode: "00"}, OutcomeAcquirerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.resp)
			assert.Equal(t, tt.outcome, c.Outcome)
			assert.Equal(t, tt.hasError, c.Err != nil)
		})
	}
}

func TestClassifyTranslatesAcquirerCodes(t *testing.T) {
	c := Classify(GatewayResponse{StatusCode: 8, AcquirerCode: "51"})
	assert.Equal(t, "Saldo ou limite insuficiente.", c.Err.Message)

	// Unknown codes fall back to the generic user message but keep the
	// raw diagnostic.
	c = Classify(GatewayResponse{StatusCode: 8, AcquirerCode: "ZZ", Message: "weird"})
	assert.Equal(t, fallbackMessage, c.Err.Message)
	assert.Equal(t, "weird", c.Err.Raw)
}

func TestDetectBrand(t *testing.T) {
	tests := []struct {
		number string
		brand  string
		ok     bool
	}{
		{"4111 1111 1111 1111", "visa", true},
		{"4111111111111", "visa", true},
		{"5105105105105100", "mastercard", true},
		{"2221000000000009", "mastercard", true},
		{"378282246310005", "amex", true},
		{"30569309025904", "diners", true},
		{"6362970000457013", "elo", true},
		{"6062825624254001", "hipercard", true},
		{"4111-1111-1111-11", "", false}, // visa prefix, bad length
		{"9999999999999999", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		brand, ok := DetectBrand(tt.number)
		assert.Equal(t, tt.ok, ok, tt.number)
		assert.Equal(t, tt.brand, brand, tt.number)
	}
}
