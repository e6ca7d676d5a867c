package payments

import (
	"fmt"

	"github.com/mesapay/chatpay/internal/model"
)

// Outcome is the domain meaning of one gateway response, after the three
// classification axes have been interpreted together.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeWaiting       Outcome = "waiting"
	OutcomeCanceled      Outcome = "canceled"
	OutcomePreAuthorized Outcome = "pre_authorized"
	OutcomeSuccess       Outcome = "success"
	OutcomeGatewayError  Outcome = "gateway_error"
	OutcomeAcquirerError Outcome = "acquirer_error"
)

// GatewayResponse carries the three classification axes of the payment
// processor plus whatever identifiers came with them. The same shape is
// produced by inline responses, capture responses and callbacks.
type GatewayResponse struct {
	GatewayCode  string  `json:"gateway_code"`
	StatusCode   int     `json:"status_code"`
	AcquirerCode string  `json:"acquirer_code"`
	Message      string  `json:"message"`
	GatewayID    string  `json:"gateway_id"`
	Amount       float64 `json:"amount"`
	CardToken    string  `json:"card_token,omitempty"`
	PixCode      string  `json:"pix_code,omitempty"`
}

// Classification is the decision plus the structured error to attach when
// the decision is a failure.
type Classification struct {
	Outcome Outcome
	Err     *model.TransactionError
}

// Failed reports whether the classification is one of the error outcomes.
func (c Classification) Failed() bool {
	return c.Outcome == OutcomeGatewayError || c.Outcome == OutcomeAcquirerError
}

// Gateway-level codes that admit further inspection. An empty code means
// the axis was absent from the response.
var successGatewayCodes = map[string]bool{
	"":    true,
	"00":  true,
	"000": true,
}

// acquirerSuccess is the acquirer-level sentinel required before a status
// code may count as its happy meaning.
const acquirerSuccess = "00"

// Classify runs the three-level decision table, in precedence order:
// gateway-level code, then status code, then acquirer-level code.
func Classify(r GatewayResponse) Classification {
	// Level 1: a non-success gateway code ends the discussion.
	if !successGatewayCodes[r.GatewayCode] {
		return Classification{
			Outcome: OutcomeGatewayError,
			Err:     newError(r.GatewayCode, gatewayMessages, r),
		}
	}

	// Level 2: status code, with level 3 (acquirer code) gating the
	// terminal meanings.
	switch r.StatusCode {
	case 1:
		return Classification{Outcome: OutcomeCreated}
	case 2:
		return Classification{Outcome: OutcomeWaiting}
	case 3:
		if r.AcquirerCode == acquirerSuccess {
			return Classification{Outcome: OutcomeCanceled}
		}
	case 5:
		if r.AcquirerCode == acquirerSuccess {
			return Classification{Outcome: OutcomePreAuthorized}
		}
	case 8:
		if r.AcquirerCode == acquirerSuccess {
			return Classification{Outcome: OutcomeSuccess}
		}
	}

	return Classification{
		Outcome: OutcomeAcquirerError,
		Err:     newError(r.AcquirerCode, acquirerMessages, r),
	}
}

func newError(code string, table map[string]string, r GatewayResponse) *model.TransactionError {
	msg, ok := table[code]
	if !ok {
		msg = fallbackMessage
	}
	raw := r.Message
	if raw == "" {
		raw = fmt.Sprintf("gateway=%s status=%d acquirer=%s", r.GatewayCode, r.StatusCode, r.AcquirerCode)
	}
	return &model.TransactionError{
		Code:    code,
		Message: msg,
		Raw:     raw,
	}
}

const fallbackMessage = "O pagamento não pôde ser processado. Tente novamente em instantes."

// gatewayMessages translates gateway-level rejection codes.
var gatewayMessages = map[string]string{
	"GW01": "O sistema de pagamento está indisponível no momento.",
	"GW02": "A requisição de pagamento foi rejeitada. Tente novamente.",
	"GW03": "O valor informado não foi aceito pelo sistema de pagamento.",
	"GW04": "Sessão de pagamento expirada. Vamos começar de novo.",
}

// acquirerMessages translates acquirer-level denial codes into what the
// payer can actually act on.
var acquirerMessages = map[string]string{
	"05": "Cartão recusado pelo emissor. Tente outro cartão.",
	"14": "Número de cartão inválido. Confira os dados.",
	"51": "Saldo ou limite insuficiente.",
	"54": "Cartão vencido. Use outro cartão.",
	"57": "Transação não permitida para este cartão.",
	"59": "Transação recusada por suspeita de fraude.",
	"62": "Cartão bloqueado para este tipo de compra.",
	"65": "Limite de tentativas excedido. Aguarde um momento.",
	"82": "CVV inválido. Confira o código de segurança.",
	"91": "Emissor do cartão fora do ar. Tente novamente.",
	"96": "Falha temporária no processamento. Tente novamente.",
}
