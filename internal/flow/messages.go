package flow

import (
	"fmt"
	"strings"

	"github.com/mesapay/chatpay/internal/model"
)

// User-facing texts, pt-BR. Kept in one place so the flow handlers stay
// readable and the copy can be reviewed without digging through logic.

const (
	msgWelcome            = "Olá! Para pagar sua conta, envie \"pagar mesa\" seguido do número da comanda. Ex: pagar mesa 12"
	msgOrderNotFound      = "Não encontrei essa comanda. Confira o número e tente de novo, por favor."
	msgOrderEmpty         = "Essa comanda ainda não tem itens lançados. Chame um garçom para conferir, por favor."
	msgOrderBusy          = "Essa comanda já está sendo paga por outra pessoa. Se for um engano, fale com o garçom."
	msgConfirmOrder       = "Encontrei sua comanda! O total é R$ %s. Deseja pagar sozinho ou dividir a conta?"
	msgAskSplitCount      = "Entre quantas pessoas vamos dividir? (incluindo você)"
	msgAskSplitContacts   = "Me envie o nome e o telefone de cada pessoa, um por mensagem. Ex: Maria 11999998888"
	msgSplitReady         = "Prontinho! Dividi a conta em %d partes de R$ %s. Todo mundo já recebeu o link de pagamento."
	msgSplitInvite        = "Olá, %s! %s dividiu a conta da mesa %s com você. Sua parte ficou em R$ %s."
	msgAskTip             = "Deseja adicionar uma gorjeta? Escolha uma opção ou digite a porcentagem."
	msgTipUnrecognized    = "Não entendi. Escolha 3%, 5%, 7% ou responda \"sem gorjeta\"."
	msgAskDocument        = "Quase lá! Me envie seu CPF ou CNPJ para emitir o comprovante."
	msgDocumentInvalid    = "Esse documento não parece válido. Confere pra mim e envia de novo, por favor?"
	msgAskName            = "Como você gostaria de aparecer no comprovante?"
	msgAskPaymentMethod   = "Como prefere pagar R$ %s?"
	msgAskSavedInstrument = "Você tem cartões salvos. Quer usar um deles?"
	msgPixCode            = "Aqui está seu código PIX, válido por %d minutos:\n\n%s"
	msgPixExpired         = "Seu código PIX expirou. Quer que eu gere um novo?"
	msgAskCard            = "Me envie os dados do cartão: número, validade (MM/AA) e CVV, separados por espaço."
	msgCardUnrecognized   = "Não reconheci a bandeira desse cartão. Confira o número, por favor."
	msgAnalyzingReceipt   = "Recebi seu comprovante! Estou conferindo, um instante."
	msgCardProcessing     = "Pagamento enviado! Te aviso assim que for aprovado."
	msgStillWaiting       = "Ainda estou aguardando a confirmação do pagamento. Te aviso assim que cair!"
	msgPaymentReceived    = "Pagamento confirmado! 🎉 Seu comprovante chega já já."
	msgPaymentPartial     = "Pagamento confirmado! Ainda falta R$ %s para quitar a comanda."
	msgPaymentFailed      = "O pagamento não foi aprovado: %s. Quer tentar de novo?"
	msgDelayNotice        = "Está demorando um pouco mais que o normal por aqui. Já estou resolvendo, só um instante!"
	msgAssistance         = "Algo deu errado por aqui e já chamei alguém da equipe para te ajudar. Desculpe o transtorno!"
	msgAskFeedback        = "Tudo certo! De 1 a 5, como foi sua experiência hoje?"
	msgAskFeedbackDetail  = "Poxa! Conta pra gente o que aconteceu?"
	msgAskVenue           = "Obrigado por contar. Tem algum outro lugar que você recomendaria pra gente conhecer?"
	msgThanks             = "Obrigado! Volte sempre. 💛"
)

func fmtMoney(v float64) string {
	return strings.ReplaceAll(fmt.Sprintf("%.2f", v), ".", ",")
}

// Button ids for interactive choices.
const (
	btnPayAlone   = "pay_alone"
	btnPaySplit   = "pay_split"
	btnTip3       = "tip_3"
	btnTip5       = "tip_5"
	btnTip7       = "tip_7"
	btnTipNone    = "tip_none"
	btnMethodPix  = "method_pix"
	btnMethodCard = "method_card"
	btnPixRenew   = "pix_renew"
	btnUseSaved   = "use_saved_card"
	btnNewCard    = "new_card"
	btnRetryPay   = "retry_payment"
)

// Choice is one interactive button of an outbound message.
type Choice struct {
	ID    string
	Label string
}

var tipChoices = []Choice{
	{ID: btnTip3, Label: "3%"},
	{ID: btnTip5, Label: "5%"},
	{ID: btnTip7, Label: "7%"},
	{ID: btnTipNone, Label: "Sem gorjeta"},
}

var splitChoices = []Choice{
	{ID: btnPayAlone, Label: "Pagar sozinho"},
	{ID: btnPaySplit, Label: "Dividir a conta"},
}

var methodChoices = []Choice{
	{ID: btnMethodPix, Label: "PIX"},
	{ID: btnMethodCard, Label: "Cartão de crédito"},
}

var renewChoices = []Choice{
	{ID: btnPixRenew, Label: "Gerar novo PIX"},
}

var retryChoices = []Choice{
	{ID: btnRetryPay, Label: "Tentar de novo"},
}

var buttonTipValues = map[string]float64{
	btnTip3:    3,
	btnTip5:    5,
	btnTip7:    7,
	btnTipNone: 0,
}

var buttonMethods = map[string]model.PaymentMethod{
	btnMethodPix:  model.MethodPix,
	btnMethodCard: model.MethodCard,
}
