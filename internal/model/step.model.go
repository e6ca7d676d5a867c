package model

// Step is the named state a conversation currently occupies.
type Step string

const (
	StepInitial                Step = "initial"
	StepProcessingOrder        Step = "processing_order"
	StepConfirmOrder           Step = "confirm_order"
	StepExtraTip               Step = "extra_tip"
	StepCollectDocument        Step = "collect_document"
	StepCollectName            Step = "collect_name"
	StepPaymentMethodSelection Step = "payment_method_selection"
	StepSelectSavedInstrument  Step = "select_saved_instrument"
	StepWaitingForPayment      Step = "waiting_for_payment"
	StepPixExpired             Step = "pix_expired"
	StepDelayedPayment         Step = "delayed_payment"
	StepPaymentError           Step = "payment_error"
	StepFeedback               Step = "feedback"
	StepFeedbackDetail         Step = "feedback_detail"
	StepUserAbandoned          Step = "user_abandoned"

	// Terminal steps. Conversations are never deleted, they end here.
	StepCompleted         Step = "completed"
	StepIncompleteOrder   Step = "incomplete_order"
	StepOrderNotFound     Step = "order_not_found"
	StepEmptyOrder        Step = "empty_order"
	StepPaymentInvalid    Step = "payment_invalid"
	StepPaymentAssistance Step = "payment_assistance"
)

// StepTransitions lists the valid forward transitions for each step. The
// engine refuses anything outside this map, so an out-of-order sweep or a
// replayed event can never drag a conversation backwards.
var StepTransitions = map[Step][]Step{
	StepInitial: {StepProcessingOrder, StepUserAbandoned},
	StepProcessingOrder: {
		StepConfirmOrder, StepOrderNotFound, StepEmptyOrder,
		StepIncompleteOrder, StepPaymentAssistance, StepProcessingOrder,
	},
	StepConfirmOrder: {
		StepExtraTip, StepProcessingOrder, StepIncompleteOrder,
		StepUserAbandoned, StepPaymentAssistance,
	},
	StepExtraTip: {
		StepCollectDocument, StepProcessingOrder, StepUserAbandoned,
		StepPaymentAssistance,
	},
	StepCollectDocument: {
		StepCollectName, StepProcessingOrder, StepUserAbandoned,
		StepPaymentAssistance,
	},
	StepCollectName: {
		StepPaymentMethodSelection, StepProcessingOrder, StepUserAbandoned,
		StepPaymentAssistance,
	},
	StepPaymentMethodSelection: {
		StepWaitingForPayment, StepSelectSavedInstrument, StepProcessingOrder,
		StepPaymentError, StepPaymentInvalid, StepUserAbandoned,
		StepPaymentAssistance,
	},
	StepSelectSavedInstrument: {
		StepWaitingForPayment, StepPaymentMethodSelection, StepPaymentError,
		StepUserAbandoned, StepPaymentAssistance,
	},
	StepWaitingForPayment: {
		StepFeedback, StepPixExpired, StepDelayedPayment, StepPaymentError,
		StepPaymentInvalid, StepUserAbandoned, StepWaitingForPayment,
	},
	StepPixExpired: {
		StepWaitingForPayment, StepPaymentMethodSelection, StepUserAbandoned,
		StepPaymentAssistance,
	},
	StepDelayedPayment: {
		StepFeedback, StepPixExpired, StepPaymentError, StepPaymentInvalid,
		StepUserAbandoned, StepWaitingForPayment,
	},
	StepPaymentError: {
		StepPaymentMethodSelection, StepWaitingForPayment, StepProcessingOrder,
		StepPaymentInvalid, StepUserAbandoned, StepPaymentAssistance,
	},
	StepFeedback:       {StepFeedbackDetail, StepCompleted},
	StepFeedbackDetail: {StepFeedbackDetail, StepCompleted},
	StepUserAbandoned:  {StepProcessingOrder},

	StepCompleted:         {},
	StepIncompleteOrder:   {},
	StepOrderNotFound:     {},
	StepEmptyOrder:        {},
	StepPaymentInvalid:    {},
	StepPaymentAssistance: {},
}

// Terminal reports whether the step is a final state.
func (s Step) Terminal() bool {
	return len(StepTransitions[s]) == 0
}

// NoReminder reports whether the inactivity sweep must leave the
// conversation alone: a payment is in flight, feedback is being collected,
// or the conversation already ended.
func (s Step) NoReminder() bool {
	switch s {
	case StepWaitingForPayment, StepDelayedPayment, StepFeedback,
		StepFeedbackDetail, StepUserAbandoned:
		return true
	}
	return s.Terminal()
}

// CanTransition reports whether moving from s to next is allowed.
func (s Step) CanTransition(next Step) bool {
	for _, t := range StepTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Valid reports whether the step is one of the enumerated states.
func (s Step) Valid() bool {
	_, ok := StepTransitions[s]
	return ok
}
