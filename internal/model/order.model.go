package model

// Order mirrors the order-service record this engine reads and partially
// writes. The order service owns the lifecycle; the engine only touches
// AmountPaid and Split.
type Order struct {
	ID          int64       `json:"id"`
	TableID     string      `json:"table_id"`
	TotalAmount float64     `json:"total_amount"`
	AmountPaid  float64     `json:"amount_paid"`
	Split       *SplitInfo  `json:"split,omitempty"`
	Items       []OrderItem `json:"items,omitempty"`
}

// OrderItem is a single line of the bill, used only to render the order
// summary back to the payer.
type OrderItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// Empty reports whether there is nothing to pay.
func (o *Order) Empty() bool { return o.TotalAmount <= 0 }

// Remaining is what is still owed on the order.
func (o *Order) Remaining() float64 {
	r := o.TotalAmount - o.AmountPaid
	if r < 0 {
		return 0
	}
	return r
}
