package entity

type BillingInfo struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	Address        string `json:"address"`
	City           string `json:"city"`
}

type PaymentInput struct {
	CardToken    string `json:"card_token"`
	CardBin      string `json:"card_bin"`
	Method       string `json:"method"`
	Installments int    `json:"installments"`
}

type ChargeRequest struct {
	IdempotencyKey string       `json:"idempotency_key"`
	OrderID        string       `json:"order_id"`
	Amount         Money        `json:"amount"`
	Payment        PaymentInput `json:"payment"`
	Billing        BillingInfo  `json:"billing"`
}

type ChargeResult struct {
	Approved      bool   `json:"approved"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}
