package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"boxoffice/entity"

	"github.com/ThreeDotsLabs/go-event-driven/common/clients"
	"github.com/ThreeDotsLabs/go-event-driven/common/clients/payments"
	"github.com/shopspring/decimal"
)

// PaymentsClient charges buyers through the payment gateway and refunds
// charges that could not be turned into a sale.
type PaymentsClient struct {
	client    payments.ClientWithResponsesInterface
	http      *http.Client
	chargeURL string
}

func NewPaymentsClient(c *clients.Clients, gatewayAddress string, httpClient *http.Client) PaymentsClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return PaymentsClient{
		client:    c.Payments,
		http:      httpClient,
		chargeURL: strings.TrimRight(gatewayAddress, "/") + "/payments-api/charges",
	}
}

type chargeRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	OrderID        string          `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	CardToken      string          `json:"card_token"`
	CardBin        string          `json:"card_bin,omitempty"`
	Method         string          `json:"payment_method"`
	Installments   int             `json:"installments"`
	Payer          chargePayer     `json:"payer"`
}

type chargePayer struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	DocumentType   string `json:"document_type,omitempty"`
	DocumentNumber string `json:"document_number,omitempty"`
	Address        string `json:"address,omitempty"`
	City           string `json:"city,omitempty"`
}

type chargeResponse struct {
	Approved      bool   `json:"approved"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

// Charge submits a single charge. A declined charge is a result, not an
// error; errors mean the gateway could not give an answer.
func (c PaymentsClient) Charge(ctx context.Context, req entity.ChargeRequest) (entity.ChargeResult, error) {
	body, err := json.Marshal(chargeRequest{
		IdempotencyKey: req.IdempotencyKey,
		OrderID:        req.OrderID,
		Amount:         req.Amount.Amount,
		Currency:       req.Amount.Currency,
		CardToken:      req.Payment.CardToken,
		CardBin:        req.Payment.CardBin,
		Method:         req.Payment.Method,
		Installments:   req.Payment.Installments,
		Payer: chargePayer{
			Name:           req.Billing.Name,
			Email:          req.Billing.Email,
			DocumentType:   req.Billing.DocumentType,
			DocumentNumber: req.Billing.DocumentNumber,
			Address:        req.Billing.Address,
			City:           req.Billing.City,
		},
	})
	if err != nil {
		return entity.ChargeResult{}, fmt.Errorf("marshalling charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chargeURL, bytes.NewReader(body))
	if err != nil {
		return entity.ChargeResult{}, fmt.Errorf("creating charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if err := withCorrelationID(ctx, httpReq); err != nil {
		return entity.ChargeResult{}, err
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return entity.ChargeResult{}, fmt.Errorf("post charge request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusPaymentRequired:
	default:
		return entity.ChargeResult{}, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	var charge chargeResponse
	if err := json.NewDecoder(res.Body).Decode(&charge); err != nil {
		return entity.ChargeResult{}, fmt.Errorf("decoding charge response: %w", err)
	}

	return entity.ChargeResult{
		Approved:      charge.Approved && res.StatusCode != http.StatusPaymentRequired,
		TransactionID: charge.TransactionID,
		Status:        charge.Status,
		FailureReason: charge.FailureReason,
	}, nil
}

func (c PaymentsClient) Refund(ctx context.Context, transactionID, idempotencyKey string) error {
	res, err := c.client.PutRefundsWithResponse(ctx, payments.PaymentRefundRequest{
		PaymentReference: transactionID,
		Reason:           "sale could not be completed",
		DeduplicationId:  &idempotencyKey,
	})
	if err != nil {
		return fmt.Errorf("put refund request: %w", err)
	}

	if res.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", res.StatusCode())
	}

	return nil
}
