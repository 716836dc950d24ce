package http

import (
	"fmt"
	"net/http"
	"time"

	"boxoffice/checkout"
	"boxoffice/entity"

	"github.com/labstack/echo/v4"
)

type moneyResponse struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func newMoneyResponse(m entity.Money) moneyResponse {
	return moneyResponse{
		Amount:   m.Amount.StringFixed(2),
		Currency: m.Currency,
	}
}

type lineResponse struct {
	TierID    string        `json:"tier_id"`
	TierName  string        `json:"tier_name"`
	Quantity  int           `json:"quantity"`
	UnitPrice moneyResponse `json:"unit_price"`
}

type pricingResponse struct {
	Lines      []lineResponse `json:"lines"`
	Subtotal   moneyResponse  `json:"subtotal"`
	ServiceFee moneyResponse  `json:"service_fee"`
	Total      moneyResponse  `json:"total"`
}

func newPricingResponse(lines []entity.OrderLine, b entity.Breakdown) pricingResponse {
	res := pricingResponse{
		Lines:      make([]lineResponse, 0, len(lines)),
		Subtotal:   newMoneyResponse(b.Subtotal),
		ServiceFee: newMoneyResponse(b.ServiceFee),
		Total:      newMoneyResponse(b.Total),
	}
	for _, l := range lines {
		res.Lines = append(res.Lines, lineResponse{
			TierID:    l.TierID,
			TierName:  l.TierName,
			Quantity:  l.Quantity,
			UnitPrice: newMoneyResponse(l.UnitPrice),
		})
	}
	return res
}

type confirmRequest struct {
	EventFunctionID string         `json:"event_function_id"`
	Selection       map[string]int `json:"selection"`
}

type confirmResponse struct {
	ConfirmationToken string          `json:"confirmation_token"`
	ExpiresAt         time.Time       `json:"expires_at"`
	Pricing           pricingResponse `json:"pricing"`
}

func (h handler) PostConfirm(c echo.Context) error {
	var request confirmRequest
	if err := c.Bind(&request); err != nil {
		return bindError(fmt.Errorf("failed to bind request: %w", err))
	}

	confirmation, err := h.checkouts.Confirm(c.Request().Context(), checkout.ConfirmRequest{
		EventFunctionID: request.EventFunctionID,
		Selection:       request.Selection,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, confirmResponse{
		ConfirmationToken: confirmation.Token,
		ExpiresAt:         confirmation.ExpiresAt,
		Pricing:           newPricingResponse(confirmation.Quote.Lines, confirmation.Quote.Breakdown),
	})
}

type reserveRequest struct {
	ConfirmationToken string `json:"confirmation_token"`
	BuyerRef          string `json:"buyer_ref"`
}

type reserveResponse struct {
	CheckoutID string          `json:"checkout_id"`
	OrderID    string          `json:"order_id"`
	ExpiresAt  time.Time       `json:"expires_at"`
	Pricing    pricingResponse `json:"pricing"`
}

func (h handler) PostReserve(c echo.Context) error {
	var request reserveRequest
	if err := c.Bind(&request); err != nil {
		return bindError(fmt.Errorf("failed to bind request: %w", err))
	}

	reservation, err := h.checkouts.Reserve(c.Request().Context(), checkout.ReserveRequest{
		ConfirmationToken: request.ConfirmationToken,
		BuyerRef:          request.BuyerRef,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, reserveResponse{
		CheckoutID: reservation.CheckoutID,
		OrderID:    reservation.OrderID,
		ExpiresAt:  reservation.ExpiresAt,
		Pricing:    newPricingResponse(reservation.Quote.Lines, reservation.Quote.Breakdown),
	})
}

type processRequest struct {
	Payment struct {
		CardToken    string `json:"card_token"`
		CardBin      string `json:"card_bin"`
		Method       string `json:"payment_method"`
		Installments int    `json:"installments"`
	} `json:"payment"`
	Billing struct {
		Name           string `json:"name"`
		Email          string `json:"email"`
		DocumentType   string `json:"document_type"`
		DocumentNumber string `json:"document_number"`
		Address        string `json:"address"`
		City           string `json:"city"`
	} `json:"billing"`
	AcceptTerms bool `json:"accept_terms"`
}

type ticketResponse struct {
	Code   string `json:"code"`
	TierID string `json:"tier_id"`
}

type processResponse struct {
	OrderID       string           `json:"order_id"`
	TransactionID string           `json:"transaction_id"`
	Tickets       []ticketResponse `json:"tickets"`
}

func (h handler) PostProcess(c echo.Context) error {
	var request processRequest
	if err := c.Bind(&request); err != nil {
		return bindError(fmt.Errorf("failed to bind request: %w", err))
	}

	installments := request.Payment.Installments
	if installments <= 0 {
		installments = 1
	}

	receipt, err := h.checkouts.Process(c.Request().Context(), checkout.ProcessRequest{
		CheckoutID: c.Param("id"),
		Payment: entity.PaymentInput{
			CardToken:    request.Payment.CardToken,
			CardBin:      request.Payment.CardBin,
			Method:       request.Payment.Method,
			Installments: installments,
		},
		Billing: entity.BillingInfo{
			Name:           request.Billing.Name,
			Email:          request.Billing.Email,
			DocumentType:   request.Billing.DocumentType,
			DocumentNumber: request.Billing.DocumentNumber,
			Address:        request.Billing.Address,
			City:           request.Billing.City,
		},
		AcceptTerms: request.AcceptTerms,
	})
	if err != nil {
		return respondError(c, err)
	}

	res := processResponse{
		OrderID:       receipt.OrderID,
		TransactionID: receipt.TransactionID,
		Tickets:       make([]ticketResponse, 0, len(receipt.Tickets)),
	}
	for _, t := range receipt.Tickets {
		res.Tickets = append(res.Tickets, ticketResponse{Code: t.Code, TierID: t.TierID})
	}

	return c.JSON(http.StatusOK, res)
}

type checkoutResponse struct {
	CheckoutID    string          `json:"checkout_id"`
	OrderID       string          `json:"order_id"`
	State         string          `json:"state"`
	ExpiresAt     time.Time       `json:"expires_at"`
	TransactionID string          `json:"transaction_id,omitempty"`
	TicketCodes   []string        `json:"ticket_codes,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Pricing       pricingResponse `json:"pricing"`
}

func (h handler) GetCheckout(c echo.Context) error {
	status, err := h.checkouts.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, checkoutResponse{
		CheckoutID:    status.ID,
		OrderID:       status.OrderID,
		State:         string(status.State),
		ExpiresAt:     status.ExpiresAt,
		TransactionID: status.TransactionID,
		TicketCodes:   status.TicketCodes,
		FailureReason: status.FailureReason,
		Pricing:       newPricingResponse(status.Lines, status.Breakdown),
	})
}

func (h handler) DeleteCheckout(c echo.Context) error {
	if err := h.checkouts.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}
