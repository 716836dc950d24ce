package http

import (
	"context"
	"errors"
	"net/http"

	"boxoffice/checkout"
	"boxoffice/entity"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/labstack/echo/v4"
)

type Checkouts interface {
	Confirm(ctx context.Context, req checkout.ConfirmRequest) (checkout.Confirmation, error)
	Reserve(ctx context.Context, req checkout.ReserveRequest) (checkout.Reservation, error)
	Process(ctx context.Context, req checkout.ProcessRequest) (checkout.Receipt, error)
	Status(ctx context.Context, checkoutID string) (entity.Checkout, error)
	Cancel(ctx context.Context, checkoutID string) error
}

type Inventory interface {
	AvailabilityOf(ctx context.Context, tierID string) (int, error)
}

type handler struct {
	checkouts Checkouts
	inventory Inventory
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  string `json:"payment_status,omitempty"`
	Reason  string `json:"payment_reason,omitempty"`
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, entity.ErrInconsistentCommit):
		return http.StatusInternalServerError
	case errors.Is(err, entity.ErrInvalidSelection),
		errors.Is(err, entity.ErrTermsNotAccepted):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, entity.ErrInsufficientInventory),
		errors.Is(err, entity.ErrInvalidCheckoutState):
		return http.StatusConflict
	case errors.Is(err, entity.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, entity.ErrSessionNotFound),
		errors.Is(err, entity.ErrCheckoutNotFound),
		errors.Is(err, entity.ErrTierNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the failure as {code, message}. Internal details are
// logged, not returned.
func respondError(c echo.Context, err error) error {
	code := statusCode(err)
	body := errorResponse{
		Code:    entity.ReasonCode(err),
		Message: err.Error(),
	}

	var declined *entity.PaymentDeclinedError
	if errors.As(err, &declined) && !errors.Is(err, entity.ErrInconsistentCommit) {
		body.Status = declined.Status
		body.Reason = declined.Reason
	}

	logger := log.FromContext(c.Request().Context()).WithError(err).WithField("code", body.Code)
	if code >= http.StatusInternalServerError {
		logger.Error("Request failed")
		body.Message = http.StatusText(code)
	} else {
		logger.Info("Request rejected")
	}

	return c.JSON(code, body)
}

func bindError(err error) error {
	return &echo.HTTPError{
		Code:     http.StatusBadRequest,
		Message:  "failed to parse request",
		Internal: err,
	}
}
