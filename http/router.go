package http

import (
	"net/http"

	commonHTTP "github.com/ThreeDotsLabs/go-event-driven/common/http"
	"github.com/labstack/echo/v4"
)

var ErrServerClosed = http.ErrServerClosed

func NewRouter(checkouts Checkouts, inventory Inventory) *echo.Echo {
	server := commonHTTP.NewEcho()

	server.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	handler := handler{
		checkouts: checkouts,
		inventory: inventory,
	}

	server.GET("/tiers/:id/availability", handler.GetAvailability)

	server.POST("/checkout/confirm", handler.PostConfirm)
	server.POST("/checkout/reserve", handler.PostReserve)
	server.POST("/checkout/:id/process", handler.PostProcess)
	server.GET("/checkout/:id", handler.GetCheckout)
	server.DELETE("/checkout/:id", handler.DeleteCheckout)

	return server
}
