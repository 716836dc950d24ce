package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type availabilityResponse struct {
	TierID    string `json:"tier_id"`
	Available int    `json:"available"`
}

func (h handler) GetAvailability(c echo.Context) error {
	tierID := c.Param("id")

	available, err := h.inventory.AvailabilityOf(c.Request().Context(), tierID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, availabilityResponse{
		TierID:    tierID,
		Available: available,
	})
}
