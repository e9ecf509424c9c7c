package proposer

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/distlab/paxoscluster/internal/paxos"
)

var validate = validator.New()

// RegisterRoutes wires the Proposer's protocol surface.
func RegisterRoutes(e *echo.Echo, p *Proposer, startedAt time.Time) {
	e.POST("/propose", func(c echo.Context) error {
		var req paxos.ProposeRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request"})
		}
		if err := validate.Struct(req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		status, body := p.HandlePropose(c.Request().Context(), req)
		return c.JSON(status, body)
	})

	e.POST("/heartbeat", func(c echo.Context) error {
		var req paxos.HeartbeatRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request"})
		}
		return c.JSON(http.StatusOK, p.HandleHeartbeat(req))
	})

	e.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, p.Status())
	})

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status": "ok",
			"uptime": time.Since(startedAt).String(),
		})
	})
}
