package acceptor

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/distlab/paxoscluster/internal/paxos"
)

var validate = validator.New()

// RegisterRoutes wires the Acceptor's protocol surface.
func RegisterRoutes(e *echo.Echo, a *Acceptor, startedAt time.Time) {
	e.POST("/prepare", func(c echo.Context) error {
		var req paxos.PrepareRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request"})
		}
		if err := validate.Struct(req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, a.HandlePrepare(req))
	})

	e.POST("/accept", func(c echo.Context) error {
		var req paxos.AcceptRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request"})
		}
		if err := validate.Struct(req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, a.HandleAccept(req))
	})

	e.POST("/heartbeat", func(c echo.Context) error {
		var req paxos.HeartbeatRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request"})
		}
		return c.JSON(http.StatusOK, a.HandleHeartbeat(req))
	})

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status": "ok",
			"uptime": time.Since(startedAt).String(),
		})
	})

	e.GET("/view-logs", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"history": a.History()})
	})
}
