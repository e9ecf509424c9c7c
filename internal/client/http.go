package client

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/distlab/paxoscluster/internal/paxos"
)

var validate = validator.New()

// RegisterRoutes wires the client gateway's surface.
func RegisterRoutes(e *echo.Echo, g *Gateway, startedAt time.Time) {
	e.POST("/send", func(c echo.Context) error {
		if !g.Allow() {
			return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "rate limit exceeded"})
		}
		var req paxos.SendRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request"})
		}
		if err := validate.Struct(req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		status, body := g.Send(c.Request().Context(), req.Value)
		return c.JSON(status, body)
	})

	e.POST("/notify", func(c echo.Context) error {
		var note paxos.ClientNotification
		if err := c.Bind(&note); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request"})
		}
		g.HandleNotify(note)
		return c.JSON(http.StatusOK, echo.Map{"status": "acknowledged"})
	})

	e.GET("/read", func(c echo.Context) error {
		limit := 0
		if raw := c.QueryParam("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				limit = n
			}
		}
		out, err := g.Read(c.Request().Context(), limit)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, out)
	})

	e.GET("/get-responses", func(c echo.Context) error {
		responses := g.Responses()
		return c.JSON(http.StatusOK, echo.Map{
			"responses": responses,
			"count":     len(responses),
		})
	})

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status": "ok",
			"uptime": time.Since(startedAt).String(),
		})
	})
}
