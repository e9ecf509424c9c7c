package learner

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/distlab/paxoscluster/internal/paxos"
)

// RegisterRoutes wires the Learner's protocol surface.
func RegisterRoutes(e *echo.Echo, l *Learner, startedAt time.Time) {
	// /learn accepts either {notifications:[...]} or a bare single
	// notification. The body is read once; Bind would consume it on
	// the first decode attempt.
	e.POST("/learn", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request"})
		}

		var batch paxos.LearnBatch
		if err := json.Unmarshal(body, &batch); err == nil && len(batch.Notifications) > 0 {
			l.HandleLearnBatch(batch)
			return c.NoContent(http.StatusOK)
		}

		var single paxos.LearnNotification
		if err := json.Unmarshal(body, &single); err != nil || single.AcceptorID == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed request"})
		}
		l.HandleLearn(single)
		return c.NoContent(http.StatusOK)
	})

	e.GET("/get-values", func(c echo.Context) error {
		limit := 0
		if raw := c.QueryParam("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				limit = n
			}
		}
		values := l.GetValues(limit)
		all := l.GetValues(0)
		return c.JSON(http.StatusOK, paxos.GetValuesResponse{
			Values:        values,
			TotalCount:    len(all),
			ReturnedCount: len(values),
		})
	})

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status": "ok",
			"uptime": time.Since(startedAt).String(),
		})
	})
}
