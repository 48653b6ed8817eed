package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tv-executor/internal/domain"
)

type webhookResponse struct {
	Success bool `json:"success"`
	*domain.OrderResult
	Error string `json:"error,omitempty"`
}

// webhook runs the raw body through the pipeline. Client errors map to 4xx,
// everything else to 500.
func (s *Server) webhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPayloadBytes)
	raw, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, webhookResponse{Error: "Validation Error: payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, webhookResponse{Error: "Validation Error: unreadable body"})
		return
	}

	res, err := s.Engine.Execute(c.Request.Context(), raw)
	if err != nil {
		derr := domain.From(err)
		level := slog.LevelWarn
		if domain.IsClientError(derr) {
			level = slog.LevelInfo
		}
		s.Logger.Log(c.Request.Context(), level, "webhook rejected", "request_id", c.GetString(requestIDKey), "kind", derr.Kind(), "error", derr.Error())
		c.JSON(statusFor(derr), webhookResponse{Error: derr.Error()})
		return
	}
	c.JSON(http.StatusOK, webhookResponse{Success: true, OrderResult: &res})
}

func statusFor(err domain.Error) int {
	if !domain.IsClientError(err) {
		return http.StatusInternalServerError
	}
	if err.Kind() == domain.KindAuthentication {
		return http.StatusUnauthorized
	}
	return http.StatusBadRequest
}

func (s *Server) health(c *gin.Context) {
	st := s.Engine.Status(c.Request.Context())
	body := gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		"uptime":    st.Uptime().Seconds(),
		"version":   st.Version,
		"dryRun":    st.DryRun,
		"exchanges": st.Exchanges,
	}
	if s.Metrics != nil {
		body["executions"] = s.Metrics.Snapshot()
	}
	if st.DryRun {
		body["paper"] = st.Paper
	}
	c.JSON(http.StatusOK, body)
}
