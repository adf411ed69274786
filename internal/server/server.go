package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vayu-advisor/server/internal/agent/graph/conversations"
	"github.com/vayu-advisor/server/internal/agent/model"
	errx "github.com/vayu-advisor/server/internal/core/error"
	"github.com/vayu-advisor/server/internal/metrics"
	logx "github.com/vayu-advisor/server/pkg/logger"
)

// Sessions is the session API the handlers call.
type Sessions interface {
	Create(ctx context.Context, user model.UserInfo, prefs *model.ModelPreferences) (*model.AgentState, error)
	Get(ctx context.Context, sessionID string) (*model.AgentState, error)
	ProcessTurn(ctx context.Context, sessionID, text string) (*conversations.TurnResult, error)
	ClearHistory(ctx context.Context, sessionID string) (*model.AgentState, error)
	Logout(ctx context.Context, sessionID string) (*model.AgentState, error)
	UpdateProfile(ctx context.Context, sessionID string, user model.UserInfo) (*model.AgentState, error)
	UpdatePreferences(ctx context.Context, sessionID string, prefs model.ModelPreferences) (*model.AgentState, error)
	Delete(ctx context.Context, sessionID string) error
}

type Handler struct {
	sessions        Sessions
	selectorEnabled bool
	defaults        model.ModelPreferences
}

func NewHandler(sessions Sessions, selectorEnabled bool, defaults model.ModelPreferences) *Handler {
	return &Handler{sessions: sessions, selectorEnabled: selectorEnabled, defaults: defaults}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1")
	v1.GET("/models", h.ListModels)
	v1.POST("/sessions", h.CreateSession)
	v1.GET("/sessions/:id", h.GetSession)
	v1.DELETE("/sessions/:id", h.DeleteSession)
	v1.POST("/sessions/:id/messages", h.SendMessage)
	v1.PUT("/sessions/:id/profile", h.UpdateProfile)
	v1.PUT("/sessions/:id/preferences", h.UpdatePreferences)
	v1.POST("/sessions/:id/clear", h.ClearHistory)
	v1.POST("/sessions/:id/logout", h.Logout)
}

// New builds the echo server with logging, recovery and metrics middleware.
func New(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(RequestMetrics())
	e.Use(RequestLogger())
	h.RegisterRoutes(e)
	return e
}

// RequestMetrics counts requests and observes their latency by route.
func RequestMetrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			metrics.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			metrics.RequestCount.WithLabelValues(method, route, strconv.Itoa(c.Response().Status)).Inc()
			return nil
		}
	}
}

// RequestLogger logs one line per request through zerolog.
func RequestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := logx.Info()
			if v.Status >= http.StatusInternalServerError {
				ev = logx.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("path", v.URIPath).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("http request")
			return nil
		},
	})
}

// errorJSON maps err to its AppError status and a safe message.
func errorJSON(c echo.Context, err error) error {
	status := errx.StatusOf(err)
	msg := errx.SystemErrorMessage
	var appErr *errx.AppError
	if errors.As(err, &appErr) && status < http.StatusInternalServerError {
		msg = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		logx.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.JSON(status, map[string]string{"error": msg})
}
