package wavecache

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// MessageRequest is the body of POST {controlPrefix}/message.
type MessageRequest struct {
	Type string `json:"type" validate:"required"`
}

type MessageResponse struct {
	Type    string `json:"type"`
	State   string `json:"state"`
	Cleared int    `json:"cleared,omitempty"`
}

type requestValidator struct {
	validator *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

// Handler returns the HTTP surface: the control endpoints under the control
// prefix and the intercept for everything else. Proxy-form requests never
// reach the router.
func (s *Service) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validator: validator.New()}

	e.Pre(s.proxyFormMiddleware())
	e.Use(middleware.Recover())
	e.Use(s.requestLogMiddleware())
	e.Use(workerIDMiddleware(s.lifecycle.ID()))

	ctl := e.Group(strings.TrimSuffix(s.cfg.Server.ControlPrefix, "/"))
	ctl.POST("/message", s.handleMessage)
	ctl.GET("/status", s.handleStatus)
	ctl.GET("/healthz", s.handleHealth)
	ctl.GET("/metrics", echo.WrapHandler(s.metrics.handler()))

	e.Any("/*", echo.WrapHandler(http.HandlerFunc(s.handle)))
	return e
}

// proxyFormMiddleware hands absolute-URI requests straight to the intercept
// so a cross-origin path can never collide with a control route.
func (s *Service) proxyFormMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().URL.IsAbs() {
				c.Response().Header().Set("X-Wavecache-Worker", s.lifecycle.ID())
				s.handle(c.Response(), c.Request())
				return nil
			}
			return next(c)
		}
	}
}

func (s *Service) requestLogMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.String("source", c.Response().Header().Get("X-Wavecache")),
				zap.Duration("latency", v.Latency))
			return nil
		},
	})
}

func workerIDMiddleware(id string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-Wavecache-Worker", id)
			return next(c)
		}
	}
}

func (s *Service) handleMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, "invalid request")
	}
	if err := c.Validate(&req); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	l := s.lifecycle
	resp := MessageResponse{Type: normalizeMessage(req.Type)}

	var err error
	switch resp.Type {
	case MessageClearCache:
		resp.Cleared, err = l.ClearCaches(ctx)
	default:
		err = l.HandleMessage(ctx, req.Type)
	}
	if err != nil {
		if errors.Is(err, ErrUnknownMessage) {
			return c.String(http.StatusBadRequest, err.Error())
		}
		s.log.Error("control message failed", zap.String("type", req.Type), zap.Error(err))
		return c.String(http.StatusInternalServerError, err.Error())
	}
	s.log.Info("control message", zap.String("type", resp.Type), zap.String("worker", l.ID()))

	resp.State = l.State().String()
	return c.JSON(http.StatusOK, resp)
}

func (s *Service) handleStatus(c echo.Context) error {
	st, err := s.lifecycle.Status(c.Request().Context())
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Service) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}
