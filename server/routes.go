package server

import (
	"errors"
	"fancoil2mqtt/fancoil"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type deviceView struct {
	Name string `json:"name"`
	fancoil.DeviceState
	Attributes map[string]interface{} `json:"attributes"`
}

type errorView struct {
	Error string `json:"error"`
}

type targetTempRequest struct {
	Temperature *float64 `json:"temperature"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	api := e.Group("/api")
	api.GET("/devices", s.ListDevicesHandler)
	api.GET("/devices/:name", s.GetDeviceHandler)
	api.PUT("/devices/:name/targetTemp", s.SetTargetTempHandler)
	api.PUT("/devices/:name/hvacMode", s.SetHvacModeHandler)
	api.PUT("/devices/:name/fanMode", s.SetFanModeHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	if s.health != nil {
		if err := s.health(); err != nil {
			return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
		}
	}
	return c.String(http.StatusOK, "health_check: OK")
}

func view(u Unit) deviceView {
	state := u.State()
	return deviceView{
		Name:        u.Name(),
		DeviceState: state,
		Attributes:  state.Attributes(),
	}
}

func (s *Server) ListDevicesHandler(c echo.Context) error {
	views := make([]deviceView, 0, len(s.names))
	for _, name := range s.names {
		views = append(views, view(s.units[name]))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) GetDeviceHandler(c echo.Context) error {
	u, ok := s.units[c.Param("name")]
	if !ok {
		return c.JSON(http.StatusNotFound, errorView{Error: "unknown device"})
	}
	return c.JSON(http.StatusOK, view(u))
}

func (s *Server) SetTargetTempHandler(c echo.Context) error {
	var req targetTempRequest
	return s.command(c, &req, func(u Unit) error {
		if req.Temperature == nil {
			return fmt.Errorf("%w: missing temperature", fancoil.ErrInvalidCommand)
		}
		return u.SetTargetTemperature(*req.Temperature)
	})
}

func (s *Server) SetHvacModeHandler(c echo.Context) error {
	var req modeRequest
	return s.command(c, &req, func(u Unit) error {
		return u.SetHvacMode(req.Mode)
	})
}

func (s *Server) SetFanModeHandler(c echo.Context) error {
	var req modeRequest
	return s.command(c, &req, func(u Unit) error {
		return u.SetFanMode(req.Mode)
	})
}

// command looks up the unit, binds the request body and applies f.
// Validation errors map to 400 and bus or device errors to 502.
func (s *Server) command(c echo.Context, req interface{}, f func(u Unit) error) error {
	u, ok := s.units[c.Param("name")]
	if !ok {
		return c.JSON(http.StatusNotFound, errorView{Error: "unknown device"})
	}
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, errorView{Error: "malformed request"})
	}
	err := f(u)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, view(u))
	case errors.Is(err, fancoil.ErrInvalidCommand):
		return c.JSON(http.StatusBadRequest, errorView{Error: err.Error()})
	case errors.Is(err, fancoil.ErrTransport), errors.Is(err, fancoil.ErrInvalidDeviceState):
		s.logger.Warn("Command failed", zap.String("device", u.Name()), zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(http.StatusBadGateway, errorView{Error: err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, errorView{Error: err.Error()})
}
