package installer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ilievs/edgesim/core"
)

// Server is the installer's HTTP API.
type Server struct {
	echo      *echo.Echo
	installer *Installer
	metrics   *Metrics
	log       *slog.Logger
}

type installBody struct {
	SysID core.Identity `json:"sys_id"`
}

type deleteResponse struct {
	Device Device `json:"device"`
	Known  bool   `json:"known"`
}

func NewServer(installer *Installer, metrics *Metrics, logger *slog.Logger) *Server {
	s := &Server{
		echo:      echo.New(),
		installer: installer,
		metrics:   metrics,
		log:       logger.With("component", "http"),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	// Middleware
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Info("request",
				"method", v.Method, "uri", v.URI, "status", v.Status,
				"latency", v.Latency, "error", v.Error)
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.countRequests)

	// Routes
	s.echo.POST("/devices/install", s.handleInstall)
	s.echo.DELETE("/devices/:sysId", s.handleDelete)
	s.echo.GET("/devices", s.handleListDevices)
	s.echo.GET("/devices/:sysId", s.handleGetDevice)
	s.echo.GET("/sessions", s.handleSessions)
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return s
}

// Handler returns the API as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on address until Shutdown is called.
func (s *Server) Start(address string) error {
	s.log.Info("http api listening", "address", address)
	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleInstall(c echo.Context) error {
	body := new(installBody)
	if err := c.Bind(body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	d, err := s.installer.RequestInstall(c.Request().Context(), body.SysID)
	switch {
	case errors.Is(err, ErrInvalidSysID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.log.Error("install request failed", "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not reach devices")
	}
	return c.JSON(http.StatusAccepted, d)
}

func (s *Server) handleDelete(c echo.Context) error {
	id := core.Identity(c.Param("sysId"))
	d, known, err := s.installer.RequestDelete(c.Request().Context(), id)
	switch {
	case errors.Is(err, ErrInvalidSysID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.log.Error("delete request failed", "sys_id", id, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "could not reach devices")
	}
	return c.JSON(http.StatusAccepted, deleteResponse{Device: d, Known: known})
}

func (s *Server) handleListDevices(c echo.Context) error {
	return c.JSON(http.StatusOK, s.installer.Registry().ListDevices())
}

func (s *Server) handleGetDevice(c echo.Context) error {
	d, ok := s.installer.Registry().Get(core.Identity(c.Param("sysId")))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, ErrUnknownDevice.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.installer.Registry().Sessions())
}

func (s *Server) countRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		status := c.Response().Status
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			} else {
				status = http.StatusInternalServerError
			}
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.httpRequests.WithLabelValues(route, c.Request().Method, strconv.Itoa(status)).Inc()
		return err
	}
}
