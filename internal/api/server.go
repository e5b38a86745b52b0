// Package api exposes the assertion registry over HTTP for sidecar-style
// deployments: scrape a snapshot from a failing job, render the report
// elsewhere.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/vigil/pkg/dsa"
)

type Server struct {
	reg      *dsa.Registry
	instance string
	version  string
	clock    func() time.Time
}

func NewServer(reg *dsa.Registry, version string) *Server {
	if reg == nil {
		reg = dsa.Default()
	}
	return &Server{
		reg:      reg,
		instance: "vigil_" + uuid.NewString(),
		version:  version,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealthz)
	e.GET("/v1/status", s.handleStatus)
	e.GET("/v1/snapshot", s.handleSnapshot)
	e.GET("/v1/report", s.handleReport)
	e.GET("/v1/devices/:id/assertions", s.handleDeviceAssertions)
}

func (s *Server) handleHealthz(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Object:      "vigil.status",
		Instance:    s.instance,
		Version:     s.version,
		Platform:    s.reg.PlatformName(),
		Enabled:     s.reg.Enabled(),
		StackTraces: s.reg.StackTracesEnabled(),
		Failed:      s.reg.HasFailed(),
		Generations: s.reg.Generations(),
		LogCapacity: s.reg.LogCapacity(),
		Devices:     s.reg.AllocatedBuffers(),
	})
}

func (s *Server) handleSnapshot(c *echo.Context) error {
	doc := NewSnapshotDocument(s.reg.Snapshot(), s.reg.PlatformName(), s.clock())
	b, err := EncodeSnapshot(doc)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, b)
}

func (s *Server) handleReport(c *echo.Context) error {
	return c.String(http.StatusOK, s.reg.Report())
}

func (s *Server) handleDeviceAssertions(c *echo.Context) error {
	device, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return writeBadRequest(c, "device id must be an integer")
	}
	snap := s.reg.Snapshot()
	for _, dev := range snap.Devices {
		if dev.Device == device {
			return c.JSON(http.StatusOK, deviceJSON(dev))
		}
	}
	return writeNotFound(c, "device has no assertion buffer")
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{
			Message: msg,
			Type:    errType,
		},
	})
}
