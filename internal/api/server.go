package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/lmfit/internal/logger"
	"github.com/samcharles93/lmfit/internal/version"
	"github.com/samcharles93/lmfit/pkg/lmfit"
)

type Server struct {
	fits    *lmfit.Context
	store   *FitStore
	log     logger.Logger
	clock   func() time.Time
	maxBody int64
}

// NewServer serves fits on fc. A nil store keeps the default number of
// recent fits and a nil log discards.
func NewServer(fc *lmfit.Context, store *FitStore, log logger.Logger) *Server {
	if store == nil {
		store = NewFitStore(0)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		fits:    fc,
		store:   store,
		log:     log,
		clock:   time.Now,
		maxBody: defaultMaxBodyBytes,
	}
}

// SetMaxBodyBytes limits the size of request bodies.
func (s *Server) SetMaxBodyBytes(n int64) {
	if n > 0 {
		s.maxBody = n
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/fits", s.handleCreateFit)
	e.GET("/v1/fits/:id", s.handleGetFit)
	e.DELETE("/v1/fits/:id", s.handleDeleteFit)
	e.POST("/v1/preflight", s.handlePreflight)

	e.GET("/v1/device", s.handleDevice)
	e.POST("/v1/device/reset", s.handleReset)
	e.GET("/v1/errors/last", s.handleLastError)

	e.GET("/v1/models", s.handleModels)
	e.GET("/v1/version", s.handleVersion)
}

func (s *Server) handleDevice(c *echo.Context) error {
	resp := DeviceResponse{
		Object:       "device",
		Device:       s.fits.Device(),
		GPUAvailable: s.fits.GPUAvailable(),
		Solver:       s.fits.Solver(),
		Memory:       s.fits.MemStats(),
	}
	if v, err := s.fits.DeviceVersion(); err == nil {
		resp.Version = v.String()
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleReset(c *echo.Context) error {
	if err := s.fits.Reset(); err != nil {
		return writeFitError(c, err)
	}
	s.log.Info("device reset")
	return writeJSON(c, http.StatusOK, ResetResponse{Object: "device.reset", Reset: true})
}

func (s *Server) handleLastError(c *echo.Context) error {
	err := s.fits.LastErr()
	resp := LastErrorResponse{
		Object:  "error.last",
		Message: s.fits.LastError(),
		Status:  lmfit.Status(err),
	}
	if err != nil {
		resp.Class = lmfit.ClassOf(err).String()
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleModels(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, ModelsResponse{Object: "list", Data: lmfit.Models()})
}

func (s *Server) handleVersion(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, VersionResponse{Object: "version", Info: version.Resolve()})
}
