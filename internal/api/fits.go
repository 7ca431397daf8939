package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/lmfit/pkg/lmfit"
)

func (spec JobSpec) config() (lmfit.Config, error) {
	model, err := lmfit.ParseModel(spec.Model)
	if err != nil {
		return lmfit.Config{}, newInvalidRequest(err.Error())
	}
	est, err := lmfit.ParseEstimator(spec.Estimator)
	if err != nil {
		return lmfit.Config{}, newInvalidRequest(err.Error())
	}
	cfg := lmfit.Config{
		NumFits:         spec.NumFits,
		NumPoints:       spec.NumPoints,
		Model:           model,
		Estimator:       est,
		NumValidCoefs:   spec.NumValidCoefs,
		ParametersToFit: spec.ParametersToFit,
		Tolerance:       lmfit.DefaultTolerance,
		MaxIterations:   lmfit.DefaultMaxIterations,
	}
	if spec.Tolerance != nil {
		cfg.Tolerance = *spec.Tolerance
	}
	if spec.MaxIterations != nil {
		cfg.MaxIterations = *spec.MaxIterations
	}
	return cfg, nil
}

func (req *FitRequest) job() (*lmfit.Job, error) {
	cfg, err := req.config()
	if err != nil {
		return nil, err
	}
	layout, err := lmfit.ParseLayout(req.Layout)
	if err != nil {
		return nil, newInvalidRequest(err.Error())
	}
	if len(req.XValues) > 0 && len(req.UserInfo) > 0 {
		return nil, newInvalidRequest("x_values and user_info are mutually exclusive")
	}
	job := &lmfit.Job{
		NumFits:           cfg.NumFits,
		NumPoints:         cfg.NumPoints,
		Model:             cfg.Model,
		Estimator:         cfg.Estimator,
		Tolerance:         cfg.Tolerance,
		MaxIterations:     cfg.MaxIterations,
		NumValidCoefs:     cfg.NumValidCoefs,
		ParametersToFit:   cfg.ParametersToFit,
		Data:              req.Data,
		Weights:           req.Weights,
		Layout:            layout,
		InitialParameters: req.InitialParameters,
		UserInfo:          req.UserInfo,
	}
	if len(req.XValues) > 0 {
		job.UserInfo = lmfit.EncodeXValues(req.XValues)
	}
	return job, nil
}

func (s *Server) handleCreateFit(c *echo.Context) error {
	body := http.MaxBytesReader(nil, c.Request().Body, s.maxBody)
	req, err := decodeJSON[FitRequest](body)
	if err != nil {
		return writeBadRequest(c, fmt.Sprintf("decode request: %v", err))
	}
	job, err := req.job()
	if err != nil {
		return writeFitError(c, err)
	}

	id := NewFitID()
	log := s.log.With("id", id)
	res, err := s.fits.Fit(c.Request().Context(), job)
	if err != nil {
		log.Warn("fit rejected", "error", err)
		return writeFitError(c, err)
	}

	resp := NewFitResponse(id, s.fits.Solver(), s.clock(), job, res, req.StandardErrors)
	s.store.Save(resp)
	log.Info("fit completed",
		"model", resp.Model,
		"fits", job.NumFits,
		"chunks", res.Chunks,
		"converged", resp.Summary[lmfit.Converged.String()],
		"elapsed", res.Elapsed,
	)
	return writeJSON(c, http.StatusOK, resp)
}

// NewFitResponse renders the results of job. Standard errors are computed
// only when withErrors is set.
func NewFitResponse(id, solver string, created time.Time, job *lmfit.Job, res *lmfit.Results, withErrors bool) *FitResponse {
	resp := &FitResponse{
		ID:            id,
		Object:        "fit",
		CreatedAt:     created.Unix(),
		Status:        "completed",
		Model:         job.Model.String(),
		Estimator:     job.Estimator.String(),
		Solver:        solver,
		NumFits:       job.NumFits,
		NumParameters: res.NumParameters,
		Parameters:    numbers(res.Parameters),
		States:        res.States,
		ChiSquares:    numbers(res.ChiSquares),
		Iterations:    res.Iterations,
		Summary:       res.Summary(),
		Chunks:        res.Chunks,
		ChunkSize:     res.ChunkSize,
		ElapsedMS:     float64(res.Elapsed.Microseconds()) / 1e3,
	}
	if withErrors {
		resp.StandardErrors = standardErrors(job, res)
	}
	return resp
}

// standardErrors reports null for fits whose curvature cannot be inverted.
func standardErrors(job *lmfit.Job, res *lmfit.Results) []Number {
	out := make([]Number, 0, len(res.Parameters))
	for i := range job.NumFits {
		se, err := lmfit.StandardErrors(job, res, i)
		if err != nil {
			for range res.NumParameters {
				out = append(out, Number(math.NaN()))
			}
			continue
		}
		out = append(out, numbers(se)...)
	}
	return out
}

func (s *Server) handleGetFit(c *echo.Context) error {
	resp, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "fit not found")
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleDeleteFit(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "fit not found")
	}
	return writeJSON(c, http.StatusOK, DeleteFitResponse{ID: id, Object: "fit", Deleted: true})
}

func (s *Server) handlePreflight(c *echo.Context) error {
	body := http.MaxBytesReader(nil, c.Request().Body, s.maxBody)
	req, err := decodeJSON[PreflightRequest](body)
	if err != nil {
		return writeBadRequest(c, fmt.Sprintf("decode request: %v", err))
	}
	cfg, err := req.config()
	if err != nil {
		return writeFitError(c, err)
	}
	cfg.WithWeights = req.Weights
	cfg.UserInfoSize = req.UserInfoSize

	info, err := s.fits.Configure(cfg)
	switch {
	case err == nil:
		return writeJSON(c, http.StatusOK, PreflightResponse{Object: "preflight", Sufficient: true, Info: &info})
	case errors.Is(err, lmfit.ErrOutOfMemory):
		return writeJSON(c, http.StatusOK, PreflightResponse{Object: "preflight", Reason: err.Error()})
	default:
		return writeFitError(c, err)
	}
}
