package api

import (
	"github.com/samcharles93/lmfit/internal/device"
	"github.com/samcharles93/lmfit/internal/version"
	"github.com/samcharles93/lmfit/pkg/lmfit"
)

// JobSpec is the shape of a job shared by fit and preflight requests.
type JobSpec struct {
	Model           string   `json:"model"`
	Estimator       string   `json:"estimator,omitempty"`
	NumFits         int      `json:"num_fits"`
	NumPoints       int      `json:"num_points"`
	NumValidCoefs   int      `json:"num_valid_coefs,omitempty"`
	ParametersToFit []bool   `json:"parameters_to_fit,omitempty"`
	Tolerance       *float64 `json:"tolerance,omitempty"`
	MaxIterations   *int     `json:"max_iterations,omitempty"`
}

type FitRequest struct {
	JobSpec

	Layout            string    `json:"layout,omitempty"`
	Data              []float64 `json:"data"`
	Weights           []float64 `json:"weights,omitempty"`
	InitialParameters []float64 `json:"initial_parameters"`

	// XValues is encoded as float64 user info. It is exclusive with UserInfo.
	XValues  []float64 `json:"x_values,omitempty"`
	UserInfo []byte    `json:"user_info,omitempty"`

	StandardErrors bool `json:"standard_errors,omitempty"`
}

type FitResponse struct {
	ID            string `json:"id"`
	Object        string `json:"object"`
	CreatedAt     int64  `json:"created_at"`
	Status        string `json:"status"`
	Model         string `json:"model"`
	Estimator     string `json:"estimator"`
	Solver        string `json:"solver"`
	NumFits       int    `json:"num_fits"`
	NumParameters int    `json:"num_parameters"`

	Parameters     []Number       `json:"parameters"`
	StandardErrors []Number       `json:"standard_errors,omitempty"`
	States         []lmfit.State  `json:"states"`
	ChiSquares     []Number       `json:"chi_squares"`
	Iterations     []int          `json:"iterations"`
	Summary        map[string]int `json:"summary"`

	Chunks    int     `json:"chunks"`
	ChunkSize int     `json:"chunk_size"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

type PreflightRequest struct {
	JobSpec

	Weights      bool `json:"weights,omitempty"`
	UserInfoSize int  `json:"user_info_size,omitempty"`
}

type PreflightResponse struct {
	Object     string      `json:"object"`
	Sufficient bool        `json:"sufficient"`
	Info       *lmfit.Info `json:"info,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

type DeviceResponse struct {
	Object       string          `json:"object"`
	Device       device.Info     `json:"device"`
	GPUAvailable bool            `json:"gpu_available"`
	Version      string          `json:"version,omitempty"`
	Solver       string          `json:"solver"`
	Memory       device.MemStats `json:"memory"`
}

type LastErrorResponse struct {
	Object  string `json:"object"`
	Message string `json:"message"`
	Class   string `json:"class,omitempty"`
	Status  int    `json:"status"`
}

type ResetResponse struct {
	Object string `json:"object"`
	Reset  bool   `json:"reset"`
}

type ModelsResponse struct {
	Object string            `json:"object"`
	Data   []lmfit.ModelInfo `json:"data"`
}

type DeleteFitResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type VersionResponse struct {
	Object string `json:"object"`
	version.Info
}
