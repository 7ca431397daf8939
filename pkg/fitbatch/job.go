package fitbatch

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/samcharles93/lmfit/pkg/lmfit"
)

// JobInfo is the JSON metadata section of a batch file.
type JobInfo struct {
	Model           string  `json:"model"`
	ModelID         int     `json:"model_id"`
	Estimator       string  `json:"estimator"`
	NumFits         int     `json:"num_fits"`
	NumPoints       int     `json:"num_points"`
	NumParameters   int     `json:"num_parameters"`
	NumValidCoefs   int     `json:"num_valid_coefs,omitempty"`
	ParametersToFit []bool  `json:"parameters_to_fit,omitempty"`
	Tolerance       float64 `json:"tolerance"`
	MaxIterations   int     `json:"max_iterations"`
	Layout          string  `json:"layout"`
	Weights         bool    `json:"weights"`
	UserInfoSize    int     `json:"user_info_size"`
	CreatedAt       string  `json:"created_at,omitempty"`
}

// ResultInfo is the JSON metadata of the result sections.
type ResultInfo struct {
	NumFits       int            `json:"num_fits"`
	NumParameters int            `json:"num_parameters"`
	Chunks        int            `json:"chunks"`
	ChunkSize     int            `json:"chunk_size"`
	ElapsedNS     int64          `json:"elapsed_ns"`
	Summary       map[string]int `json:"summary"`
}

func jobInfo(job *lmfit.Job) (JobInfo, error) {
	m, ok := lmfit.LookupModel(job.Model)
	if !ok {
		return JobInfo{}, fmt.Errorf("fitbatch: unknown model %d", job.Model)
	}
	return JobInfo{
		Model:           m.Name(),
		ModelID:         int(job.Model),
		Estimator:       job.Estimator.String(),
		NumFits:         job.NumFits,
		NumPoints:       job.NumPoints,
		NumParameters:   m.NumParameters(),
		NumValidCoefs:   job.NumValidCoefs,
		ParametersToFit: job.ParametersToFit,
		Tolerance:       job.Tolerance,
		MaxIterations:   job.MaxIterations,
		Layout:          job.Layout.String(),
		Weights:         job.Weights != nil,
		UserInfoSize:    len(job.UserInfo),
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// WriteJob writes the input sections of job.
func WriteJob(w *Writer, job *lmfit.Job) error {
	info, err := jobInfo(job)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("fitbatch: encode job info: %w", err)
	}
	if err := w.WriteSection(SectionJobInfo, raw); err != nil {
		return err
	}
	if err := w.WriteFloat64s(SectionData, job.Data); err != nil {
		return err
	}
	if job.Weights != nil {
		if err := w.WriteFloat64s(SectionWeights, job.Weights); err != nil {
			return err
		}
	}
	if err := w.WriteFloat64s(SectionInitialParameters, job.InitialParameters); err != nil {
		return err
	}
	if len(job.UserInfo) > 0 {
		if err := w.WriteSection(SectionUserInfo, job.UserInfo); err != nil {
			return err
		}
	}
	return nil
}

// WriteResults writes the result sections and marks the file as fitted.
func WriteResults(w *Writer, res *lmfit.Results) error {
	info := ResultInfo{
		NumFits:       len(res.States),
		NumParameters: res.NumParameters,
		Chunks:        res.Chunks,
		ChunkSize:     res.ChunkSize,
		ElapsedNS:     res.Elapsed.Nanoseconds(),
		Summary:       res.Summary(),
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("fitbatch: encode result info: %w", err)
	}
	if err := w.WriteSection(SectionResultInfo, raw); err != nil {
		return err
	}
	if err := w.WriteFloat64s(SectionParameters, res.Parameters); err != nil {
		return err
	}
	states := make([]int32, len(res.States))
	for i, s := range res.States {
		states[i] = int32(s)
	}
	if err := w.WriteInt32s(SectionStates, states); err != nil {
		return err
	}
	if err := w.WriteFloat64s(SectionChiSquares, res.ChiSquares); err != nil {
		return err
	}
	iters := make([]int32, len(res.Iterations))
	for i, n := range res.Iterations {
		iters[i] = int32(n)
	}
	if err := w.WriteInt32s(SectionIterations, iters); err != nil {
		return err
	}
	return w.AddFlags(FlagHasResults)
}

func (f *File) JobInfo() (JobInfo, error) {
	var info JobInfo
	raw, err := f.payload(SectionJobInfo)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return info, fmt.Errorf("%w: job info: %v", ErrCorruptFile, err)
	}
	return info, nil
}

// ReadJob decodes the input sections into a job whose buffers do not alias
// the file.
func ReadJob(f *File) (*lmfit.Job, error) {
	info, err := f.JobInfo()
	if err != nil {
		return nil, err
	}
	id, err := lmfit.ParseModel(info.Model)
	if err != nil {
		if _, ok := lmfit.LookupModel(lmfit.ModelID(info.ModelID)); !ok {
			return nil, err
		}
		id = lmfit.ModelID(info.ModelID)
	}
	m, _ := lmfit.LookupModel(id)
	if m.NumParameters() != info.NumParameters {
		return nil, fmt.Errorf("%w: model %s has %d parameters, file has %d", ErrCorruptFile, m.Name(), m.NumParameters(), info.NumParameters)
	}
	est, err := lmfit.ParseEstimator(info.Estimator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	layout, err := lmfit.ParseLayout(info.Layout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}

	job := &lmfit.Job{
		NumFits:         info.NumFits,
		NumPoints:       info.NumPoints,
		Model:           id,
		Estimator:       est,
		Tolerance:       info.Tolerance,
		MaxIterations:   info.MaxIterations,
		NumValidCoefs:   info.NumValidCoefs,
		ParametersToFit: info.ParametersToFit,
		Layout:          layout,
	}
	n := info.NumFits * info.NumPoints
	if job.Data, err = f.float64s(SectionData, n); err != nil {
		return nil, err
	}
	if info.Weights {
		if job.Weights, err = f.float64s(SectionWeights, n); err != nil {
			return nil, err
		}
	}
	if job.InitialParameters, err = f.float64s(SectionInitialParameters, info.NumFits*info.NumParameters); err != nil {
		return nil, err
	}
	if info.UserInfoSize > 0 {
		raw, err := f.payload(SectionUserInfo)
		if err != nil {
			return nil, err
		}
		if len(raw) != info.UserInfoSize {
			return nil, fmt.Errorf("%w: user info has %d bytes, want %d", ErrCorruptFile, len(raw), info.UserInfoSize)
		}
		job.UserInfo = append([]byte(nil), raw...)
	}
	return job, nil
}

// Results decodes the result sections.
func (f *File) Results() (*lmfit.Results, error) {
	if !f.HasResults() {
		return nil, ErrNoResults
	}
	raw, err := f.payload(SectionResultInfo)
	if err != nil {
		return nil, err
	}
	var info ResultInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("%w: result info: %v", ErrCorruptFile, err)
	}
	res := &lmfit.Results{
		NumParameters: info.NumParameters,
		Chunks:        info.Chunks,
		ChunkSize:     info.ChunkSize,
		Elapsed:       time.Duration(info.ElapsedNS),
	}
	if res.Parameters, err = f.float64s(SectionParameters, info.NumFits*info.NumParameters); err != nil {
		return nil, err
	}
	if res.ChiSquares, err = f.float64s(SectionChiSquares, info.NumFits); err != nil {
		return nil, err
	}
	states, err := f.int32s(SectionStates, info.NumFits)
	if err != nil {
		return nil, err
	}
	res.States = make([]lmfit.State, len(states))
	for i, s := range states {
		res.States[i] = lmfit.State(s)
	}
	iters, err := f.int32s(SectionIterations, info.NumFits)
	if err != nil {
		return nil, err
	}
	res.Iterations = make([]int, len(iters))
	for i, n := range iters {
		res.Iterations[i] = int(n)
	}
	return res, nil
}

func (f *File) float64s(t SectionType, n int) ([]float64, error) {
	raw, err := f.payload(t)
	if err != nil {
		return nil, err
	}
	if n < 0 || len(raw) != 8*n {
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d values", ErrCorruptFile, t, len(raw), n)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return out, nil
}

func (f *File) int32s(t SectionType, n int) ([]int32, error) {
	raw, err := f.payload(t)
	if err != nil {
		return nil, err
	}
	if n < 0 || len(raw) != 4*n {
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d values", ErrCorruptFile, t, len(raw), n)
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, nil
}
