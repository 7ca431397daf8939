package lmfit

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

type ModelID int

// Built-in models. Caller models are registered with IDs at or above
// FirstCustomModel.
const (
	Gauss1D ModelID = iota
	Linear1D
	Exp1D
	Exp2D
	ACF3D

	FirstCustomModel ModelID = 100
)

// Point identifies the data point a model is evaluated at.
type Point struct {
	// Index is the point within its fit, Fit the fit within the job.
	Index int
	Fit   int

	NumPoints int

	// X is the abscissa: the Index-th little-endian float64 of UserInfo
	// when UserInfo holds at least NumPoints values, otherwise Index.
	X float64

	// UserInfo is the fit's user info: the shared blob, or the fit's own
	// slice when the job carries one blob per fit.
	UserInfo []byte

	// NumValidCoefs bounds the number of polynomial coefficients in use.
	NumValidCoefs int
}

// Model is a fit function with analytic derivatives. Evaluate must be safe
// for concurrent use; it is called for every point of every running fit.
type Model interface {
	Name() string
	NumParameters() int
	// Evaluate returns the model value at p for params and writes
	// ∂value/∂params[j] into derivs[j] for every parameter.
	Evaluate(params []float64, p Point, derivs []float64) float64
}

var registry = struct {
	sync.RWMutex
	byID   map[ModelID]Model
	byName map[string]ModelID
}{
	byID:   map[ModelID]Model{},
	byName: map[string]ModelID{},
}

func init() {
	for id, m := range map[ModelID]Model{
		Gauss1D:  gauss1D{},
		Linear1D: linear1D{},
		Exp1D:    exp1D{},
		Exp2D:    exp2D{},
		ACF3D:    acf3D{},
	} {
		registry.byID[id] = m
		registry.byName[strings.ToLower(m.Name())] = id
	}
}

// RegisterModel adds a caller supplied model under id.
func RegisterModel(id ModelID, m Model) error {
	if id < FirstCustomModel {
		return fmt.Errorf("lmfit: model id %d is reserved for built-in models", id)
	}
	if m == nil || m.NumParameters() <= 0 {
		return fmt.Errorf("lmfit: model %d must have at least one parameter", id)
	}
	name := strings.ToLower(m.Name())
	registry.Lock()
	defer registry.Unlock()
	if _, ok := registry.byID[id]; ok {
		return fmt.Errorf("lmfit: model id %d already registered", id)
	}
	if _, ok := registry.byName[name]; ok {
		return fmt.Errorf("lmfit: model name %q already registered", m.Name())
	}
	registry.byID[id] = m
	registry.byName[name] = id
	return nil
}

func LookupModel(id ModelID) (Model, bool) {
	registry.RLock()
	defer registry.RUnlock()
	m, ok := registry.byID[id]
	return m, ok
}

// ParseModel resolves a model by case-insensitive name.
func ParseModel(name string) (ModelID, error) {
	registry.RLock()
	defer registry.RUnlock()
	id, ok := registry.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown model %q", name)
	}
	return id, nil
}

type ModelInfo struct {
	ID            ModelID `json:"id"`
	Name          string  `json:"name"`
	NumParameters int     `json:"num_parameters"`
}

// Models lists the registered models ordered by ID.
func Models() []ModelInfo {
	registry.RLock()
	defer registry.RUnlock()
	out := make([]ModelInfo, 0, len(registry.byID))
	for id, m := range registry.byID {
		out = append(out, ModelInfo{ID: id, Name: m.Name(), NumParameters: m.NumParameters()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (id ModelID) String() string {
	if m, ok := LookupModel(id); ok {
		return m.Name()
	}
	return fmt.Sprintf("model(%d)", int(id))
}

// EncodeXValues packs x as little-endian float64 user info.
func EncodeXValues(x []float64) []byte {
	out := make([]byte, 8*len(x))
	for i, v := range x {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

// DecodeXValues is the inverse of EncodeXValues. Trailing bytes that do not
// form a whole value are ignored.
func DecodeXValues(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return out
}

func xValue(userInfo []byte, index, numPoints int) float64 {
	if len(userInfo) < 8*numPoints {
		return float64(index)
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(userInfo[8*index:]))
}
