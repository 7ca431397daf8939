// Package solver solves batches of small dense normal-equation systems, one
// system per fit, in lockstep over a device launcher.
package solver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samcharles93/lmfit/internal/device"
)

// RelativeEpsilon scales the singularity threshold of both backends.
const RelativeEpsilon = 1e-12

const (
	Factor      = "factor"
	GaussJordan = "gaussjordan"
)

// Launcher runs a kernel over n work items and returns once all finished.
// device.Device implements it.
type Launcher interface {
	Launch(ctx context.Context, n, grain int, kernel device.Kernel) error
}

// Batch holds Count row-major Dim×Dim systems A·x = b. Solutions overwrite
// Vectors; Matrices may be destroyed. Systems whose Skip entry is non-zero
// are left untouched. Singular[i] is set to 1 for systems that could not be
// solved and to 0 for solved ones.
type Batch struct {
	Count    int
	Dim      int
	Grain    int
	Matrices []float64
	Vectors  []float64
	Skip     []int32
	Singular []int32

	// Scratch, when at least Count·Dim·(Dim+1) long, is used as per-system
	// working storage instead of allocating per block.
	Scratch []float64
}

func (b *Batch) validate() error {
	if b.Count < 0 || b.Dim <= 0 {
		return fmt.Errorf("solver: invalid batch shape count=%d dim=%d", b.Count, b.Dim)
	}
	if len(b.Matrices) < b.Count*b.Dim*b.Dim {
		return fmt.Errorf("solver: matrices too short: %d < %d", len(b.Matrices), b.Count*b.Dim*b.Dim)
	}
	if len(b.Vectors) < b.Count*b.Dim {
		return fmt.Errorf("solver: vectors too short: %d < %d", len(b.Vectors), b.Count*b.Dim)
	}
	if len(b.Singular) < b.Count {
		return fmt.Errorf("solver: singular flags too short: %d < %d", len(b.Singular), b.Count)
	}
	if b.Skip != nil && len(b.Skip) < b.Count {
		return fmt.Errorf("solver: skip flags too short: %d < %d", len(b.Skip), b.Count)
	}
	return nil
}

func (b *Batch) skipped(i int) bool {
	return b.Skip != nil && b.Skip[i] != 0
}

func (b *Batch) scratch(lo, hi int) []float64 {
	per := b.Dim * (b.Dim + 1)
	if len(b.Scratch) >= b.Count*per {
		return b.Scratch[lo*per : hi*per]
	}
	return nil
}

// Backend is a batched linear solver. Implementations are immutable and
// safe for concurrent use.
type Backend interface {
	Name() string
	Solve(ctx context.Context, l Launcher, b *Batch) error
}

var backends = map[string]Backend{
	Factor:      factorization{},
	GaussJordan: gaussJordan{},
}

// New returns the backend registered under name. An empty name selects the
// factorization backend.
func New(name string) (Backend, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "":
		n = Factor
	case "gauss-jordan", "gj":
		n = GaussJordan
	case "cholesky", "lu":
		n = Factor
	}
	b, ok := backends[n]
	if !ok {
		return nil, fmt.Errorf("solver: unknown backend %q (expected %s)", name, strings.Join(Names(), " or "))
	}
	return b, nil
}

func Names() []string {
	out := make([]string, 0, len(backends))
	for n := range backends {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func launch(ctx context.Context, l Launcher, b *Batch, kernel device.Kernel) error {
	if err := b.validate(); err != nil {
		return err
	}
	if b.Count == 0 {
		return nil
	}
	return l.Launch(ctx, b.Count, max(b.Grain, 1), kernel)
}
