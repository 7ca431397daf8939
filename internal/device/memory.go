package device

import (
	"fmt"
	"sync"
)

const (
	float64Size = 8
	int32Size   = 4
)

type MemStats struct {
	Budget      uint64 `json:"budget"`
	Live        uint64 `json:"live"`
	Peak        uint64 `json:"peak"`
	Allocations int    `json:"allocations"`
	Frees       int    `json:"frees"`
}

// Pool accounts device allocations against a fixed budget. It tracks live and
// peak bytes so callers can verify that at most one working set is resident.
type Pool struct {
	mu     sync.Mutex
	budget uint64
	live   uint64
	peak   uint64
	allocs int
	frees  int
}

func NewPool(budget uint64) *Pool {
	return &Pool{budget: budget}
}

// Buffer is a typed allocation owned by a Pool. Exactly one of the typed
// views is non-nil.
type Buffer struct {
	pool  *Pool
	bytes uint64
	f64   []float64
	i32   []int32
	raw   []byte
	freed bool
}

func (p *Pool) reserve(bytes uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live+bytes > p.budget {
		return fmt.Errorf("%w: requested %d bytes, %d of %d in use", ErrOutOfMemory, bytes, p.live, p.budget)
	}
	p.live += bytes
	p.peak = max(p.peak, p.live)
	p.allocs++
	return nil
}

func (p *Pool) AllocFloat64(n int) (*Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("device: negative allocation size %d", n)
	}
	bytes := uint64(n) * float64Size
	if err := p.reserve(bytes); err != nil {
		return nil, err
	}
	return &Buffer{pool: p, bytes: bytes, f64: make([]float64, n)}, nil
}

func (p *Pool) AllocInt32(n int) (*Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("device: negative allocation size %d", n)
	}
	bytes := uint64(n) * int32Size
	if err := p.reserve(bytes); err != nil {
		return nil, err
	}
	return &Buffer{pool: p, bytes: bytes, i32: make([]int32, n)}, nil
}

func (p *Pool) AllocBytes(n int) (*Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("device: negative allocation size %d", n)
	}
	if err := p.reserve(uint64(n)); err != nil {
		return nil, err
	}
	return &Buffer{pool: p, bytes: uint64(n), raw: make([]byte, n)}, nil
}

func (p *Pool) Stats() MemStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return MemStats{
		Budget:      p.budget,
		Live:        p.live,
		Peak:        p.peak,
		Allocations: p.allocs,
		Frees:       p.frees,
	}
}

func (p *Pool) Free() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.budget - p.live
}

// ResetPeak clears the high-water mark. It fails while allocations are live.
func (p *Pool) ResetPeak() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live != 0 {
		return fmt.Errorf("%w: %d bytes", ErrBusy, p.live)
	}
	p.peak = 0
	return nil
}

func (b *Buffer) Float64() []float64 { return b.f64 }
func (b *Buffer) Int32() []int32     { return b.i32 }
func (b *Buffer) Raw() []byte        { return b.raw }
func (b *Buffer) Bytes() uint64      { return b.bytes }

// Free returns the buffer to its pool. Freeing twice is a no-op.
func (b *Buffer) Free() error {
	if b == nil || b.freed {
		return nil
	}
	b.freed = true
	b.f64 = nil
	b.i32 = nil
	b.raw = nil
	p := b.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	if b.bytes > p.live {
		return fmt.Errorf("device: pool accounting underflow (%d > %d)", b.bytes, p.live)
	}
	p.live -= b.bytes
	p.frees++
	return nil
}
