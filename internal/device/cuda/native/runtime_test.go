//go:build cuda

package native

import (
	"runtime"
	"testing"
	"unsafe"
)

func requireDevice(t *testing.T) {
	t.Helper()
	count, err := DeviceCount()
	if err != nil {
		t.Fatalf("DeviceCount: %v", err)
	}
	if count < 1 {
		t.Skip("no cuda device available")
	}
}

func TestMemcpyRoundTrip(t *testing.T) {
	requireDevice(t)

	const n = 256
	bytes := int64(n * unsafe.Sizeof(float64(0)))
	dev, err := AllocDevice(bytes)
	if err != nil {
		t.Fatalf("AllocDevice: %v", err)
	}
	defer func() {
		if err := dev.Free(); err != nil {
			t.Fatalf("device free: %v", err)
		}
	}()

	in := make([]float64, n)
	out := make([]float64, n)
	for i := range in {
		in[i] = float64(i) * 0.5
	}
	if err := MemcpyH2D(dev, unsafe.Pointer(&in[0]), bytes); err != nil {
		t.Fatalf("MemcpyH2D: %v", err)
	}
	if err := MemcpyD2H(unsafe.Pointer(&out[0]), dev, bytes); err != nil {
		t.Fatalf("MemcpyD2H: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("mismatch at %d: got %v want %v", i, out[i], in[i])
		}
	}
	runtime.KeepAlive(in)
	runtime.KeepAlive(out)
}

func TestMemGetInfoTracksAllocation(t *testing.T) {
	requireDevice(t)

	free, total, err := MemGetInfo()
	if err != nil {
		t.Fatalf("MemGetInfo: %v", err)
	}
	if free == 0 || total == 0 || free > total {
		t.Fatalf("implausible memory info: free=%d total=%d", free, total)
	}

	const bytes = 64 << 20
	dev, err := AllocDevice(bytes)
	if err != nil {
		t.Fatalf("AllocDevice: %v", err)
	}
	after, _, err := MemGetInfo()
	if err != nil {
		t.Fatalf("MemGetInfo after alloc: %v", err)
	}
	if err := dev.Free(); err != nil {
		t.Fatalf("device free: %v", err)
	}
	if after >= free {
		t.Fatalf("free memory did not shrink: before=%d after=%d", free, after)
	}
}

func TestProperties(t *testing.T) {
	requireDevice(t)

	p, err := Properties(0)
	if err != nil {
		t.Fatalf("Properties: %v", err)
	}
	if p.MaxThreadsPerBlock <= 0 || p.WarpSize <= 0 || p.ComputeMajor <= 0 {
		t.Fatalf("implausible properties: %+v", p)
	}
	v, err := RuntimeVersion()
	if err != nil {
		t.Fatalf("RuntimeVersion: %v", err)
	}
	if v < 1000 {
		t.Fatalf("implausible runtime version %d", v)
	}
}
