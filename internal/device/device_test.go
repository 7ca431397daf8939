package device

import (
	"errors"
	"testing"
)

func TestParseVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Version
	}{
		{"1.2", Version{1, 2, 0}},
		{"12.4.1", Version{12, 4, 1}},
		{"go1.26.1", Version{1, 26, 1}},
		{"go1.26rc1", Version{}},
		{"go1.26.0 X:nocoverageredesign", Version{1, 26, 0}},
	}
	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		if tt.want == (Version{}) {
			if err == nil {
				t.Fatalf("ParseVersion(%q) expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseVersion(%q): got %v want %v", tt.in, got, tt.want)
		}
	}
}

func TestVersionFromCUDA(t *testing.T) {
	t.Parallel()

	if got, want := VersionFromCUDA(12040), (Version{Major: 12, Minor: 4}); got != want {
		t.Fatalf("VersionFromCUDA: got %v want %v", got, want)
	}
	if got := VersionFromCUDA(12040).String(); got != "12.4.0" {
		t.Fatalf("String: got %q want %q", got, "12.4.0")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{"": Auto, " HOST ": Host, "cuda": CUDA, "auto": Auto} {
		got, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("Normalize(%q): got %q want %q", in, got, want)
		}
	}
	if _, err := Normalize("metal"); err == nil {
		t.Fatalf("expected error for unknown device")
	}
}

func TestOpenHost(t *testing.T) {
	t.Parallel()

	d, err := Open(Host, HostOptions{MemoryBudget: 1 << 20, Workers: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	info := d.Info()
	if info.Kind != Host || info.TotalMemory != 1<<20 || info.Workers != 2 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Compute() != "n/a" {
		t.Fatalf("host compute capability: got %q want n/a", info.Compute())
	}
}

func TestOpenCUDAWithoutDevice(t *testing.T) {
	t.Parallel()

	if cudaEnabled {
		t.Skip("built with cuda")
	}
	if _, err := Open(CUDA, HostOptions{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Open(cuda): got %v want %v", err, ErrUnavailable)
	}
	if Has(CUDA) {
		t.Fatalf("cuda reported available in a build without cuda")
	}
	if !Has(Host) {
		t.Fatalf("host device must always be available")
	}
}
