//go:build cuda

package native

/*
#cgo LDFLAGS: -lcudart

// Minimal CUDA runtime forward declarations to avoid requiring headers at compile time.
// Linker will still require libcudart when building with the cuda tag.
typedef int cudaError_t;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaSetDevice(int device);
extern cudaError_t cudaDeviceReset(void);
extern cudaError_t cudaMemGetInfo(unsigned long long* free, unsigned long long* total);
extern cudaError_t cudaDeviceGetAttribute(int* value, int attr, int device);
extern cudaError_t cudaRuntimeGetVersion(int* version);
extern cudaError_t cudaDriverGetVersion(int* version);
extern cudaError_t cudaMalloc(void** ptr, unsigned long long size);
extern cudaError_t cudaFree(void* ptr);
extern cudaError_t cudaMemcpy(void* dst, const void* src, unsigned long long size, int kind);

#define LMFIT_CUDA_MEMCPY_HOST_TO_DEVICE 1
#define LMFIT_CUDA_MEMCPY_DEVICE_TO_HOST 2

// cudaDeviceAttr values.
#define LMFIT_ATTR_MAX_THREADS_PER_BLOCK 1
#define LMFIT_ATTR_MAX_GRID_DIM_X 5
#define LMFIT_ATTR_WARP_SIZE 10
#define LMFIT_ATTR_COMPUTE_CAPABILITY_MAJOR 75
#define LMFIT_ATTR_COMPUTE_CAPABILITY_MINOR 76

static const char* lmfitCudaGetErrorString(cudaError_t err) {
	return cudaGetErrorString(err);
}

static int lmfitCudaGetDeviceCount(int* out) {
	return (int)cudaGetDeviceCount(out);
}

static int lmfitCudaSetDevice(int device) {
	return (int)cudaSetDevice(device);
}

static int lmfitCudaDeviceReset(void) {
	return (int)cudaDeviceReset();
}

static int lmfitCudaMemGetInfo(unsigned long long* free, unsigned long long* total) {
	return (int)cudaMemGetInfo(free, total);
}

static int lmfitCudaDeviceGetAttribute(int* value, int attr, int device) {
	return (int)cudaDeviceGetAttribute(value, attr, device);
}

static int lmfitCudaRuntimeGetVersion(int* out) {
	return (int)cudaRuntimeGetVersion(out);
}

static int lmfitCudaDriverGetVersion(int* out) {
	return (int)cudaDriverGetVersion(out);
}

static int lmfitCudaMalloc(void** ptr, unsigned long long size) {
	return (int)cudaMalloc(ptr, size);
}

static int lmfitCudaFree(void* ptr) {
	return (int)cudaFree(ptr);
}

static int lmfitCudaMemcpy(void* dst, const void* src, unsigned long long size, int kind) {
	return (int)cudaMemcpy(dst, src, size, kind);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

type DeviceBuffer struct {
	ptr unsafe.Pointer
}

type DeviceProperties struct {
	MaxThreadsPerBlock int
	MaxGridDimX        int
	WarpSize           int
	ComputeMajor       int
	ComputeMinor       int
}

func DeviceCount() (int, error) {
	var count C.int
	if err := cudaErr(C.lmfitCudaGetDeviceCount(&count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

func SetDevice(device int) error {
	return cudaErr(C.lmfitCudaSetDevice(C.int(device)))
}

// DeviceReset destroys all allocations and the primary context of the
// current device.
func DeviceReset() error {
	return cudaErr(C.lmfitCudaDeviceReset())
}

func MemGetInfo() (free, total uint64, err error) {
	var f, t C.ulonglong
	if err := cudaErr(C.lmfitCudaMemGetInfo(&f, &t)); err != nil {
		return 0, 0, err
	}
	return uint64(f), uint64(t), nil
}

func Properties(device int) (DeviceProperties, error) {
	attr := func(a C.int) (int, error) {
		var v C.int
		if err := cudaErr(C.lmfitCudaDeviceGetAttribute(&v, a, C.int(device))); err != nil {
			return 0, err
		}
		return int(v), nil
	}
	var (
		p   DeviceProperties
		err error
	)
	if p.MaxThreadsPerBlock, err = attr(C.LMFIT_ATTR_MAX_THREADS_PER_BLOCK); err != nil {
		return p, err
	}
	if p.MaxGridDimX, err = attr(C.LMFIT_ATTR_MAX_GRID_DIM_X); err != nil {
		return p, err
	}
	if p.WarpSize, err = attr(C.LMFIT_ATTR_WARP_SIZE); err != nil {
		return p, err
	}
	if p.ComputeMajor, err = attr(C.LMFIT_ATTR_COMPUTE_CAPABILITY_MAJOR); err != nil {
		return p, err
	}
	if p.ComputeMinor, err = attr(C.LMFIT_ATTR_COMPUTE_CAPABILITY_MINOR); err != nil {
		return p, err
	}
	return p, nil
}

func RuntimeVersion() (int, error) {
	var v C.int
	if err := cudaErr(C.lmfitCudaRuntimeGetVersion(&v)); err != nil {
		return 0, err
	}
	return int(v), nil
}

func DriverVersion() (int, error) {
	var v C.int
	if err := cudaErr(C.lmfitCudaDriverGetVersion(&v)); err != nil {
		return 0, err
	}
	return int(v), nil
}

func AllocDevice(bytes int64) (DeviceBuffer, error) {
	if bytes <= 0 {
		return DeviceBuffer{}, fmt.Errorf("device alloc size must be > 0")
	}
	var ptr unsafe.Pointer
	if err := cudaErr(C.lmfitCudaMalloc((*unsafe.Pointer)(&ptr), C.ulonglong(bytes))); err != nil {
		return DeviceBuffer{}, err
	}
	return DeviceBuffer{ptr: ptr}, nil
}

func (b DeviceBuffer) Free() error {
	if b.ptr == nil {
		return nil
	}
	return cudaErr(C.lmfitCudaFree(b.ptr))
}

func MemcpyH2D(dst DeviceBuffer, src unsafe.Pointer, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.lmfitCudaMemcpy(dst.ptr, src, C.ulonglong(bytes), C.LMFIT_CUDA_MEMCPY_HOST_TO_DEVICE))
}

func MemcpyD2H(dst unsafe.Pointer, src DeviceBuffer, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.lmfitCudaMemcpy(dst, src.ptr, C.ulonglong(bytes), C.LMFIT_CUDA_MEMCPY_DEVICE_TO_HOST))
}

func cudaErr(code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.lmfitCudaGetErrorString(C.cudaError_t(code)))
	return fmt.Errorf("cuda runtime error %d: %s", int(code), msg)
}
