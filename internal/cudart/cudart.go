//go:build cuda

package cudart

/*
#cgo LDFLAGS: -lcudart

// Minimal CUDA runtime forward declarations to avoid requiring headers at
// compile time. Linker will still require libcudart when building with the
// cuda tag.
typedef int cudaError_t;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaGetDevice(int* device);
extern cudaError_t cudaDeviceGetAttribute(int* value, int attr, int device);
extern cudaError_t cudaMallocManaged(void** ptr, unsigned long long size, unsigned int flags);
extern cudaError_t cudaFree(void* ptr);

#define VIGIL_CUDA_ATTR_MANAGED_MEMORY 83
#define VIGIL_CUDA_MEM_ATTACH_GLOBAL 1

static int vigilCudaGetDeviceCount(int* out) {
	cudaError_t err = cudaGetDeviceCount(out);
	return (int)err;
}

static int vigilCudaGetDevice(int* out) {
	cudaError_t err = cudaGetDevice(out);
	return (int)err;
}

static int vigilCudaDeviceSupportsManaged(int* out, int device) {
	cudaError_t err = cudaDeviceGetAttribute(out, VIGIL_CUDA_ATTR_MANAGED_MEMORY, device);
	return (int)err;
}

static int vigilCudaMallocManaged(void** ptr, unsigned long long size) {
	cudaError_t err = cudaMallocManaged(ptr, size, VIGIL_CUDA_MEM_ATTACH_GLOBAL);
	return (int)err;
}

static int vigilCudaFree(void* ptr) {
	cudaError_t err = cudaFree(ptr);
	return (int)err;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/samcharles93/vigil/pkg/shmem"
)

// Runtime exposes the slice of the CUDA runtime the assertion registry
// needs: device identity, the managed-memory capability check, and managed
// allocations that both host and device can address.
type Runtime struct{}

// New checks for a usable CUDA runtime and returns a Runtime when at
// least one device is visible.
func New() (*Runtime, error) {
	n, err := deviceCount()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoDevices
	}
	return &Runtime{}, nil
}

func (*Runtime) Name() string { return "cuda" }

// DeviceCount returns the number of visible CUDA devices.
func (*Runtime) DeviceCount() (int, error) {
	return deviceCount()
}

// CurrentDevice returns the device bound to the calling thread.
func (*Runtime) CurrentDevice() (int, error) {
	var device C.int
	if err := cudaErr(C.vigilCudaGetDevice(&device)); err != nil {
		return 0, err
	}
	return int(device), nil
}

// SupportsSharedMemory reports whether the device supports managed memory,
// the mechanism used to share assertion buffers between host and device.
// Attribute query failures count as unsupported.
func (*Runtime) SupportsSharedMemory(device int) bool {
	var value C.int
	if err := cudaErr(C.vigilCudaDeviceSupportsManaged(&value, C.int(device))); err != nil {
		return false
	}
	return value == 1
}

// AllocShared allocates a zeroed managed segment. The pointer is valid on
// the host and on every device, which is what lets a failing device thread
// write a record the host later reads.
func (*Runtime) AllocShared(size int) (shmem.Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("managed alloc size must be > 0, got %d", size)
	}
	var ptr unsafe.Pointer
	if err := cudaErr(C.vigilCudaMallocManaged((*unsafe.Pointer)(&ptr), C.ulonglong(size))); err != nil {
		return nil, err
	}
	data := unsafe.Slice((*byte)(ptr), size)
	clear(data)
	return &managedSegment{ptr: ptr, data: data}, nil
}

type managedSegment struct {
	ptr  unsafe.Pointer
	data []byte
	once sync.Once
	err  error
}

func (s *managedSegment) Bytes() []byte { return s.data }

func (s *managedSegment) Release() error {
	s.once.Do(func() {
		s.err = cudaErr(C.vigilCudaFree(s.ptr))
		s.data = nil
	})
	return s.err
}

func deviceCount() (int, error) {
	var count C.int
	if err := cudaErr(C.vigilCudaGetDeviceCount(&count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

func cudaErr(code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.cudaGetErrorString(C.cudaError_t(code)))
	return fmt.Errorf("cuda runtime error %d: %s", int(code), msg)
}
