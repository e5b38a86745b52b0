package dsa

import (
	"github.com/samcharles93/vigil/pkg/shmem"
)

// Platform supplies the device identity and memory services a Registry
// depends on. The cuda build tag selects the real accelerator runtime
// (internal/cudart); every other build gets host simulation, and tests
// substitute their own.
type Platform interface {
	// Name identifies the platform in status output.
	Name() string

	// DeviceCount returns the number of devices visible to the process.
	DeviceCount() (int, error)

	// CurrentDevice returns the device the calling thread is bound to.
	CurrentDevice() (int, error)

	// SupportsSharedMemory reports whether the device can read and write
	// memory allocated on the host. A single device without it disables
	// tracking for all devices: a launch may target any of them.
	SupportsSharedMemory(device int) bool

	// AllocShared returns a zeroed segment visible to both the host and
	// the device-side writer.
	AllocShared(size int) (shmem.Segment, error)
}

// HostPlatform returns the built-in simulation platform: one device whose
// "device-side" code is ordinary goroutines, backed by heap segments. It is
// what the Default registry uses in builds without accelerator support.
func HostPlatform() Platform { return hostPlatform{} }

type hostPlatform struct{}

func (hostPlatform) Name() string                  { return "host" }
func (hostPlatform) DeviceCount() (int, error)     { return 1, nil }
func (hostPlatform) CurrentDevice() (int, error)   { return 0, nil }
func (hostPlatform) SupportsSharedMemory(int) bool { return true }

func (hostPlatform) AllocShared(size int) (shmem.Segment, error) {
	return shmem.Alloc(size)
}
