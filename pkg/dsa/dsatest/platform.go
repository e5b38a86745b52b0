// Package dsatest provides a hardware-free platform and a workload
// simulator for exercising the assertion registry. The simulator stands in
// for real device code: its "kernels" are goroutines that write through the
// same shared buffers a device would.
package dsatest

import (
	"sync"

	"github.com/samcharles93/vigil/pkg/shmem"
)

// Platform is a configurable in-memory implementation of the registry's
// platform seam. The zero value is unusable; use NewPlatform.
type Platform struct {
	mu       sync.Mutex
	devices  int
	current  int
	noShared map[int]bool
	allocErr error
	allocs   int
}

// NewPlatform returns a Platform exposing the given number of devices, all
// of them capable of sharing memory with the host.
func NewPlatform(devices int) *Platform {
	return &Platform{
		devices:  devices,
		noShared: make(map[int]bool),
	}
}

// SetCurrent changes the device reported by CurrentDevice.
func (p *Platform) SetCurrent(device int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = device
}

// DenySharedMemory marks one device as unable to share memory with the
// host, which disables tracking for any registry built on this platform.
func (p *Platform) DenySharedMemory(device int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noShared[device] = true
}

// FailAllocations makes every subsequent AllocShared return err.
func (p *Platform) FailAllocations(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocErr = err
}

// Allocations returns how many segments were handed out.
func (p *Platform) Allocations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocs
}

func (p *Platform) Name() string { return "sim" }

func (p *Platform) DeviceCount() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devices, nil
}

func (p *Platform) CurrentDevice() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

func (p *Platform) SupportsSharedMemory(device int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.noShared[device]
}

func (p *Platform) AllocShared(size int) (shmem.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allocErr != nil {
		return nil, p.allocErr
	}
	seg, err := shmem.Alloc(size)
	if err != nil {
		return nil, err
	}
	p.allocs++
	return seg, nil
}
