// Package dsa tracks device-side assertion failures and correlates them
// with the kernel launches that caused them.
//
// Device code cannot unwind the host stack or raise an error when an
// assertion trips, so the registry keeps the forensics on the host side:
// every kernel launch is stamped with a monotonically increasing generation
// number and recorded in a circular log, and every device gets a
// fixed-layout assertion buffer in memory shared between host and device.
// A failing device thread writes its assertion into the buffer together
// with the generation number it was launched under; the host later joins
// the two by generation and renders a report naming both sides of the
// failure: where the assertion lives in device code, and where the launch
// came from on the host.
//
// The fast path is Insert plus an occasional HasFailed; everything
// expensive (copying, sorting, formatting) happens in Snapshot and Report,
// which are only called once something has already gone wrong.
package dsa

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/vigil/internal/logger"
	"github.com/samcharles93/vigil/pkg/shmem"
)

// DefaultLogCapacity is the number of launch records the circular log
// retains. It only needs to exceed the number of launches that can still be
// pending on a device when an assertion fires; anything older can no longer
// be the culprit.
const DefaultLogCapacity = 1024

// DisabledGeneration is the caller id handed out when tracking is disabled.
// It never matches a logged launch.
const DisabledGeneration = ^uint64(0)

// Config controls construction of a Registry. The zero value gives the
// defaults: host platform, default logger, DefaultLogCapacity.
type Config struct {
	// LogCapacity overrides the size of the circular launch log.
	LogCapacity int

	// Platform supplies device identity and shared-memory allocation.
	Platform Platform

	// Logger receives diagnostics about the tracking machinery itself.
	Logger logger.Logger
}

// Registry is the process-wide correlation point between kernel launches
// and device-side assertion failures. All methods are safe for concurrent
// use.
//
// Two locks keep the hot path narrow: mu guards the launch log, allocMu
// guards the device buffer table. Launch recording never waits on a buffer
// allocation and vice versa. Snapshot takes both, mu first.
type Registry struct {
	platform Platform
	log      logger.Logger

	// enabled can only transition to false: an allocation failure after
	// launches were already handed out must not resurrect tracking.
	enabled      atomic.Bool
	gatherStacks bool

	mu         sync.RWMutex
	generation uint64
	launches   []LaunchRecord

	allocMu sync.Mutex
	buffers map[int]*deviceBuffer
}

type deviceBuffer struct {
	buf *AssertionBuffer
	seg shmem.Segment
}

// New constructs a Registry. Tracking starts enabled unless the build
// excludes it, VIGIL_DISABLE is set, or the platform fails the shared
// memory capability check.
func New(cfg Config) *Registry {
	capacity := cfg.LogCapacity
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	r := &Registry{
		platform: cfg.Platform,
		log:      cfg.Logger,
		launches: make([]LaunchRecord, capacity),
		buffers:  make(map[int]*deviceBuffer),
	}
	if r.platform == nil {
		r.platform = HostPlatform()
	}
	if r.log == nil {
		r.log = logger.Default()
	}
	r.gatherStacks = envStackTraces()
	r.enabled.Store(builtWithAssertions && !envOptOut() && r.platformSupported())
	return r
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry, constructing it on first use
// from the environment and the detected platform. Its buffers are never
// released: a device thread may still hold a pointer into them at exit.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New(Config{Platform: DetectPlatform(logger.Default())})
	})
	return defaultRegistry
}

// platformSupported checks that every visible device can share memory with
// the host. One device without support disables tracking for all of them: a
// launch may target any device, and partial coverage would misattribute
// failures.
func (r *Registry) platformSupported() bool {
	n, err := r.platform.DeviceCount()
	if err != nil {
		r.log.Warn("device enumeration failed, assertion tracking disabled",
			"platform", r.platform.Name(), "error", err)
		return false
	}
	for d := 0; d < n; d++ {
		if !r.platform.SupportsSharedMemory(d) {
			r.log.Warn("device cannot share memory with the host, assertion tracking disabled",
				"platform", r.platform.Name(), "device", d)
			return false
		}
	}
	return true
}

// Enabled reports whether launches are currently being recorded.
func (r *Registry) Enabled() bool { return r.enabled.Load() }

// BuiltWithAssertions reports whether this binary was compiled with
// assertion tracking support. The nodsa build tag removes it.
func BuiltWithAssertions() bool { return builtWithAssertions }

// StackTracesEnabled reports whether each launch also captures a host
// stack trace.
func (r *Registry) StackTracesEnabled() bool { return r.Enabled() && r.gatherStacks }

// LogCapacity returns the size of the circular launch log.
func (r *Registry) LogCapacity() int { return len(r.launches) }

// Generations returns the total number of launches inserted so far.
func (r *Registry) Generations() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// AllocatedBuffers returns how many devices have an assertion buffer.
func (r *Registry) AllocatedBuffers() int {
	r.allocMu.Lock()
	defer r.allocMu.Unlock()
	return len(r.buffers)
}

// PlatformName returns the name of the platform backing this registry.
func (r *Registry) PlatformName() string { return r.platform.Name() }

// Insert records one kernel launch and returns its generation number, the
// caller id to pass into the kernel. It runs on every launch, so the cost
// is one short critical section; the stack capture, when enabled, happens
// before the lock. A disabled registry returns DisabledGeneration without
// touching the log.
func (r *Registry) Insert(file, function string, line uint32, kernel string, stream int32) uint64 {
	if !r.Enabled() {
		return DisabledGeneration
	}
	var stack string
	if r.gatherStacks {
		stack = captureStack(1)
	}
	device := r.currentDevice()

	r.mu.Lock()
	gen := r.generation
	r.generation++
	r.launches[gen%uint64(len(r.launches))] = LaunchRecord{
		File:       file,
		Function:   function,
		Line:       line,
		Stack:      stack,
		Kernel:     kernel,
		Device:     device,
		Stream:     stream,
		Generation: gen,
	}
	r.mu.Unlock()
	return gen
}

func (r *Registry) currentDevice() int {
	d, err := r.platform.CurrentDevice()
	if err != nil {
		return -1
	}
	return d
}

// BufferForCurrentDevice returns the assertion buffer for the calling
// thread's current device, allocating it in shared memory on first use.
// When tracking is disabled it returns (nil, nil) and allocates nothing.
// An allocation failure disables tracking for the rest of the process:
// kernels keep launching, only the forensics are lost.
func (r *Registry) BufferForCurrentDevice() (*AssertionBuffer, error) {
	if !r.Enabled() {
		return nil, nil
	}
	device, err := r.platform.CurrentDevice()
	if err != nil {
		r.disable("current device unknown", err)
		return nil, fmt.Errorf("resolve current device: %w", err)
	}
	return r.BufferForDevice(device)
}

// BufferForDevice is BufferForCurrentDevice for an explicit device id.
func (r *Registry) BufferForDevice(device int) (*AssertionBuffer, error) {
	if !r.Enabled() {
		return nil, nil
	}
	r.allocMu.Lock()
	defer r.allocMu.Unlock()

	if db, ok := r.buffers[device]; ok {
		return db.buf, nil
	}
	seg, err := r.platform.AllocShared(assertionBufferSize)
	if err != nil {
		r.disable("shared buffer allocation failed", err)
		return nil, fmt.Errorf("allocate assertion buffer for device %d: %w", device, err)
	}
	db := &deviceBuffer{buf: bufferFromBytes(seg.Bytes()), seg: seg}
	r.buffers[device] = db
	r.log.Debug("allocated device assertion buffer",
		"device", device, "bytes", assertionBufferSize)
	return db.buf, nil
}

// disable turns tracking off for the remainder of the process.
func (r *Registry) disable(reason string, err error) {
	if r.enabled.CompareAndSwap(true, false) {
		r.log.Warn("assertion tracking disabled", "reason", reason, "error", err)
	}
}

// HasFailed reports whether any device has published an assertion failure.
// It reads the buffers' publication words in place without copying records,
// cheap enough for routine error checks after synchronization points. True
// means a Snapshot taken now retrieves at least one record.
func (r *Registry) HasFailed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.allocMu.Lock()
	defer r.allocMu.Unlock()

	for _, db := range r.buffers {
		if db.buf.failed() {
			return true
		}
	}
	return false
}

// Close releases the shared segments owned by this registry. It exists for
// short-lived registries in tests and embedding applications; the Default
// registry is never closed, because a device may still write into its
// buffers at any point before process exit.
func (r *Registry) Close() error {
	r.allocMu.Lock()
	defer r.allocMu.Unlock()

	var firstErr error
	for device, db := range r.buffers {
		if err := db.seg.Release(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release buffer for device %d: %w", device, err)
		}
		delete(r.buffers, device)
	}
	return firstErr
}
