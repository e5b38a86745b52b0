package dsa

import (
	"fmt"
	"runtime"
	"strings"
)

// LaunchRecord describes one recorded kernel launch. It stays on the host,
// so ordinary Go strings are fine here.
type LaunchRecord struct {
	// File, Function and Line locate the host call site of the launch.
	File     string
	Function string
	Line     uint32

	// Stack is the full host stack at launch time. Empty unless
	// VIGIL_LAUNCH_STACKTRACES was set when the registry was built.
	Stack string

	// Kernel is the name of the launched kernel.
	Kernel string

	// Device is the device the launch targeted, -1 if unknown.
	Device int

	// Stream is the stream the kernel was enqueued on.
	Stream int32

	// Generation is this launch's position in the global launch order.
	Generation uint64
}

// Args is the fixed trailing argument pair every instrumented kernel
// receives: the assertion buffer of the device it runs on and the caller id
// identifying the launch. Device-side assertion checks write through Buffer
// stamped with Caller; helper functions inside the kernel pass Args along
// unchanged.
type Args struct {
	Buffer *AssertionBuffer
	Caller uint64
}

// Launch records a kernel launch attributed to the caller's source location
// and returns the Args to hand to the kernel. Diagnostics problems degrade
// to a nil Buffer rather than failing the launch: the kernel runs either
// way, it just runs unobserved.
func (r *Registry) Launch(kernel string, stream int32) Args {
	file, function, line := callerLocation(1)
	gen := r.Insert(file, function, line, kernel, stream)
	buf, err := r.BufferForCurrentDevice()
	if err != nil {
		r.log.Warn("assertion buffer unavailable, kernel runs unobserved",
			"kernel", kernel, "error", err)
	}
	return Args{Buffer: buf, Caller: gen}
}

func callerLocation(skip int) (file, function string, line uint32) {
	pc, f, l, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown", "unknown", 0
	}
	function = "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		function = fn.Name()
	}
	return f, function, uint32(l)
}

// captureStack formats the calling goroutine's stack, skipping frames so
// the trace starts at the launch site rather than inside the registry.
func captureStack(skip int) string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return sb.String()
}
