package dsatest

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/samcharles93/vigil/pkg/dsa"
)

// Workload describes a simulated run: how many devices launch kernels, how
// many launches each device performs, and how often a kernel trips its
// assertion.
type Workload struct {
	// Devices is the number of devices launching concurrently. Defaults
	// to 1.
	Devices int

	// Launches is the number of kernel launches per device.
	Launches int

	// FailEvery makes every Nth launch on each device trip its device-side
	// assertion. 0 means no failures.
	FailEvery int

	// Streams is the number of stream ids launches cycle through.
	// Defaults to 1.
	Streams int

	// Limiter paces launches across all devices when set. Nil means run
	// flat out.
	Limiter *rate.Limiter
}

// Kernel names the simulator draws from, for recognizable reports.
var kernelNames = []string{
	"vec_add", "reduce_sum", "softmax_rows", "scatter_add",
	"layer_norm", "gemm_tile", "embedding_lookup", "argmax_block",
}

// Run drives reg with the workload, one goroutine per device, and returns
// once every simulated kernel has retired. Assertion failures inside the
// workload are the point of the exercise, not an error: Run fails only on
// context cancellation or when a buffer cannot be obtained.
func Run(ctx context.Context, reg *dsa.Registry, w Workload) error {
	if w.Devices <= 0 {
		w.Devices = 1
	}
	if w.Streams <= 0 {
		w.Streams = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for device := 0; device < w.Devices; device++ {
		g.Go(func() error {
			return runDevice(ctx, reg, w, device)
		})
	}
	return g.Wait()
}

func runDevice(ctx context.Context, reg *dsa.Registry, w Workload, device int) error {
	buf, err := reg.BufferForDevice(device)
	if err != nil {
		return fmt.Errorf("device %d: %w", device, err)
	}
	for i := 1; i <= w.Launches; i++ {
		if w.Limiter != nil {
			if err := w.Limiter.Wait(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		kernel := kernelNames[(device+i)%len(kernelNames)]
		stream := int32(i % w.Streams)
		file, function, line := launchSite()
		gen := reg.Insert(file, function, line, kernel, stream)
		if w.FailEvery > 0 && i%w.FailEvery == 0 {
			failAssertion(buf, kernel, gen, i)
		}
	}
	return nil
}

// failAssertion plays the device side: one thread of the kernel trips its
// bounds check and records the failure stamped with the launch generation.
func failAssertion(buf *dsa.AssertionBuffer, kernel string, gen uint64, i int) {
	block := [3]int32{int32(i % 64), 0, 0}
	thread := [3]int32{int32(i % 32), int32(i % 4), 0}
	dsa.WriteAssertion(buf,
		"index out of range: idx < numel",
		"kernels/"+kernel+".cu",
		kernel+"_device",
		int32(20+i%40),
		gen,
		block, thread)
}

func launchSite() (file, function string, line uint32) {
	pc, f, l, ok := runtime.Caller(1)
	if !ok {
		return "dsatest", "dsatest.runDevice", 0
	}
	function = "dsatest.runDevice"
	if fn := runtime.FuncForPC(pc); fn != nil {
		function = fn.Name()
	}
	return f, function, uint32(l)
}
