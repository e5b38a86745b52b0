package dsa

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestSnapshotWraparound(t *testing.T) {
	t.Parallel()

	const (
		capacity = 8
		inserts  = capacity + 5
	)
	r := New(Config{LogCapacity: capacity, Platform: &fakePlatform{devices: 1}})
	gens := make([]uint64, 0, inserts)
	for i := 0; i < inserts; i++ {
		gens = append(gens, r.Insert("f.go", "fn", 1, fmt.Sprintf("k%d", i), 0))
	}

	snap := r.Snapshot()
	if snap.Generations != inserts {
		t.Fatalf("Generations = %d, want %d", snap.Generations, inserts)
	}
	if len(snap.Launches) != capacity {
		t.Fatalf("window size = %d, want %d", len(snap.Launches), capacity)
	}

	for i, gen := range gens {
		launch, ok := snap.Launch(gen)
		evicted := gen < inserts-capacity
		if evicted {
			if ok {
				t.Fatalf("generation %d should have been overwritten", gen)
			}
			continue
		}
		if !ok {
			t.Fatalf("generation %d should still be in the window", gen)
		}
		if want := fmt.Sprintf("k%d", i); launch.Kernel != want {
			t.Fatalf("generation %d resolved to %q, want %q", gen, launch.Kernel, want)
		}
	}
}

func TestSnapshotNeverIssuedGenerations(t *testing.T) {
	t.Parallel()

	r := New(Config{LogCapacity: 8, Platform: &fakePlatform{devices: 1}})
	r.Insert("f.go", "fn", 1, "k0", 0)
	r.Insert("f.go", "fn", 2, "k1", 0)
	r.Insert("f.go", "fn", 3, "k2", 0)

	snap := r.Snapshot()
	if _, ok := snap.Launch(0); !ok {
		t.Fatal("generation 0 was issued and must resolve")
	}
	// Zero-valued slots must not masquerade as generation records.
	for gen := uint64(3); gen < 16; gen++ {
		if _, ok := snap.Launch(gen); ok {
			t.Fatalf("generation %d was never issued but resolved", gen)
		}
	}
	if _, ok := snap.Launch(DisabledGeneration); ok {
		t.Fatal("DisabledGeneration must never resolve")
	}
}

func TestSnapshotDeviceOrder(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, &fakePlatform{devices: 3})
	for _, d := range []int{2, 0, 1} {
		if _, err := r.BufferForDevice(d); err != nil {
			t.Fatalf("BufferForDevice(%d): %v", d, err)
		}
	}

	snap := r.Snapshot()
	if len(snap.Devices) != 3 {
		t.Fatalf("got %d devices, want 3", len(snap.Devices))
	}
	for i, dev := range snap.Devices {
		if dev.Device != i {
			t.Fatalf("devices out of order: %v", snap.Devices)
		}
	}
}

func TestSnapshotCopiesAreStable(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, &fakePlatform{devices: 1})
	buf, err := r.BufferForDevice(0)
	if err != nil {
		t.Fatalf("BufferForDevice: %v", err)
	}
	WriteAssertion(buf, "first", "f.cu", "fn", 1, 0, [3]int32{}, [3]int32{})

	snap := r.Snapshot()
	WriteAssertion(buf, "second", "f.cu", "fn", 2, 0, [3]int32{}, [3]int32{})

	if len(snap.Devices) != 1 || snap.Devices[0].Count != 1 {
		t.Fatalf("snapshot mutated by later write: %+v", snap.Devices)
	}
	if got := snap.Devices[0].Records[0].Message(); got != "first" {
		t.Fatalf("snapshot record = %q, want %q", got, "first")
	}
}

func TestSnapshotCorrelatesFailureToLaunch(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, &fakePlatform{devices: 1})

	r.Launch("warmup", 0)
	args := r.Launch("scatter_add", 2)
	WriteAssertion(args.Buffer, "idx < n", "kernels/scatter.cu", "scatter_add_device",
		41, args.Caller, [3]int32{0, 0, 1}, [3]int32{31, 0, 0})

	snap := r.Snapshot()
	if len(snap.Devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(snap.Devices))
	}
	recs := snap.Devices[0].Records
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}

	launch, ok := snap.Launch(recs[0].Caller)
	if !ok {
		t.Fatal("failure's caller id did not resolve")
	}
	if launch.Kernel != "scatter_add" {
		t.Fatalf("correlated kernel = %q, want scatter_add", launch.Kernel)
	}
	if launch.Stream != 2 {
		t.Fatalf("correlated stream = %d, want 2", launch.Stream)
	}
}

func TestSnapshotConsistentUnderConcurrentInserts(t *testing.T) {
	t.Parallel()

	const writers = 4
	r := New(Config{LogCapacity: 32, Platform: &fakePlatform{devices: 1}})

	var stop atomic.Bool
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				r.Insert("bg.go", "bg", 1, "bg-kernel", 0)
			}
		}()
	}

	for i := 0; i < 50; i++ {
		snap := r.Snapshot()
		for _, launch := range snap.Launches {
			if launch.Kernel == "" {
				continue // slot not written yet
			}
			if launch.Generation >= snap.Generations {
				t.Errorf("slot holds generation %d but only %d were issued",
					launch.Generation, snap.Generations)
			}
		}
		if snap.Generations > 0 {
			latest := snap.Generations - 1
			if launch, ok := snap.Launch(latest); !ok || launch.Kernel != "bg-kernel" {
				t.Errorf("latest generation %d not resolvable", latest)
			}
		}
	}
	stop.Store(true)
	wg.Wait()
}

func TestDeviceAssertionsDropped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		count   int32
		records int
		want    int32
	}{
		{0, 0, 0},
		{3, 3, 0},
		// A claim whose fill was still in flight at capture is not a drop.
		{3, 1, 0},
		{int32(AssertionCapacity), AssertionCapacity, 0},
		{int32(AssertionCapacity) + 5, AssertionCapacity, 5},
	}
	for _, tc := range tests {
		d := DeviceAssertions{Count: tc.count, Records: make([]AssertionRecord, tc.records)}
		if got := d.Dropped(); got != tc.want {
			t.Errorf("Dropped(count=%d, records=%d) = %d, want %d",
				tc.count, tc.records, got, tc.want)
		}
	}
}

func TestSnapshotSkipsUnpublishedClaims(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, &fakePlatform{devices: 1})
	buf, err := r.BufferForDevice(0)
	if err != nil {
		t.Fatalf("BufferForDevice: %v", err)
	}

	// A writer that has claimed a slot but not yet published it.
	atomic.AddInt32(&buf.Count, 1)

	if r.HasFailed() {
		t.Fatal("an unpublished claim must not trip HasFailed")
	}
	snap := r.Snapshot()
	if got := snap.Devices[0].Count; got != 1 {
		t.Fatalf("claim count = %d, want 1", got)
	}
	if got := len(snap.Devices[0].Records); got != 0 {
		t.Fatalf("snapshot exposed %d unpublished record(s)", got)
	}
	if got := snap.Devices[0].Dropped(); got != 0 {
		t.Fatalf("Dropped = %d, want 0", got)
	}

	// Publishing makes the record visible.
	buf.Records[0].SetMessage("idx < n")
	atomic.StoreInt32(&buf.Committed[0], 1)

	if !r.HasFailed() {
		t.Fatal("published record must trip HasFailed")
	}
	snap = r.Snapshot()
	if got := len(snap.Devices[0].Records); got != 1 {
		t.Fatalf("got %d records, want 1", got)
	}
	if got := snap.Devices[0].Records[0].Message(); got != "idx < n" {
		t.Fatalf("record message = %q, want %q", got, "idx < n")
	}
}

func TestSnapshotConcurrentWithDeviceWrites(t *testing.T) {
	t.Parallel()

	const (
		devices = 4
		extra   = 3
	)
	r := newTestRegistry(t, &fakePlatform{devices: devices})

	bufs := make([]*AssertionBuffer, devices)
	for d := range bufs {
		buf, err := r.BufferForDevice(d)
		if err != nil {
			t.Fatalf("BufferForDevice(%d): %v", d, err)
		}
		bufs[d] = buf
	}

	start := make(chan struct{})
	done := make(chan struct{})
	var wg sync.WaitGroup
	for d := 0; d < devices; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			<-start
			for i := 0; i < AssertionCapacity+extra; i++ {
				WriteAssertion(bufs[d], "idx < numel", "kernels/scan.cu", "scan_device",
					int32(i), uint64(i), [3]int32{int32(d), 0, 0}, [3]int32{})
			}
		}(d)
	}
	go func() { wg.Wait(); close(done) }()

	// Snapshot continuously while the device writers run: every record a
	// snapshot exposes must already be fully formed.
	close(start)
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		snap := r.Snapshot()
		for _, dev := range snap.Devices {
			for i := range dev.Records {
				rec := &dev.Records[i]
				if got := rec.Message(); got != "idx < numel" {
					t.Fatalf("device %d record %d: message %q mid-write", dev.Device, i, got)
				}
				if got := rec.FunctionName(); got != "scan_device" {
					t.Fatalf("device %d record %d: function %q mid-write", dev.Device, i, got)
				}
			}
		}
	}

	snap := r.Snapshot()
	for _, dev := range snap.Devices {
		if got := len(dev.Records); got != AssertionCapacity {
			t.Fatalf("device %d: %d records after quiescence, want %d",
				dev.Device, got, AssertionCapacity)
		}
		if got := dev.Dropped(); got != extra {
			t.Fatalf("device %d: Dropped = %d, want %d", dev.Device, got, extra)
		}
	}
	if !r.HasFailed() {
		t.Fatal("registry must report failures once the writers finish")
	}
}
