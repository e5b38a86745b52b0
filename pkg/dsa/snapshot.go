package dsa

import (
	"sort"
	"sync/atomic"
)

// Snapshot is a mutually consistent copy of everything the registry knows:
// the live window of the launch log and each device's assertion buffer.
// Both locks are held only while copying; correlation and formatting work
// on the copy, off the launch path.
type Snapshot struct {
	// Enabled and StackTraces mirror the registry switches at capture time.
	Enabled     bool
	StackTraces bool

	// Generations is the total number of launches ever inserted. A
	// generation g is correlatable only while it is within len(Launches)
	// of it; older records have been overwritten.
	Generations uint64

	// Launches is the raw circular window in slot order: slot i holds the
	// most recent launch whose generation is congruent to i modulo the log
	// capacity. Use Launch to resolve a caller id.
	Launches []LaunchRecord

	// Devices holds one entry per allocated assertion buffer, ordered by
	// device id.
	Devices []DeviceAssertions
}

// DeviceAssertions is the host-side copy of one device's assertion buffer.
type DeviceAssertions struct {
	Device int

	// Count is the device's raw claim count. It exceeds len(Records) when
	// the buffer saturated, or transiently when a claim was still being
	// filled as the snapshot was taken.
	Count int32

	Records []AssertionRecord
}

// Failed reports whether this device recorded at least one failure.
func (d DeviceAssertions) Failed() bool { return d.Count > 0 }

// Dropped returns how many failures did not fit in the buffer. Only claims
// past the capacity are drops; an in-flight claim is not.
func (d DeviceAssertions) Dropped() int32 {
	if n := d.Count - AssertionCapacity; n > 0 {
		return n
	}
	return 0
}

// Snapshot copies the launch log and every allocated assertion buffer.
// The copies are consistent with each other: no launch inserted after the
// snapshot began can appear in either half.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Enabled:     r.Enabled(),
		StackTraces: r.gatherStacks,
		Generations: r.generation,
		Launches:    make([]LaunchRecord, len(r.launches)),
	}
	copy(snap.Launches, r.launches)

	r.allocMu.Lock()
	devices := make([]int, 0, len(r.buffers))
	for device := range r.buffers {
		devices = append(devices, device)
	}
	sort.Ints(devices)
	snap.Devices = make([]DeviceAssertions, 0, len(devices))
	for _, device := range devices {
		snap.Devices = append(snap.Devices, r.buffers[device].buf.snapshot(device))
	}
	r.allocMu.Unlock()
	return snap
}

// snapshot copies the buffer's published records. Count is the raw claim
// count; a claimed slot is copied only after its Committed word is read
// back, which orders the copy behind the writer's fill. A slot mid-fill is
// skipped and picked up by the next snapshot.
func (b *AssertionBuffer) snapshot(device int) DeviceAssertions {
	count := atomic.LoadInt32(&b.Count)
	n := int(count)
	if n > AssertionCapacity {
		n = AssertionCapacity
	}
	if n < 0 {
		n = 0
	}
	out := DeviceAssertions{
		Device:  device,
		Count:   count,
		Records: make([]AssertionRecord, 0, n),
	}
	for i := 0; i < n; i++ {
		if atomic.LoadInt32(&b.Committed[i]) != 0 {
			out.Records = append(out.Records, b.Records[i])
		}
	}
	return out
}

// HasFailed reports whether any device in the snapshot recorded a failure.
func (s *Snapshot) HasFailed() bool {
	for _, d := range s.Devices {
		if d.Failed() {
			return true
		}
	}
	return false
}

// Launch resolves a caller id to its originating launch record. ok is
// false when the launch was never recorded (tracking disabled, or the id
// is stale garbage) or when it has already been overwritten in the
// circular log.
func (s *Snapshot) Launch(gen uint64) (LaunchRecord, bool) {
	if len(s.Launches) == 0 || gen >= s.Generations {
		return LaunchRecord{}, false
	}
	rec := s.Launches[gen%uint64(len(s.Launches))]
	if rec.Generation != gen {
		return LaunchRecord{}, false
	}
	return rec, true
}
