package dsa

import (
	"bytes"
	"sync/atomic"
	"unsafe"
)

const (
	// AssertionCapacity is the number of assertion failures each device's
	// buffer can hold. When more failures occur the count keeps rising but
	// the excess records are dropped silently.
	AssertionCapacity = 10

	// MaxStringLen bounds every text field stored in an AssertionRecord.
	// Longer values are truncated to MaxStringLen-1 bytes so the field
	// always ends with a NUL and stays readable as a C string on the
	// device side.
	MaxStringLen = 512
)

// AssertionRecord describes one device-side assertion failure. The layout is
// fixed and pointer-free so the record can live in memory shared with a
// device: text fields are bounded byte arrays, never Go strings.
type AssertionRecord struct {
	// Msg is the stringified assertion condition.
	Msg [MaxStringLen]byte
	// File and Function locate the assertion in device code.
	File     [MaxStringLen]byte
	Function [MaxStringLen]byte
	// Line is the source line the assertion was on.
	Line int32
	// Block and Thread are the execution coordinates that failed.
	Block  [3]int32
	Thread [3]int32
	// Caller is the generation number of the launch whose execution wrote
	// this record. Written once, immutable afterwards.
	Caller uint64
}

// Message returns the assertion text.
func (r *AssertionRecord) Message() string { return boundedString(r.Msg[:]) }

// Filename returns the device source file of the assertion.
func (r *AssertionRecord) Filename() string { return boundedString(r.File[:]) }

// FunctionName returns the device function the assertion was in.
func (r *AssertionRecord) FunctionName() string { return boundedString(r.Function[:]) }

// SetMessage stores the assertion text, truncating to fit.
func (r *AssertionRecord) SetMessage(s string) { setBounded(r.Msg[:], s) }

// SetFilename stores the device source file, truncating to fit.
func (r *AssertionRecord) SetFilename(s string) { setBounded(r.File[:], s) }

// SetFunctionName stores the device function name, truncating to fit.
func (r *AssertionRecord) SetFunctionName(s string) { setBounded(r.Function[:], s) }

// AssertionBuffer collects assertion failures for one device. The host
// allocates and zeroes it in host/device-shared memory; the device-side
// writer is the only mutator afterwards; the host only reads.
//
// Records are published in two steps: the writer claims a slot by
// incrementing Count, fills the record, then sets the slot's Committed
// word. The host reads the Committed word back before touching a slot, so
// a record mid-fill is never visible.
type AssertionBuffer struct {
	// Count is the total number of failures observed, incremented
	// atomically by the writer to claim a slot. It may exceed
	// AssertionCapacity.
	Count int32
	// Committed flags each claimed slot once its record is fully written.
	// The atomic store/load pair on this word is what makes the plain
	// writes to Records visible to the host.
	Committed [AssertionCapacity]int32
	// Records holds the first AssertionCapacity failures. An entry is
	// meaningful only once its Committed word is set.
	Records [AssertionCapacity]AssertionRecord
}

// assertionBufferSize is the allocation size handed to the platform.
var assertionBufferSize = int(unsafe.Sizeof(AssertionBuffer{}))

// bufferFromBytes places an AssertionBuffer over a raw segment. The segment
// must be at least assertionBufferSize long and 8-aligned, which every
// shmem provider guarantees.
func bufferFromBytes(b []byte) *AssertionBuffer {
	return (*AssertionBuffer)(unsafe.Pointer(unsafe.SliceData(b)))
}

// WriteAssertion appends one failure record to buf using the protocol the
// registry promises its device-side collaborator: atomically claim an index
// by incrementing Count, fill the record if the index is within capacity,
// then publish it by setting the slot's Committed word. It reports whether
// the record was stored; on a saturated buffer the count still rises so the
// host can tell how many were dropped.
//
// On real hardware this logic runs in device code. It is exported so
// simulated devices and tests exercise the exact same contract.
func WriteAssertion(buf *AssertionBuffer, msg, file, function string, line int32, caller uint64, block, thread [3]int32) bool {
	if buf == nil {
		return false
	}
	idx := atomic.AddInt32(&buf.Count, 1) - 1
	if idx < 0 || idx >= AssertionCapacity {
		return false
	}
	rec := &buf.Records[idx]
	rec.SetMessage(msg)
	rec.SetFilename(file)
	rec.SetFunctionName(function)
	rec.Line = line
	rec.Block = block
	rec.Thread = thread
	rec.Caller = caller
	atomic.StoreInt32(&buf.Committed[idx], 1)
	return true
}

// failed reports whether at least one record has been published. A claim
// still being filled does not count until its Committed word lands.
func (b *AssertionBuffer) failed() bool {
	n := atomic.LoadInt32(&b.Count)
	if n > AssertionCapacity {
		n = AssertionCapacity
	}
	for i := int32(0); i < n; i++ {
		if atomic.LoadInt32(&b.Committed[i]) != 0 {
			return true
		}
	}
	return false
}

func setBounded(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	dst[n] = 0
}

func boundedString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
