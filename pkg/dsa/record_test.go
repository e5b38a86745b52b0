package dsa

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestBoundedStringTruncation(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", MaxStringLen+100)
	var rec AssertionRecord
	rec.SetMessage(long)

	got := rec.Message()
	if len(got) != MaxStringLen-1 {
		t.Fatalf("expected truncation to %d bytes, got %d", MaxStringLen-1, len(got))
	}
	if got != long[:MaxStringLen-1] {
		t.Fatal("truncated message does not match prefix of input")
	}
	if rec.Msg[MaxStringLen-1] != 0 {
		t.Fatal("expected NUL terminator in final byte")
	}
}

func TestBoundedStringRoundTrip(t *testing.T) {
	t.Parallel()

	var rec AssertionRecord
	rec.SetMessage("idx < n")
	rec.SetFilename("kernels/scatter.cu")
	rec.SetFunctionName("scatter_add_device")

	if got := rec.Message(); got != "idx < n" {
		t.Fatalf("Message: got %q", got)
	}
	if got := rec.Filename(); got != "kernels/scatter.cu" {
		t.Fatalf("Filename: got %q", got)
	}
	if got := rec.FunctionName(); got != "scatter_add_device" {
		t.Fatalf("FunctionName: got %q", got)
	}
}

func TestBoundedStringOverwriteShorter(t *testing.T) {
	t.Parallel()

	var rec AssertionRecord
	rec.SetMessage("a longer first message")
	rec.SetMessage("short")
	if got := rec.Message(); got != "short" {
		t.Fatalf("expected stale bytes masked by NUL, got %q", got)
	}
}

func TestWriteAssertionStoresRecord(t *testing.T) {
	t.Parallel()

	var buf AssertionBuffer
	ok := WriteAssertion(&buf, "i < len", "dev/clamp.cu", "clamp_kernel", 12, 7,
		[3]int32{1, 0, 0}, [3]int32{31, 0, 0})
	if !ok {
		t.Fatal("expected first write to be stored")
	}
	if buf.Count != 1 {
		t.Fatalf("Count = %d, want 1", buf.Count)
	}

	rec := &buf.Records[0]
	if rec.Message() != "i < len" || rec.Filename() != "dev/clamp.cu" {
		t.Fatalf("record text mismatch: %q %q", rec.Message(), rec.Filename())
	}
	if rec.Line != 12 || rec.Caller != 7 {
		t.Fatalf("record metadata mismatch: line=%d caller=%d", rec.Line, rec.Caller)
	}
	if rec.Block != [3]int32{1, 0, 0} || rec.Thread != [3]int32{31, 0, 0} {
		t.Fatalf("record coordinates mismatch: %v %v", rec.Block, rec.Thread)
	}
}

func TestWriteAssertionSaturation(t *testing.T) {
	t.Parallel()

	const extra = 5
	var buf AssertionBuffer
	stored := 0
	for i := 0; i < AssertionCapacity+extra; i++ {
		if WriteAssertion(&buf, fmt.Sprintf("fail %d", i), "f.cu", "fn", int32(i), uint64(i),
			[3]int32{}, [3]int32{}) {
			stored++
		}
	}

	if stored != AssertionCapacity {
		t.Fatalf("stored %d records, want %d", stored, AssertionCapacity)
	}
	if got := buf.Count; got != AssertionCapacity+extra {
		t.Fatalf("Count = %d, want %d: drops must still be counted", got, AssertionCapacity+extra)
	}
	for i := 0; i < AssertionCapacity; i++ {
		if want := fmt.Sprintf("fail %d", i); buf.Records[i].Message() != want {
			t.Fatalf("record %d = %q, want %q", i, buf.Records[i].Message(), want)
		}
	}
}

func TestWriteAssertionNilBuffer(t *testing.T) {
	t.Parallel()
	if WriteAssertion(nil, "msg", "f", "fn", 1, 0, [3]int32{}, [3]int32{}) {
		t.Fatal("write to nil buffer must report not stored")
	}
}

func TestWriteAssertionConcurrent(t *testing.T) {
	t.Parallel()

	const writers = 32
	var buf AssertionBuffer
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			WriteAssertion(&buf, fmt.Sprintf("writer %d", w), "f.cu", "fn",
				int32(w), uint64(w), [3]int32{int32(w), 0, 0}, [3]int32{})
		}(w)
	}
	wg.Wait()

	if buf.Count != writers {
		t.Fatalf("Count = %d, want %d", buf.Count, writers)
	}
	// Each stored slot was claimed by exactly one writer and published.
	seen := make(map[string]bool)
	for i := 0; i < AssertionCapacity; i++ {
		if atomic.LoadInt32(&buf.Committed[i]) == 0 {
			t.Fatalf("slot %d was stored but never published", i)
		}
		msg := buf.Records[i].Message()
		if !strings.HasPrefix(msg, "writer ") {
			t.Fatalf("slot %d holds unexpected message %q", i, msg)
		}
		if seen[msg] {
			t.Fatalf("message %q stored twice", msg)
		}
		seen[msg] = true
	}
}
