// Package shmem allocates raw memory segments that can be handed to
// collaborators outside the Go heap's control: accelerator runtimes, forked
// helper processes, or in-process simulations of either. A Segment is a plain
// byte region with a fixed address for its whole lifetime; callers place
// fixed-layout structures in it and release it exactly once.
package shmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Alignment is the guaranteed alignment of every segment's base address.
const Alignment = 8

// Segment is a handle to one allocated region. The region is zeroed at
// allocation time and its backing memory stays valid until Release.
type Segment interface {
	// Bytes exposes the whole region. The returned slice aliases the
	// segment; it must not be used after Release.
	Bytes() []byte
	// Release frees the region. The segment is unusable afterwards.
	Release() error
}

// Alloc returns a zeroed heap-backed segment. This is the in-process
// fallback: the memory is ordinary Go memory, visible only to goroutines,
// which is sufficient when the "device" is simulated on the host.
func Alloc(size int) (Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shmem: alloc size must be > 0")
	}
	// Backing the region with a uint64 slice keeps the base address
	// 8-aligned without the manual offset bookkeeping an aligned byte
	// allocation would need.
	words := make([]uint64, (size+Alignment-1)/Alignment)
	data := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	return &heapSegment{words: words, data: data}, nil
}

// AllocShared returns a zeroed anonymous MAP_SHARED mapping. Unlike Alloc,
// the region survives fork and is directly visible to child processes, which
// is how an out-of-process device collaborator reaches it.
func AllocShared(size int) (Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shmem: alloc size must be > 0")
	}
	data, err := unix.Mmap(
		-1,
		0,
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS,
	)
	if err != nil {
		return nil, fmt.Errorf("shmem: mmap %d bytes: %w", size, err)
	}
	return &mmapSegment{data: data}, nil
}

type heapSegment struct {
	words []uint64
	data  []byte
}

func (s *heapSegment) Bytes() []byte { return s.data }

func (s *heapSegment) Release() error {
	s.words = nil
	s.data = nil
	return nil
}

type mmapSegment struct {
	data []byte
}

func (s *mmapSegment) Bytes() []byte { return s.data }

func (s *mmapSegment) Release() error {
	if s.data == nil {
		return nil
	}
	data := s.data
	s.data = nil
	return unix.Munmap(data)
}
