// Package codebuf owns the executable memory compiled methods are installed into.
package codebuf

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"unsafe"
)

// DefaultRegionSize is the size of the address space reserved for code unless configured
// otherwise. Pages are only backed by memory once code is written to them.
const DefaultRegionSize = 256 << 20

// alignment of each reservation.
const alignment = 16

// ErrClosed is returned when reserving or installing code in a closed Buffer.
var ErrClosed = errors.New("code buffer closed")

// CompiledMethodID identifies one installed piece of code. A method which is recompiled gets
// a new CompiledMethodID.
type CompiledMethodID uint32

// BaseAddress is an address reserved for code which is not installed yet.
type BaseAddress uintptr

// AddressRange is the half open range [Start, End).
type AddressRange struct {
	Start, End uintptr
}

// Contains returns true if ip is in the range.
func (r AddressRange) Contains(ip uintptr) bool {
	return ip >= r.Start && ip < r.End
}

type reservation struct {
	base   BaseAddress
	maxLen int
}

type installed struct {
	r  AddressRange
	id CompiledMethodID
}

// Buffer is one executable memory region. Reservation is guarded independently of the
// installed code so that it never waits on lookups.
type Buffer struct {
	// mem is nil once closed. It is written with both locks held, so holding either one
	// is enough to read it.
	mem  []byte
	base uintptr

	allocMu  sync.Mutex
	next     int
	reserved map[BaseAddress]reservation

	mu sync.RWMutex
	// ranges is sorted by start address.
	ranges  []installed
	methods []AddressRange
}

// New maps a code region of size bytes.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid code region size %d", size)
	}
	mem, err := mmapCodeRegion(size)
	if err != nil {
		return nil, fmt.Errorf("mmap code region of %d bytes: %w", size, err)
	}
	return &Buffer{
		mem:      mem,
		base:     uintptr(unsafe.Pointer(&mem[0])),
		reserved: map[BaseAddress]reservation{},
	}, nil
}

// Close unmaps the region. Code installed in it must not run afterwards, and reserving or
// installing code fails with ErrClosed.
func (b *Buffer) Close() error {
	b.allocMu.Lock()
	defer b.allocMu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mem == nil {
		return nil
	}
	err := munmapCodeRegion(b.mem)
	b.mem = nil
	b.reserved = map[BaseAddress]reservation{}
	return err
}

// ReserveBaseAddress reserves maxLen bytes and returns their start. Running out of the region
// is fatal, as no more code can be compiled.
func (b *Buffer) ReserveBaseAddress(maxLen int) (BaseAddress, error) {
	if maxLen <= 0 {
		panic(fmt.Errorf("BUG: invalid code reservation of %d bytes", maxLen))
	}
	b.allocMu.Lock()
	defer b.allocMu.Unlock()
	if b.mem == nil {
		return 0, ErrClosed
	}
	start := b.next
	end := start + maxLen
	if end > len(b.mem) {
		panic(fmt.Errorf("code region exhausted: reserving %d bytes with %d left", maxLen, len(b.mem)-start))
	}
	b.next = (end + alignment - 1) &^ (alignment - 1)
	base := BaseAddress(b.base + uintptr(start))
	b.reserved[base] = reservation{base: base, maxLen: maxLen}
	return base, nil
}

// Install copies code to base, which must have been reserved for at least len(code) bytes,
// and returns the CompiledMethodID of the installed code.
func (b *Buffer) Install(code []byte, base BaseAddress) (CompiledMethodID, error) {
	if len(code) == 0 {
		panic(errors.New("BUG: installing zero length code"))
	}
	b.allocMu.Lock()
	if b.mem == nil {
		b.allocMu.Unlock()
		return 0, ErrClosed
	}
	res, ok := b.reserved[base]
	if ok {
		delete(b.reserved, base)
	}
	b.allocMu.Unlock()
	if !ok {
		panic(fmt.Errorf("BUG: base address %#x was not reserved", base))
	}
	if len(code) > res.maxLen {
		panic(fmt.Errorf("BUG: %d bytes of code do not fit the reservation of %d bytes", len(code), res.maxLen))
	}

	r := AddressRange{Start: uintptr(base), End: uintptr(base) + uintptr(len(code))}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mem == nil {
		return 0, ErrClosed
	}
	i := sort.Search(len(b.ranges), func(i int) bool { return b.ranges[i].r.Start >= r.Start })
	if (i < len(b.ranges) && b.ranges[i].r.Start < r.End) || (i > 0 && b.ranges[i-1].r.End > r.Start) {
		panic(fmt.Errorf("BUG: code at [%#x, %#x) overlaps installed code", r.Start, r.End))
	}
	copy(b.mem[r.Start-b.base:], code)

	id := CompiledMethodID(len(b.methods))
	b.methods = append(b.methods, r)
	b.ranges = append(b.ranges, installed{})
	copy(b.ranges[i+1:], b.ranges[i:])
	b.ranges[i] = installed{r: r, id: id}
	return id, nil
}

// LookupIP returns the installed code containing ip.
func (b *Buffer) LookupIP(ip uintptr) (CompiledMethodID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	i := sort.Search(len(b.ranges), func(i int) bool { return b.ranges[i].r.End > ip })
	if i < len(b.ranges) && b.ranges[i].r.Contains(ip) {
		return b.ranges[i].id, true
	}
	return 0, false
}

// LookupMethodAddresses returns the range of the installed code id.
func (b *Buffer) LookupMethodAddresses(id CompiledMethodID) AddressRange {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if int(id) >= len(b.methods) {
		panic(fmt.Errorf("BUG: unknown compiled method %d", id))
	}
	return b.methods[id]
}
