// Package regmap provides register windows over memory-mapped controller
// registers.
package regmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

var ErrClosed = errors.New("register window closed")

// Region is a physical register range.
type Region struct {
	Address uint64
	Size    uint64
}

func (r Region) String() string {
	return fmt.Sprintf("[%#x-%#x]", r.Address, r.Address+r.Size-1)
}

// Window gives 32-bit little-endian access to a register region.
type Window interface {
	Region() Region

	ReadU32(off uint64) (uint32, error)
	WriteU32(off uint64, v uint32) error

	Close() error
}

// Mapper maps a register region into the process.
type Mapper interface {
	Map(r Region) (Window, error)
}

// window is shared by the memory and mmap variants; only the release differs.
type window struct {
	mu      sync.Mutex
	region  Region
	mem     []byte
	closed  bool
	release func([]byte) error
}

func (w *window) Region() Region { return w.region }

func (w *window) check(off uint64) error {
	if w.closed {
		return ErrClosed
	}
	if off%4 != 0 || off+4 > uint64(len(w.mem)) {
		return fmt.Errorf("regmap: offset %#x out of bounds for %s", off, w.region)
	}
	return nil
}

func (w *window) ReadU32(off uint64) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.check(off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(w.mem[off:]), nil
}

func (w *window) WriteU32(off uint64, v uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.check(off); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(w.mem[off:], v)
	return nil
}

func (w *window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	mem := w.mem
	w.mem = nil
	if w.release != nil {
		return w.release(mem)
	}
	return nil
}

// Closed reports whether Close has been called on a window returned by this
// package.
func Closed(w Window) bool {
	ww, ok := w.(*window)
	if !ok {
		return false
	}
	ww.mu.Lock()
	defer ww.mu.Unlock()
	return ww.closed
}

// MaxMemorySize bounds the regions NewMemory will back. Controller register
// files are a few pages.
const MaxMemorySize = 16 << 20

// NewMemory returns a window backed by ordinary process memory. It is used for
// dry runs and tests.
func NewMemory(r Region) (Window, error) {
	if r.Size == 0 {
		return nil, fmt.Errorf("regmap: empty region %#x", r.Address)
	}
	if r.Size > MaxMemorySize {
		return nil, fmt.Errorf("regmap: region %s larger than %d bytes: %w", r, MaxMemorySize, unix.EINVAL)
	}
	return &window{region: r, mem: make([]byte, r.Size)}, nil
}

// MemoryMapper maps every region into fresh process memory.
type MemoryMapper struct{}

func (MemoryMapper) Map(r Region) (Window, error) { return NewMemory(r) }

var _ Mapper = MemoryMapper{}
