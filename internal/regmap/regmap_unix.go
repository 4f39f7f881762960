//go:build unix

package regmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileMapper maps regions from a character device or file, e.g. /dev/mem or a
// UIO device node. Offset is subtracted from the region address to obtain the
// file offset.
type FileMapper struct {
	Path   string
	Offset uint64
}

func (m FileMapper) Map(r Region) (Window, error) {
	if r.Size == 0 {
		return nil, fmt.Errorf("regmap: empty region %#x", r.Address)
	}
	if r.Address < m.Offset {
		return nil, fmt.Errorf("regmap: region %s below mapper offset %#x", r, m.Offset)
	}

	f, err := os.OpenFile(m.Path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", m.Path, err)
	}
	// The mapping stays valid after the descriptor is closed.
	defer f.Close()

	pageSize := uint64(unix.Getpagesize())
	fileOff := r.Address - m.Offset
	pageOff := fileOff % pageSize
	length := ((pageOff + r.Size + pageSize - 1) / pageSize) * pageSize

	mem, err := unix.Mmap(int(f.Fd()), int64(fileOff-pageOff), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s at %#x: %w", m.Path, fileOff, err)
	}

	return &window{
		region: r,
		mem:    mem[pageOff : pageOff+r.Size],
		release: func([]byte) error {
			return unix.Munmap(mem)
		},
	}, nil
}

var _ Mapper = FileMapper{}
