//go:build linux || darwin || freebsd

package mapfile

import (
	"fmt"

	"fortio.org/safecast"
	"golang.org/x/sys/unix"
)

func (v *View) mapFile(size int64) error {
	n, err := safecast.Conv[int](size)
	if err != nil {
		return fmt.Errorf("file too large to map: %w", err)
	}
	data, err := unix.Mmap(int(v.f.Fd()), 0, n, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	// Tables are probed at random; read-ahead only wastes page cache.
	_ = unix.Madvise(data, unix.MADV_RANDOM)
	v.data = data
	v.mapped = true
	return nil
}

func (v *View) unmap() error { return unix.Munmap(v.data) }
