//go:build !linux && !darwin && !freebsd

package mapfile

import "io"

func (v *View) mapFile(size int64) error {
	data := make([]byte, size)
	if _, err := io.ReadFull(v.f, data); err != nil {
		return err
	}
	v.data = data
	return nil
}

func (v *View) unmap() error { return nil }
