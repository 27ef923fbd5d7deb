// Package mapfile provides read-only views of whole files, memory-mapped
// where the platform allows it.
package mapfile

import (
	"fmt"
	"os"
)

// View is a read-only byte view of a file. Bytes must not be used after Close.
type View struct {
	f      *os.File
	data   []byte
	mapped bool
}

// Open maps path. Empty files yield an empty view without a mapping.
func Open(path string) (*View, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	v := &View{f: f}
	if st.Size() == 0 {
		return v, nil
	}
	if err := v.mapFile(st.Size()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mapfile: %s: %w", path, err)
	}
	return v, nil
}

// Bytes returns the file contents.
func (v *View) Bytes() []byte { return v.data }

// Size returns len(Bytes()).
func (v *View) Size() int { return len(v.data) }

// Close unmaps the view and closes the file.
func (v *View) Close() error {
	if v == nil {
		return nil
	}
	var err error
	if v.mapped {
		err = v.unmap()
	}
	v.data = nil
	if cerr := v.f.Close(); err == nil {
		err = cerr
	}
	return err
}
