//go:build !linux && !darwin && !freebsd

package notify

import (
	"errors"
	"fmt"
)

// Shared is unavailable on this platform; launched converters are joined by
// polling their exit status instead.
type Shared struct{ Local }

// Create reports errors.ErrUnsupported on this platform.
func Create(dir string, pid int) (*Shared, error) {
	return nil, fmt.Errorf("notify: shared channel: %w", errors.ErrUnsupported)
}

// Open reports errors.ErrUnsupported on this platform.
func Open(dir string, pid int) (*Shared, error) {
	return nil, fmt.Errorf("notify: shared channel: %w", errors.ErrUnsupported)
}
