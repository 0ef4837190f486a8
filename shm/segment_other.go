//go:build !(linux || darwin || freebsd)

package shm

// Create is not supported on this platform.
func Create(name string, capacity int, opts Options) (*Segment, error) {
	return nil, ErrNotSupported
}

// Open is not supported on this platform.
func Open(name string, opts Options) (*Segment, error) {
	return nil, ErrNotSupported
}

// Anonymous is not supported on this platform.
func Anonymous(capacity int) (*Segment, error) {
	return nil, ErrNotSupported
}

func unmap([]byte) error {
	return ErrNotSupported
}
