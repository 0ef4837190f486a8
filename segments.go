package shmring

// Segments describes a window of the data region handed out inside a
// transaction. A window crosses the physical end of the buffer at most once,
// so it is made of one or two contiguous parts.
//
// The parts alias shared memory and are only valid until the transaction that
// produced them is committed or cancelled; Bytes panics after that.
//
// Segments from a Consumer are read-only: the bytes still belong to the
// producer's stream and must not be modified. CopyFrom refuses them.
type Segments struct {
	parts    [2][]byte
	n        int
	epoch    uint64
	owner    *uint64
	writable bool
}

// Count returns the number of parts: 0, 1 or 2.
func (s Segments) Count() int {
	return s.n
}

// Len returns the total number of bytes in all parts.
func (s Segments) Len() int {
	return len(s.parts[0]) + len(s.parts[1])
}

// Writable reports whether the parts may be written, i.e. they come from a
// Producer.
func (s Segments) Writable() bool {
	return s.writable
}

// Bytes returns part i. For read-only Segments the slice must only be read.
func (s Segments) Bytes(i int) []byte {
	if i < 0 || i >= s.n {
		misuse("Segments.Bytes", "part %d out of range [0,%d)", i, s.n)
	}
	if *s.owner != s.epoch {
		misuse("Segments.Bytes", "transaction already committed or cancelled")
	}
	return s.parts[i]
}

// CopyFrom fills the parts from p and returns the number of bytes copied.
// It panics on read-only Segments.
func (s Segments) CopyFrom(p []byte) int {
	if !s.writable && s.n > 0 {
		misuse("Segments.CopyFrom", "segments of a read transaction are read-only")
	}
	n := 0
	for i := 0; i < s.n; i++ {
		n += copy(s.Bytes(i), p[n:])
	}
	return n
}

// CopyTo copies the parts into p and returns the number of bytes copied.
func (s Segments) CopyTo(p []byte) int {
	n := 0
	for i := 0; i < s.n; i++ {
		n += copy(p[n:], s.Bytes(i))
	}
	return n
}

// span maps size bytes starting at the logical position pos onto data.
// end == 0 means the window stops exactly at the physical end, which is not a
// wrap.
func span(data []byte, mask, pos, size uint64) (parts [2][]byte, n int) {
	start := pos & mask
	end := (start + size) & mask
	if start >= end && end != 0 {
		parts[0] = data[start : mask+1 : mask+1]
		parts[1] = data[:end:end]
		return parts, 2
	}
	parts[0] = data[start : start+size : start+size]
	return parts, 1
}
