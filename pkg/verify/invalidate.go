package verify

// Invalidator drops cached pages for a file so the next read is served by
// the storage device.
type Invalidator interface {
	Invalidate(path string) error
}

// InvalidatorFunc adapts a function to [Invalidator].
type InvalidatorFunc func(path string) error

// Invalidate calls f(path).
func (f InvalidatorFunc) Invalidate(path string) error { return f(path) }
