package entropy

import (
	"io"
)

// System is the registry name of the OS CSPRNG source.
const System = "system"

type systemSource struct {
	r io.Reader
}

// NewSystem returns a source that reads straight from r (crypto/rand.Reader
// in production). It is slower than [NewChaCha20] but has no state.
func NewSystem(r io.Reader) Source {
	return &systemSource{r: r}
}

func (s *systemSource) Name() string { return System }

func (s *systemSource) Stream(size int64) io.Reader {
	return io.LimitReader(s.r, size)
}
