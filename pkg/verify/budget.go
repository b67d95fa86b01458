package verify

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// Budget bounds the files generated in one pass.
type Budget struct {
	MinFileSize  int64 `json:"min_file_size"`
	MaxFileSize  int64 `json:"max_file_size"`
	BytesPerPass int64 `json:"bytes_per_pass"`
}

var errBudget = errors.New("invalid budget")

// Validate checks 0 < MinFileSize <= MaxFileSize <= BytesPerPass.
func (b Budget) Validate() error {
	switch {
	case b.MinFileSize <= 0:
		return fmt.Errorf("%w: min file size %d must be positive", errBudget, b.MinFileSize)
	case b.MinFileSize > b.MaxFileSize:
		return fmt.Errorf("%w: min file size %d exceeds max file size %d", errBudget, b.MinFileSize, b.MaxFileSize)
	case b.MaxFileSize > b.BytesPerPass:
		return fmt.Errorf("%w: max file size %d exceeds bytes per pass %d", errBudget, b.MaxFileSize, b.BytesPerPass)
	default:
		return nil
	}
}

// sizer draws uniform integers in [0, n). *rand.Rand satisfies it.
type sizer interface {
	Int64N(n int64) int64
}

type globalSizer struct{}

func (globalSizer) Int64N(n int64) int64 { return rand.Int64N(n) }

// planSizes draws file sizes uniformly from [Min, min(Max, remaining)] until
// the remaining budget drops below Min. The remainder is left untested.
func planSizes(r sizer, b Budget) []int64 {
	var sizes []int64

	remaining := b.BytesPerPass
	for remaining >= b.MinFileSize {
		hi := min(b.MaxFileSize, remaining)
		size := b.MinFileSize + r.Int64N(hi-b.MinFileSize+1)

		sizes = append(sizes, size)
		remaining -= size
	}

	return sizes
}
