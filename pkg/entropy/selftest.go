package entropy

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const (
	selfTestSize = 256 * 1024

	// Random data never compresses; zstd framing adds a little on top.
	minCompressedRatio = 0.99
)

// SelfTest draws two streams from src and fails unless both have the right
// length, differ from each other and are incompressible under zstd.
func SelfTest(src Source) error {
	a, err := readStream(src, selfTestSize)
	if err != nil {
		return err
	}

	b, err := readStream(src, selfTestSize)
	if err != nil {
		return err
	}

	if bytes.Equal(a, b) {
		return fmt.Errorf("%w: consecutive streams are identical", ErrSelfTest)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return fmt.Errorf("%w: zstd: %w", ErrSelfTest, err)
	}
	defer enc.Close()

	compressed := enc.EncodeAll(a, nil)
	if ratio := float64(len(compressed)) / float64(len(a)); ratio < minCompressedRatio {
		return fmt.Errorf("%w: output compresses to %.2f of its size", ErrSelfTest, ratio)
	}

	return nil
}

func readStream(src Source, size int64) ([]byte, error) {
	buf, err := io.ReadAll(src.Stream(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSeed, err)
	}

	if int64(len(buf)) != size {
		return nil, fmt.Errorf("%w: short stream: got %d of %d bytes", ErrSelfTest, len(buf), size)
	}

	return buf, nil
}
