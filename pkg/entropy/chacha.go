package entropy

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/crypto/chacha20"
)

// ChaCha20 is the registry name of the keystream source.
const ChaCha20 = "chacha20"

// chachaSource expands one 32 byte key into independent keystreams. Each
// stream gets its own nonce (random prefix + counter), so no two streams in
// a run share keystream bytes.
type chachaSource struct {
	key         [chacha20.KeySize]byte
	noncePrefix [4]byte
	streams     atomic.Uint64
}

// NewChaCha20 reads a key and nonce prefix from seed.
func NewChaCha20(seed io.Reader) (Source, error) {
	src := &chachaSource{}

	_, err := io.ReadFull(seed, src.key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: key: %w", ErrSeed, err)
	}

	_, err = io.ReadFull(seed, src.noncePrefix[:])
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %w", ErrSeed, err)
	}

	return src, nil
}

func (s *chachaSource) Name() string { return ChaCha20 }

func (s *chachaSource) Stream(size int64) io.Reader {
	var nonce [chacha20.NonceSize]byte

	copy(nonce[:4], s.noncePrefix[:])
	binary.LittleEndian.PutUint64(nonce[4:], s.streams.Add(1))

	// Key and nonce sizes are fixed above; construction cannot fail.
	cipher, err := chacha20.NewUnauthenticatedCipher(s.key[:], nonce[:])
	if err != nil {
		panic(err)
	}

	return &keystreamReader{cipher: cipher, remaining: size}
}

type keystreamReader struct {
	cipher    *chacha20.Cipher
	remaining int64
}

func (r *keystreamReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}

	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}

	clear(p)
	r.cipher.XORKeyStream(p, p)
	r.remaining -= int64(len(p))

	return len(p), nil
}
