package digest

import (
	"crypto/sha256"
	"hash"

	"github.com/cespare/xxhash/v2"
	"github.com/minio/crc64nvme"
	"golang.org/x/crypto/blake2b"
)

// knownInput is shared by every self test.
var knownInput = []byte("The quick brown fox jumps over the lazy dog")

// Registry names.
const (
	XXH64      = "xxh64"
	CRC64NVMe  = "crc64nvme"
	BLAKE2b256 = "blake2b-256"
	SHA256     = "sha256"
)

func xxh64() *Digester {
	return &Digester{
		name:       XXH64,
		newFn:      func() hash.Hash { return xxhash.New() },
		knownInput: knownInput,
		knownSum:   "0b242d361fda71bc",
	}
}

func crc64NVMe() *Digester {
	return &Digester{
		name:       CRC64NVMe,
		newFn:      func() hash.Hash { return crc64nvme.New() },
		knownInput: knownInput,
		knownSum:   "d76c54054954c143",
	}
}

func blake2b256() *Digester {
	return &Digester{
		name: BLAKE2b256,
		newFn: func() hash.Hash {
			// Only fails for a bad key size; unkeyed never errors.
			h, _ := blake2b.New256(nil)

			return h
		},
		knownInput: knownInput,
		knownSum:   "01718cec35cd3d796dd00020e0bfecb473ad23457d063b75eff29c0ffa2e58a9",
	}
}

func sha256Digest() *Digester {
	return &Digester{
		name:       SHA256,
		newFn:      sha256.New,
		knownInput: knownInput,
		knownSum:   "d7a8fbb307d7809469ca9abcb0082e4f8d5651e46d3cdb762d02d0bf37c9e592",
	}
}
