// Package digest computes content fingerprints for integrity checks.
//
// A [Digester] is an unkeyed, deterministic hash used for equality
// comparison only. Implementations are ranked fastest first in [Ranked];
// [Select] picks the first one that passes its known-answer self test, or a
// specific one by name.
//
//	d, err := digest.Select(digest.Auto)
//	sum, n, err := d.Sum(f)
//	fmt.Println(sum) // "xxh64:5c1f..."
package digest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
)

// Auto selects the highest ranked available digest.
const Auto = "auto"

var (
	// ErrUnknown is returned by [Select] for a name that is not registered.
	ErrUnknown = errors.New("unknown digest")

	// ErrUnavailable is returned by [Select] when the requested digest (or,
	// for [Auto], every digest) failed its self test.
	ErrUnavailable = errors.New("digest unavailable")

	// ErrShortRead is returned by [Digester.SumN] when the stream ended
	// before the expected number of bytes.
	ErrShortRead = errors.New("short read")
)

// Digest is a content fingerprint in "name:hex" form, e.g. "xxh64:5c1f...".
// The zero value means "no digest".
type Digest string

// Name returns the algorithm part of the digest.
func (d Digest) Name() string {
	name, _, _ := strings.Cut(string(d), ":")

	return name
}

// Hex returns the hex-encoded sum.
func (d Digest) Hex() string {
	_, sum, _ := strings.Cut(string(d), ":")

	return sum
}

func (d Digest) String() string {
	return string(d)
}

// Digester produces fingerprints with a single algorithm.
type Digester struct {
	name  string
	newFn func() hash.Hash

	// knownInput/knownSum form the self test. knownSum is hex.
	knownInput []byte
	knownSum   string
}

// Name returns the registry name of the algorithm.
func (d *Digester) Name() string {
	return d.name
}

// New returns a fresh hash.Hash for streaming use (for example with
// io.MultiWriter while content is being written).
func (d *Digester) New() hash.Hash {
	return d.newFn()
}

// Of formats the current state of h as a [Digest].
func (d *Digester) Of(h hash.Hash) Digest {
	return Digest(d.name + ":" + hex.EncodeToString(h.Sum(nil)))
}

// Bytes fingerprints an in-memory buffer.
func (d *Digester) Bytes(data []byte) Digest {
	h := d.newFn()
	_, _ = h.Write(data)

	return d.Of(h)
}

// Sum reads r to EOF and returns its digest and the number of bytes read.
func (d *Digester) Sum(r io.Reader) (Digest, int64, error) {
	h := d.newFn()

	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("%s: read after %d bytes: %w", d.name, n, err)
	}

	return d.Of(h), n, nil
}

// SumN is like [Digester.Sum] but fails with [ErrShortRead] unless exactly
// size bytes were read.
func (d *Digester) SumN(r io.Reader, size int64) (Digest, error) {
	sum, n, err := d.Sum(r)
	if err != nil {
		return "", err
	}

	if n != size {
		return "", fmt.Errorf("%s: %w: got %d of %d bytes", d.name, ErrShortRead, n, size)
	}

	return sum, nil
}

// SelfTest checks the implementation against its known answer.
func (d *Digester) SelfTest() error {
	got := d.Bytes(d.knownInput).Hex()
	if got != d.knownSum {
		return fmt.Errorf("%w: %s self test: got %s, want %s", ErrUnavailable, d.name, got, d.knownSum)
	}

	// A second fresh instance must agree: no state may leak between hashers.
	if again := d.Bytes(d.knownInput).Hex(); again != got {
		return fmt.Errorf("%w: %s is not deterministic", ErrUnavailable, d.name)
	}

	return nil
}

// Status describes one registry entry for listings.
type Status struct {
	Name      string
	Rank      int
	Available bool
	Err       error
}

// Ranked returns the registered digesters, fastest first.
func Ranked() []*Digester {
	return []*Digester{xxh64(), crc64NVMe(), blake2b256(), sha256Digest()}
}

// Statuses runs every self test and reports the result, in rank order.
func Statuses() []Status {
	ranked := Ranked()
	out := make([]Status, 0, len(ranked))

	for i, d := range ranked {
		err := d.SelfTest()
		out = append(out, Status{Name: d.name, Rank: i + 1, Available: err == nil, Err: err})
	}

	return out
}

// Select returns the digester with the given name, or the best available one
// for [Auto] (or the empty string).
func Select(name string) (*Digester, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	var errs []error

	for _, d := range Ranked() {
		if name != "" && name != Auto && name != d.name {
			continue
		}

		err := d.SelfTest()
		if err == nil {
			return d, nil
		}

		if name != "" && name != Auto {
			return nil, err
		}

		errs = append(errs, err)
	}

	if name != "" && name != Auto {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknown, name, strings.Join(Names(), ", "))
	}

	return nil, errors.Join(append([]error{ErrUnavailable}, errs...)...)
}

// Names lists registered digest names in rank order.
func Names() []string {
	ranked := Ranked()
	names := make([]string, len(ranked))

	for i, d := range ranked {
		names[i] = d.name
	}

	return names
}

// Equal compares two digests. Digests of different algorithms never match.
func Equal(a, b Digest) bool {
	return a != "" && a == b
}
