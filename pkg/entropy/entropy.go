// Package entropy produces pseudorandom content for test files.
//
// Sources are ranked in [Ranked]: an in-process ChaCha20 keystream keyed from
// the OS CSPRNG, then the OS CSPRNG itself. [Select] returns the first source
// that seeds successfully and passes [SelfTest].
package entropy

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Auto selects the highest ranked working source.
const Auto = "auto"

var (
	// ErrSeed is returned when seed material could not be read from the OS.
	ErrSeed = errors.New("read seed")

	// ErrUnknown is returned by [Select] for a name that is not registered.
	ErrUnknown = errors.New("unknown entropy source")

	// ErrSelfTest is returned when a source produces output that does not
	// look random.
	ErrSelfTest = errors.New("entropy self test")
)

// Source produces random byte streams.
//
// Implementations must be safe for concurrent use. Streams returned by
// separate calls must not repeat each other.
type Source interface {
	// Name returns the registry name.
	Name() string

	// Stream returns a reader that yields exactly size bytes and then io.EOF.
	Stream(size int64) io.Reader
}

// Factory constructs a seeded [Source]. seed is the OS entropy reader,
// crypto/rand.Reader in production.
type Factory struct {
	Name string
	New  func(seed io.Reader) (Source, error)
}

// Ranked returns the registered sources, preferred first.
func Ranked() []Factory {
	return []Factory{
		{Name: ChaCha20, New: func(seed io.Reader) (Source, error) { return NewChaCha20(seed) }},
		{Name: System, New: func(seed io.Reader) (Source, error) { return NewSystem(seed), nil }},
	}
}

// Names lists registered source names in rank order.
func Names() []string {
	ranked := Ranked()
	names := make([]string, len(ranked))

	for i, f := range ranked {
		names[i] = f.Name
	}

	return names
}

// Select constructs the named source, or the first working one for [Auto]
// (or the empty string). Every candidate must pass [SelfTest].
func Select(name string, seed io.Reader) (Source, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	auto := name == "" || name == Auto

	var errs []error

	for _, f := range Ranked() {
		if !auto && name != f.Name {
			continue
		}

		src, err := f.New(seed)
		if err == nil {
			err = SelfTest(src)
		}

		if err == nil {
			return src, nil
		}

		err = fmt.Errorf("%s: %w", f.Name, err)
		if !auto {
			return nil, err
		}

		errs = append(errs, err)
	}

	if !auto {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknown, name, strings.Join(Names(), ", "))
	}

	return nil, errors.Join(errs...)
}
