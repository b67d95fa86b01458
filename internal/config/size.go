package config

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size is a byte count. In config files and flags it is either a plain
// number or a human string such as "64KiB", "1 MB" or "4g".
type Size int64

// ParseSize parses s with humanize.ParseBytes. SI units are powers of 1000,
// IEC units (KiB, MiB) powers of 1024.
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidSize)
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %w", ErrInvalidSize, s, err)
	}

	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w %q: too large", ErrInvalidSize, s)
	}

	return Size(n), nil
}

// String formats s with IEC units, e.g. "64 KiB".
func (s Size) String() string {
	if s < 0 {
		return strconv.FormatInt(int64(s), 10)
	}

	return humanize.IBytes(uint64(s))
}

// Set implements pflag.Value.
func (s *Size) Set(v string) error {
	n, err := ParseSize(v)
	if err != nil {
		return err
	}

	*s = n

	return nil
}

// Type implements pflag.Value.
func (s *Size) Type() string { return "size" }

func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Size) UnmarshalJSON(data []byte) error {
	var str string
	if json.Unmarshal(data, &str) == nil {
		return s.Set(str)
	}

	var n int64

	err := json.Unmarshal(data, &n)
	if err != nil {
		return fmt.Errorf("%w %s: want a number or a string like \"64KiB\"", ErrInvalidSize, data)
	}

	*s = Size(n)

	return nil
}

// Duration is a time.Duration written as "90m" or "24h" in config files.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

// Set implements pflag.Value.
func (d *Duration) Set(v string) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidDuration, v, err)
	}

	*d = Duration(parsed)

	return nil
}

// Type implements pflag.Value.
func (d *Duration) Type() string { return "duration" }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string

	err := json.Unmarshal(data, &str)
	if err != nil {
		return fmt.Errorf("%w %s: want a string like \"24h\"", ErrInvalidDuration, data)
	}

	return d.Set(str)
}
