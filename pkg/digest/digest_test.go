package digest_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/bitcheck/pkg/digest"
)

func Test_Select_Returns_Fastest_Available_When_Auto(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", digest.Auto, " AUTO "} {
		d, err := digest.Select(name)
		if err != nil {
			t.Fatalf("Select(%q): %v", name, err)
		}

		if got, want := d.Name(), digest.XXH64; got != want {
			t.Errorf("Select(%q).Name()=%q, want=%q", name, got, want)
		}
	}
}

func Test_Select_Returns_Named_Digest(t *testing.T) {
	t.Parallel()

	for _, name := range digest.Names() {
		d, err := digest.Select(name)
		if err != nil {
			t.Fatalf("Select(%q): %v", name, err)
		}

		if got := d.Name(); got != name {
			t.Errorf("Name()=%q, want=%q", got, name)
		}
	}
}

func Test_Select_Returns_ErrUnknown_When_Name_Not_Registered(t *testing.T) {
	t.Parallel()

	_, err := digest.Select("md5")
	if !errors.Is(err, digest.ErrUnknown) {
		t.Fatalf("err=%v, want ErrUnknown", err)
	}

	if !strings.Contains(err.Error(), "xxh64") {
		t.Errorf("err=%q should list registered names", err)
	}
}

func Test_Names_Are_In_Rank_Order(t *testing.T) {
	t.Parallel()

	want := []string{digest.XXH64, digest.CRC64NVMe, digest.BLAKE2b256, digest.SHA256}
	if diff := cmp.Diff(want, digest.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func Test_Statuses_Reports_Every_Digest_Available(t *testing.T) {
	t.Parallel()

	for i, st := range digest.Statuses() {
		if got, want := st.Rank, i+1; got != want {
			t.Errorf("%s: rank=%d, want=%d", st.Name, got, want)
		}

		if !st.Available || st.Err != nil {
			t.Errorf("%s: available=%v err=%v", st.Name, st.Available, st.Err)
		}
	}
}

func Test_Sum_Matches_Streaming_Hash(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("bitcheck"), 10_000)

	for _, d := range digest.Ranked() {
		h := d.New()
		_, _ = h.Write(data[:1234])
		_, _ = h.Write(data[1234:])

		sum, n, err := d.Sum(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("%s: Sum: %v", d.Name(), err)
		}

		if got, want := n, int64(len(data)); got != want {
			t.Errorf("%s: n=%d, want=%d", d.Name(), got, want)
		}

		if got, want := sum, d.Of(h); got != want {
			t.Errorf("%s: Sum=%s, want=%s", d.Name(), got, want)
		}

		if got, want := sum.Name(), d.Name(); got != want {
			t.Errorf("sum.Name()=%q, want=%q", got, want)
		}
	}
}

func Test_Sum_Detects_Single_Byte_Change(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0xA5}, 64*1024)
	flipped := bytes.Clone(data)
	flipped[40_000] ^= 0x01

	for _, d := range digest.Ranked() {
		if digest.Equal(d.Bytes(data), d.Bytes(flipped)) {
			t.Errorf("%s: flipped byte not detected", d.Name())
		}
	}
}

func Test_SumN_Returns_ErrShortRead_When_Stream_Is_Short(t *testing.T) {
	t.Parallel()

	d, err := digest.Select(digest.SHA256)
	if err != nil {
		t.Fatal(err)
	}

	_, err = d.SumN(strings.NewReader("abc"), 4)
	if !errors.Is(err, digest.ErrShortRead) {
		t.Fatalf("err=%v, want ErrShortRead", err)
	}

	sum, err := d.SumN(strings.NewReader("abc"), 3)
	if err != nil {
		t.Fatalf("SumN: %v", err)
	}

	if got, want := sum.Hex(), "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"; got != want {
		t.Errorf("sha256(abc)=%s, want=%s", got, want)
	}
}

func Test_Sum_Wraps_Read_Error(t *testing.T) {
	t.Parallel()

	d, err := digest.Select(digest.XXH64)
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")

	_, _, err = d.Sum(io.MultiReader(strings.NewReader("abc"), errReader{boom}))
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want wrapped boom", err)
	}
}

func Test_Equal_Rejects_Empty_And_Cross_Algorithm(t *testing.T) {
	t.Parallel()

	if digest.Equal("", "") {
		t.Error("empty digests must not be equal")
	}

	if digest.Equal("xxh64:00", "crc64nvme:00") {
		t.Error("digests of different algorithms must not be equal")
	}

	if !digest.Equal("xxh64:00", "xxh64:00") {
		t.Error("identical digests must be equal")
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
