package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calvinalkan/bitcheck/pkg/fs"
)

func Test_AtomicWriter_Writes_File_And_Leaves_No_Temp_Files(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults(path, strings.NewReader(`{"outcome":"ok"}`))
	if err != nil {
		t.Fatalf("WriteWithDefaults: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if got, want := string(got), `{"outcome":"ok"}`; got != want {
		t.Fatalf("content=%q, want=%q", got, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	if got, want := len(entries), 1; got != want {
		t.Fatalf("len(entries)=%d, want=%d", got, want)
	}
}

func Test_AtomicWriter_Replaces_Existing_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.json")
	writer := fs.NewAtomicWriter(fs.NewReal())

	for _, content := range []string{"first", "second"} {
		err := writer.WriteWithDefaults(path, strings.NewReader(content))
		if err != nil {
			t.Fatalf("WriteWithDefaults(%q): %v", content, err)
		}
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if got, want := string(got), "second"; got != want {
		t.Fatalf("content=%q, want=%q", got, want)
	}
}

func Test_AtomicWriter_Keeps_Old_File_When_Rename_Fails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	err := os.WriteFile(path, []byte("old"), 0o600)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	chaos := fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{RenameFailRate: 1})
	writer := fs.NewAtomicWriter(chaos)

	err = writer.WriteWithDefaults(path, strings.NewReader("new"))
	if !fs.IsChaosErr(err) {
		t.Fatalf("err=%v, want injected rename error", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if got, want := string(got), "old"; got != want {
		t.Fatalf("content=%q, want=%q", got, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	if got, want := len(entries), 1; got != want {
		t.Fatalf("temp file left behind: %d entries", got)
	}
}

func Test_AtomicWriter_Rejects_Zero_Perm_And_Bad_Path(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.Write(filepath.Join(dir, "x"), strings.NewReader(""), fs.AtomicWriteOptions{})
	if err == nil {
		t.Fatalf("Write with zero perm should fail")
	}

	err = writer.Write(dir+string(filepath.Separator), strings.NewReader(""), fs.AtomicWriteOptions{Perm: 0o600})
	if err == nil {
		t.Fatalf("Write to a directory path should fail")
	}
}

func Test_SyncDir_Wraps_ErrDirSync_When_Dir_Is_Missing(t *testing.T) {
	t.Parallel()

	err := fs.SyncDir(fs.NewReal(), filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, fs.ErrDirSync) {
		t.Fatalf("err=%v, want ErrDirSync", err)
	}
}
