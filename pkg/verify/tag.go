package verify

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const namePrefix = "bitcheck-"

// newTag returns a fresh run tag. Dashes are dropped so the tag is one token
// in file names.
func newTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// runTag identifies every file and directory a run creates.
type runTag string

// stagingDirName is the run's directory inside the staging root.
func (t runTag) stagingDirName() string {
	return namePrefix + string(t)
}

// filePrefix is shared by every test file of the run.
func (t runTag) filePrefix() string {
	return namePrefix + string(t) + "-"
}

func (t runTag) fileName(pass, seq int) string {
	return fmt.Sprintf("%sp%04d-%06d.bin", t.filePrefix(), pass, seq)
}

// owns reports whether name was created by this run, including temp names
// derived from a test file name during cross-device placement.
func (t runTag) owns(name string) bool {
	return strings.Contains(name, t.filePrefix())
}
