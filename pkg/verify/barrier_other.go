//go:build !linux

package verify

import (
	"github.com/calvinalkan/bitcheck/pkg/fs"
)

func defaultBarrier(fsys fs.FS) Barrier {
	return NewFsyncBarrier(fsys)
}
