//go:build !linux

package verify

import (
	"github.com/calvinalkan/bitcheck/pkg/fs"
)

func defaultInvalidator(fs.FS) (Invalidator, error) {
	return nil, ErrUnsupported
}
