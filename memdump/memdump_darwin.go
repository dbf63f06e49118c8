//go:build darwin

package memdump

import "io"

// Mach-based task inspection needs cgo against mach_vm; this build runs
// census-only, so region capture is unsupported here.

func ListRegions(pid uint32) ([]Region, error) {
	return nil, ErrPrivilegeDenied
}

func Dump(pid uint32, w io.Writer) (int64, error) {
	return 0, ErrPrivilegeDenied
}
