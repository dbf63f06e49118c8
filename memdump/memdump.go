// Package memdump enumerates and captures the virtual memory of a live
// process for forensic inspection.
package memdump

import "errors"

var (
	// ErrPrivilegeDenied means the caller lacks the privilege to read
	// another process's memory.
	ErrPrivilegeDenied = errors.New("memdump: insufficient privileges to read target memory")

	// ErrTargetGone means the target process exited before or during
	// inspection.
	ErrTargetGone = errors.New("memdump: target process no longer exists")
)

// Region describes one mapped virtual memory region.
type Region struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
	Perms string `json:"permissions"`
	Path  string `json:"mapped_path,omitempty"`
}

// Size returns the region length in bytes.
func (r Region) Size() uint64 {
	return r.End - r.Start
}

// Readable reports whether the region can be captured at all.
func (r Region) Readable() bool {
	return len(r.Perms) > 0 && r.Perms[0] == 'r'
}
