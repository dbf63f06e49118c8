// Package platform provides the platform-specific event source adapters.
//
// The architecture uses platform-independent interfaces to allow for:
// 1. Development and testing on systems without kernel monitoring support
// 2. Future extension to other monitoring backends
// 3. Easier testing through the ability to mock event sources
package platform

import (
	"context"
	"time"
)

// Kind identifies the type of a security event. The set is closed; anything
// the kernel delivers outside it maps to KindUnknown.
type Kind uint32

const (
	KindUnknown Kind = iota
	KindExec
	KindExit
	KindFork
	KindFileOpen
	KindFileWrite
	KindFileUnlink
	KindMmap
	KindSignal
	KindSetuid
	KindSetgid
)

// String returns the syscall-style name used in audit records.
func (k Kind) String() string {
	switch k {
	case KindExec:
		return "exec"
	case KindExit:
		return "exit"
	case KindFork:
		return "fork"
	case KindFileOpen:
		return "open"
	case KindFileWrite:
		return "write"
	case KindFileUnlink:
		return "unlink"
	case KindMmap:
		return "mmap"
	case KindSignal:
		return "kill"
	case KindSetuid:
		return "setuid"
	case KindSetgid:
		return "setgid"
	default:
		return "unknown"
	}
}

// Class separates events that require a synchronous verdict from purely
// informational ones.
type Class uint8

const (
	// ClassNotify events are after-the-fact; the handler's verdict is ignored.
	ClassNotify Class = iota
	// ClassAuth events block the originating action until the handler returns.
	ClassAuth
)

// Verdict is the handler's answer to an auth-class event.
type Verdict uint8

const (
	VerdictAllow Verdict = iota
	VerdictDeny
)

// Event is a single security event delivered by a Source.
type Event struct {
	Kind      Kind
	Class     Class
	PID       uint32
	PPID      uint32
	UID       uint32
	GID       uint32
	TargetPID uint32 // signal target
	Arg       uint64 // signal number, new uid/gid, mmap protection
	Path      string // file events
	Timestamp time.Time
}

// Handler consumes events from a Source. HandleEvent runs on the source's
// delivery thread: for ClassAuth events the source relays the returned
// verdict to the kernel before the blocked action may proceed, so handlers
// must not perform blocking work beyond what an authorization needs.
type Handler interface {
	HandleEvent(ev *Event) Verdict
}

// Source is a platform event source adapter. Run delivers events to the
// handler until ctx is cancelled or the source fails.
type Source interface {
	Run(ctx context.Context, h Handler) error
	Close() error
}
