package platform

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrSourceUnavailable is returned when the kernel event source cannot be
// initialized or subscribed. It is fatal: monitoring must not start without
// a source.
var ErrSourceUnavailable = errors.New("event source unavailable")

// ErrMalformedEvent is returned for kernel records missing expected fields.
// Such events are logged and skipped; processing continues.
var ErrMalformedEvent = errors.New("malformed event record")

// rawEvent mirrors struct event emitted by bpf/monitor.c. Field order and
// sizes must match the C layout exactly.
type rawEvent struct {
	Kind      uint32
	PID       uint32
	PPID      uint32
	UID       uint32
	GID       uint32
	TargetPID uint32
	Arg       uint64
	TimeNS    uint64
	Path      [256]byte
}

// kernel event type values, matching EVENT_* in bpf/monitor.c
const (
	rawEventExec   = 1
	rawEventExit   = 2
	rawEventFork   = 3
	rawEventWrite  = 4
	rawEventUnlink = 5
	rawEventMmap   = 6
	rawEventSignal = 7
	rawEventSetuid = 8
	rawEventSetgid = 9
)

// decodeEvent parses a raw perf sample into an Event. All perf-delivered
// events are notify-class; auth-class file opens arrive via fanotify.
func decodeEvent(sample []byte) (*Event, error) {
	var raw rawEvent
	if err := binary.Read(bytes.NewReader(sample), binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("%w: short sample (%d bytes)", ErrMalformedEvent, len(sample))
	}

	ev := &Event{
		Class:     ClassNotify,
		PID:       raw.PID,
		PPID:      raw.PPID,
		UID:       raw.UID,
		GID:       raw.GID,
		TargetPID: raw.TargetPID,
		Arg:       raw.Arg,
		Path:      bytesToString(raw.Path[:]),
		Timestamp: time.Now(),
	}

	switch raw.Kind {
	case rawEventExec:
		ev.Kind = KindExec
	case rawEventExit:
		ev.Kind = KindExit
	case rawEventFork:
		ev.Kind = KindFork
	case rawEventWrite:
		ev.Kind = KindFileWrite
	case rawEventUnlink:
		ev.Kind = KindFileUnlink
	case rawEventMmap:
		ev.Kind = KindMmap
	case rawEventSignal:
		ev.Kind = KindSignal
	case rawEventSetuid:
		ev.Kind = KindSetuid
	case rawEventSetgid:
		ev.Kind = KindSetgid
	default:
		ev.Kind = KindUnknown
	}

	// Write events carry the file descriptor in Arg; the dispatcher
	// resolves it to a path. Unlink must arrive with one.
	if ev.Kind == KindFileUnlink && ev.Path == "" {
		return nil, fmt.Errorf("%w: %s event without path", ErrMalformedEvent, ev.Kind)
	}

	return ev, nil
}

// bytesToString converts a byte array to a string, truncating at the first null byte
func bytesToString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
