//go:build linux

package platform

//go:generate clang -O2 -g -Wall -Werror -target bpf -c bpf/monitor.c -o bpf/monitor.o

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// SourceConfig holds what the Linux source needs at startup.
type SourceConfig struct {
	// ObjectPath is the compiled BPF object providing the notify-class
	// tracepoint programs and the "events" perf map.
	ObjectPath string
	// MountPoint is the mount marked for fanotify open-permission events.
	MountPoint string
}

// linuxSource delivers notify-class events from a BPF perf buffer and
// auth-class file-open events from fanotify. fanotify blocks the opening
// process until we write a response, which gives the dispatcher its
// synchronous allow/deny point.
type linuxSource struct {
	coll   *ebpf.Collection
	links  []link.Link
	reader *perf.Reader
	fanFD  int
	log    *logrus.Entry

	closeOnce sync.Once
}

type tracepointAttachment struct {
	group    string
	name     string
	program  string
	critical bool
}

var tracepoints = []tracepointAttachment{
	{"sched", "sched_process_exec", "trace_sched_exec", true},
	{"sched", "sched_process_exit", "trace_sched_exit", false},
	{"sched", "sched_process_fork", "trace_sched_fork", false},
	{"syscalls", "sys_enter_kill", "trace_kill", false},
	{"syscalls", "sys_enter_setuid", "trace_setuid", false},
	{"syscalls", "sys_enter_setgid", "trace_setgid", false},
	{"syscalls", "sys_enter_mmap", "trace_mmap", false},
	{"syscalls", "sys_enter_unlinkat", "trace_unlinkat", false},
	{"syscalls", "sys_enter_write", "trace_write", false},
}

// NewSource initializes the kernel event source. Any failure here is fatal
// for monitoring: the caller must not continue without a source.
func NewSource(cfg SourceConfig, log *logrus.Logger) (Source, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("%w: failed to remove memlock: %v", ErrSourceUnavailable, err)
	}

	spec, err := ebpf.LoadCollectionSpec(cfg.ObjectPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load BPF objects from %s: %v", ErrSourceUnavailable, cfg.ObjectPath, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create BPF collection: %v", ErrSourceUnavailable, err)
	}

	s := &linuxSource{
		coll:  coll,
		fanFD: -1,
		log:   log.WithField("component", "source"),
	}

	for _, tp := range tracepoints {
		prog, ok := coll.Programs[tp.program]
		if !ok {
			s.Close()
			return nil, fmt.Errorf("%w: BPF object missing program %s", ErrSourceUnavailable, tp.program)
		}
		l, err := link.Tracepoint(tp.group, tp.name, prog, nil)
		if err != nil {
			if tp.critical {
				s.Close()
				return nil, fmt.Errorf("%w: failed to attach %s/%s: %v", ErrSourceUnavailable, tp.group, tp.name, err)
			}
			s.log.WithError(err).Warnf("could not attach %s/%s tracepoint, continuing", tp.group, tp.name)
			continue
		}
		s.links = append(s.links, l)
	}

	events, ok := coll.Maps["events"]
	if !ok {
		s.Close()
		return nil, fmt.Errorf("%w: BPF object missing events map", ErrSourceUnavailable)
	}
	reader, err := perf.NewReader(events, os.Getpagesize()*8)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: failed to create perf reader: %v", ErrSourceUnavailable, err)
	}
	s.reader = reader

	fanFD, err := unix.FanotifyInit(unix.FAN_CLOEXEC|unix.FAN_CLASS_CONTENT, unix.O_RDONLY|unix.O_LARGEFILE)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: fanotify init: %v", ErrSourceUnavailable, err)
	}
	s.fanFD = fanFD

	if err := unix.FanotifyMark(fanFD, unix.FAN_MARK_ADD|unix.FAN_MARK_MOUNT,
		unix.FAN_OPEN_PERM, unix.AT_FDCWD, cfg.MountPoint); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: fanotify mark on %s: %v", ErrSourceUnavailable, cfg.MountPoint, err)
	}

	return s, nil
}

// Run reads both event streams until ctx is cancelled. Each stream has its
// own delivery goroutine; auth responses are written on the fanotify
// goroutine before it reads the next permission event.
func (s *linuxSource) Run(ctx context.Context, h Handler) error {
	errCh := make(chan error, 2)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	go func() { errCh <- s.runPerf(h) }()
	go func() { errCh <- s.runFanotify(h) }()

	err := <-errCh
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *linuxSource) runPerf(h Handler) error {
	for {
		record, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				return nil
			}
			s.log.WithError(err).Error("error reading perf buffer")
			continue
		}

		if record.LostSamples != 0 {
			s.log.WithField("lost", record.LostSamples).Warn("perf buffer dropped samples")
			continue
		}

		ev, err := decodeEvent(record.RawSample)
		if err != nil {
			s.log.WithError(err).Debug("skipping kernel record")
			continue
		}

		h.HandleEvent(ev)
	}
}

func (s *linuxSource) runFanotify(h Handler) error {
	self := uint32(os.Getpid())
	buf := make([]byte, 4096)
	metaLen := int(unix.FAN_EVENT_METADATA_LEN)

	for {
		n, err := unix.Read(s.fanFD, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			// Closed during shutdown.
			if err == unix.EBADF {
				return nil
			}
			return fmt.Errorf("fanotify read: %w", err)
		}

		for off := 0; off+metaLen <= n; {
			md := (*unix.FanotifyEventMetadata)(unsafe.Pointer(&buf[off]))
			if md.Vers != unix.FANOTIFY_METADATA_VERSION {
				s.log.WithField("version", md.Vers).Error("fanotify metadata version mismatch")
				return fmt.Errorf("%w: fanotify version %d", ErrMalformedEvent, md.Vers)
			}
			if md.Event_len == 0 {
				break
			}

			if md.Mask&unix.FAN_OPEN_PERM != 0 {
				s.respondOpen(h, md, self)
			} else if md.Fd >= 0 {
				unix.Close(int(md.Fd))
			}

			off += int(md.Event_len)
		}
	}
}

// respondOpen delivers one auth-class open event and writes the verdict.
// The kernel keeps the opening process blocked until the response lands.
func (s *linuxSource) respondOpen(h Handler, md *unix.FanotifyEventMetadata, self uint32) {
	verdict := VerdictAllow
	pid := uint32(md.Pid)

	path, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", md.Fd))
	switch {
	case err != nil:
		// No path data on an open event: skip, fail open.
		s.log.WithError(err).WithField("pid", pid).Debug("open event without resolvable path")
	case pid == self:
		// Our own opens (database, dumps) must never be re-dispatched.
	default:
		verdict = h.HandleEvent(&Event{
			Kind:      KindFileOpen,
			Class:     ClassAuth,
			PID:       pid,
			Path:      path,
			Timestamp: time.Now(),
		})
	}

	resp := unix.FanotifyResponse{Fd: md.Fd, Response: unix.FAN_ALLOW}
	if verdict == VerdictDeny {
		resp.Response = unix.FAN_DENY
	}
	respBytes := (*[unsafe.Sizeof(resp)]byte)(unsafe.Pointer(&resp))[:]
	if _, err := unix.Write(s.fanFD, respBytes); err != nil {
		s.log.WithError(err).Error("failed to write fanotify response")
	}
	unix.Close(int(md.Fd))
}

func (s *linuxSource) Close() error {
	s.closeOnce.Do(func() {
		if s.reader != nil {
			s.reader.Close()
		}
		for _, l := range s.links {
			l.Close()
		}
		if s.coll != nil {
			s.coll.Close()
		}
		if s.fanFD >= 0 {
			unix.Close(s.fanFD)
		}
	})
	return nil
}
