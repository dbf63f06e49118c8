package monitor

import (
	"fmt"
	"os"
	"time"

	"avmonitor/database"
	"avmonitor/platform"
	"avmonitor/process"
)

// HandleEvent is the single entry point for platform events. Notify-class
// events always return VerdictAllow; only device-relevant file opens can
// be denied. Database failures are logged and dropped so persistence never
// stalls or alters authorization.
func (m *Monitor) HandleEvent(ev *platform.Event) platform.Verdict {
	switch ev.Kind {
	case platform.KindExec:
		m.handleExec(ev)
	case platform.KindExit:
		m.handleExit(ev)
	case platform.KindFileOpen:
		return m.handleFileOpen(ev)
	case platform.KindFileWrite:
		m.handleFileWrite(ev)
	case platform.KindFileUnlink:
		m.recordFileAccess(ev.PID, ev.Path, "DELETE", true, "", ev.Timestamp)
	case platform.KindFork:
		m.recordSyscall(ev, "fork", "Process forked")
	case platform.KindSignal:
		m.recordSyscall(ev, "kill",
			fmt.Sprintf("signal=%d target_pid=%d", ev.Arg, ev.TargetPID))
	case platform.KindSetuid:
		m.recordSyscall(ev, "setuid", fmt.Sprintf("new_uid=%d", ev.Arg))
	case platform.KindSetgid:
		m.recordSyscall(ev, "setgid", fmt.Sprintf("new_gid=%d", ev.Arg))
	case platform.KindMmap:
		m.recordSyscall(ev, "mmap", "Memory mapping event")
	default:
		m.log.WithField("kind", ev.Kind).Debug("Unhandled event kind")
	}
	return platform.VerdictAllow
}

func (m *Monitor) handleExec(ev *platform.Event) {
	info := m.analyzer.Analyze(ev.PID)
	if info.ExePath == "" {
		// Short-lived process: the kernel event is all we have.
		info.ExePath = ev.Path
		process.Classify(info)
	}
	if info.PPID == 0 {
		info.PPID = ev.PPID
	}
	info.UID = ev.UID
	info.GID = ev.GID
	m.registry.Add(info)

	if info.HasAudioAccess || info.HasVideoAccess {
		m.log.WithFields(map[string]interface{}{
			"pid":   info.PID,
			"exe":   info.ExePath,
			"audio": info.HasAudioAccess,
			"video": info.HasVideoAccess,
		}).Info("Process with media capability started")
	}

	rec := processRecord(info, "EXEC", ev.Timestamp)
	err := m.db.InsertProcessEventDetailed(rec, info.LoadedModules,
		info.Environment, info.OpenFiles)
	if err != nil {
		m.log.WithError(err).WithField("pid", ev.PID).Error("Failed to record exec event")
	}

	if m.detector != nil {
		m.detector.CheckExec(m.ctx, info)
	}
}

func (m *Monitor) handleExit(ev *platform.Event) {
	info, ok := m.registry.Get(ev.PID)
	if !ok {
		// Never tracked; nothing useful to record.
		return
	}
	rec := processRecord(info, "EXIT", ev.Timestamp)
	if err := m.db.InsertProcessEvent(rec); err != nil {
		m.log.WithError(err).WithField("pid", ev.PID).Error("Failed to record exit event")
	}
	m.registry.Remove(ev.PID)
}

func (m *Monitor) handleFileOpen(ev *platform.Event) platform.Verdict {
	decision := m.authorizer.Decide(ev.Path)

	m.recordFileAccess(ev.PID, ev.Path, "OPEN", decision.Allow, decision.Reason, ev.Timestamp)

	if !decision.Allow {
		m.log.WithFields(map[string]interface{}{
			"pid":    ev.PID,
			"path":   ev.Path,
			"reason": decision.Reason,
		}).Warn("Blocked device access")
		return platform.VerdictDeny
	}
	return platform.VerdictAllow
}

func (m *Monitor) handleFileWrite(ev *platform.Event) {
	path := ev.Path
	if path == "" {
		path = resolveFD(ev.PID, ev.Arg)
	}
	if path == "" {
		return
	}
	m.recordFileAccess(ev.PID, path, "WRITE", true, "", ev.Timestamp)
}

func (m *Monitor) recordFileAccess(pid uint32, path, operation string, allowed bool, reason string, ts time.Time) {
	m.ring.Append(AccessEntry{
		Timestamp:  ts,
		PID:        pid,
		Path:       path,
		Operation:  operation,
		Allowed:    allowed,
		DenyReason: reason,
	})

	err := m.db.InsertFileAccess(&database.FileAccessRecord{
		Timestamp:  ts,
		PID:        pid,
		Path:       path,
		Operation:  operation,
		Allowed:    allowed,
		DenyReason: reason,
	})
	if err != nil {
		m.log.WithError(err).WithField("path", path).Error("Failed to record file access")
	}
}

func (m *Monitor) recordSyscall(ev *platform.Event, name, args string) {
	err := m.db.InsertSyscall(&database.SyscallRecord{
		Timestamp:   ev.Timestamp,
		PID:         ev.PID,
		Syscall:     name,
		Args:        args,
		ReturnValue: "0",
	})
	if err != nil {
		m.log.WithError(err).WithField("syscall", name).Error("Failed to record syscall")
	}
}

func processRecord(info *process.Info, eventType string, ts time.Time) *database.ProcessEventRecord {
	return &database.ProcessEventRecord{
		Timestamp:   ts,
		PID:         info.PID,
		PPID:        info.PPID,
		UID:         info.UID,
		GID:         info.GID,
		ExePath:     info.ExePath,
		CmdLine:     info.CmdLine,
		Username:    info.Username,
		BundleID:    info.BundleID,
		EventType:   eventType,
		CPUTime:     info.CPUTime.Nanoseconds(),
		MemoryUsage: info.MemoryUsage,
		IsSystem:    info.IsSystemProcess,
	}
}

// resolveFD maps a file descriptor back to its path via procfs. Best
// effort; the descriptor may be gone by the time we look.
func resolveFD(pid uint32, fd uint64) string {
	path, err := os.Readlink(fmt.Sprintf("/proc/%d/fd/%d", pid, fd))
	if err != nil {
		return ""
	}
	return path
}
