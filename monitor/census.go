package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	gopsnet "github.com/shirou/gopsutil/v3/net"
	gopsproc "github.com/shirou/gopsutil/v3/process"

	"avmonitor/database"
)

// runProcessCensus periodically sweeps the process table and registers
// anything that predates the monitor or slipped past the event source.
// Census entries never overwrite event-sourced ones.
func (m *Monitor) runProcessCensus(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ProcessScanInterval)
	defer ticker.Stop()

	m.sweepProcesses()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepProcesses()
		}
	}
}

func (m *Monitor) sweepProcesses() {
	pids, err := gopsproc.Pids()
	if err != nil {
		m.log.WithError(err).Warn("Process census sweep failed")
		return
	}

	for _, pid := range pids {
		if pid <= 0 || uint32(pid) == m.selfPID {
			continue
		}
		if m.registry.Has(uint32(pid)) {
			continue
		}
		info := m.analyzer.Analyze(uint32(pid))
		if !m.registry.AddIfAbsent(info) {
			continue
		}
		rec := processRecord(info, "DISCOVERED", time.Now())
		err := m.db.InsertProcessEventDetailed(rec, info.LoadedModules,
			info.Environment, info.OpenFiles)
		if err != nil {
			m.log.WithError(err).WithField("pid", pid).Error("Failed to record discovered process")
		}
	}
}

// runNetworkCensus snapshots the connection table and records tuples not
// seen before. The LRU bounds dedup memory; an evicted tuple that is still
// alive gets recorded again, which is harmless in an append-only log.
func (m *Monitor) runNetworkCensus(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.NetworkScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepConnections()
		}
	}
}

func (m *Monitor) sweepConnections() {
	conns, err := gopsnet.Connections("all")
	if err != nil {
		m.log.WithError(err).Warn("Network census sweep failed")
		return
	}

	for _, conn := range conns {
		if conn.Pid <= 0 {
			continue
		}
		key := fmt.Sprintf("%d/%s:%d-%s:%d", conn.Pid,
			conn.Laddr.IP, conn.Laddr.Port, conn.Raddr.IP, conn.Raddr.Port)
		if _, seen := m.netSeen.Get(key); seen {
			continue
		}
		m.netSeen.Add(key, struct{}{})

		err := m.db.InsertNetworkConnection(&database.NetworkConnectionRecord{
			Timestamp:  time.Now(),
			PID:        uint32(conn.Pid),
			LocalAddr:  conn.Laddr.IP,
			LocalPort:  conn.Laddr.Port,
			RemoteAddr: conn.Raddr.IP,
			RemotePort: conn.Raddr.Port,
			Protocol:   protocolName(conn.Type),
			State:      conn.Status,
		})
		if err != nil {
			m.log.WithError(err).Error("Failed to record network connection")
		}
	}
}

func protocolName(sockType uint32) string {
	switch sockType {
	case 1:
		return "tcp"
	case 2:
		return "udp"
	default:
		return fmt.Sprintf("sock_%d", sockType)
	}
}

// runFilesystemCensus watches the configured directories and flushes
// observed changes on a short interval. Watch notifications carry no PID,
// so those rows record the path with PID 0.
func (m *Monitor) runFilesystemCensus(ctx context.Context) {
	if len(m.cfg.WatchPaths) == 0 {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.log.WithError(err).Warn("Filesystem census unavailable")
		return
	}
	defer watcher.Close()

	for _, path := range m.cfg.WatchPaths {
		if err := watcher.Add(path); err != nil {
			m.log.WithError(err).WithField("path", path).Warn("Failed to watch path")
		}
	}

	ticker := time.NewTicker(m.cfg.FilesystemScanInterval)
	defer ticker.Stop()

	pending := make(map[string]string)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if op := watchOperation(event.Op); op != "" {
				pending[event.Name] = op
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.log.WithError(err).Warn("Filesystem watch error")
		case <-ticker.C:
			for path, op := range pending {
				m.recordFileAccess(0, path, op, true, "", time.Now())
			}
			clear(pending)
		}
	}
}

func watchOperation(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename):
		return "DELETE"
	case op.Has(fsnotify.Create) || op.Has(fsnotify.Write):
		return "WRITE"
	default:
		return ""
	}
}
