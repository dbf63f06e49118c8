// Package database persists monitoring activity to a local SQLite store.
// Every table is append-only; rows are never updated or deleted by the
// monitor itself.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// DB wraps the SQLite handle. A single mutex serializes writers; SQLite
// allows only one at a time and contention here is cheaper than busy
// retries.
type DB struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logrus.Logger
}

// ProcessEventRecord is one row of the process lifecycle table. EventType
// is EXEC, EXIT, or DISCOVERED.
type ProcessEventRecord struct {
	Timestamp   time.Time
	PID         uint32
	PPID        uint32
	UID         uint32
	GID         uint32
	ExePath     string
	CmdLine     string
	Username    string
	BundleID    string
	EventType   string
	CPUTime     int64 // nanoseconds
	MemoryUsage uint64
	IsSystem    bool
}

// FileAccessRecord is one row of the file access audit table. Operation is
// OPEN, OPEN_FILE, WRITE, or DELETE. DenyReason is empty when Allowed.
type FileAccessRecord struct {
	Timestamp  time.Time
	PID        uint32
	Path       string
	Operation  string
	Allowed    bool
	DenyReason string
}

type NetworkConnectionRecord struct {
	Timestamp  time.Time
	PID        uint32
	LocalAddr  string
	LocalPort  uint32
	RemoteAddr string
	RemotePort uint32
	Protocol   string
	State      string
}

type SyscallRecord struct {
	Timestamp   time.Time
	PID         uint32
	Syscall     string
	Args        string
	ReturnValue string
}

type MemoryRegionRecord struct {
	Timestamp   time.Time
	PID         uint32
	RegionStart uint64
	RegionEnd   uint64
	Permissions string
	MappedPath  string
}

type RuleMatchRecord struct {
	Timestamp time.Time
	PID       uint32
	RuleID    string
	RuleName  string
	Details   string
}

func NewDB(dataDir string, log *logrus.Logger) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "activity_monitor.db")
	log.WithField("path", dbPath).Info("Opening activity database")

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db: db, log: log}, nil
}

func initSchema(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS process_events (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp         DATETIME NOT NULL,
			pid               INTEGER NOT NULL,
			ppid              INTEGER NOT NULL,
			executable_path   TEXT,
			command_line      TEXT,
			bundle_id         TEXT,
			uid               INTEGER NOT NULL,
			gid               INTEGER NOT NULL,
			username          TEXT,
			event_type        TEXT NOT NULL,
			cpu_time          INTEGER NOT NULL DEFAULT 0,
			memory_usage      INTEGER NOT NULL DEFAULT 0,
			is_system_process BOOLEAN NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS file_access (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   DATETIME NOT NULL,
			pid         INTEGER NOT NULL,
			file_path   TEXT NOT NULL,
			access_type TEXT NOT NULL,
			was_blocked BOOLEAN NOT NULL,
			reason      TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS network_connections (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      DATETIME NOT NULL,
			pid            INTEGER NOT NULL,
			protocol       TEXT,
			local_address  TEXT,
			local_port     INTEGER,
			remote_address TEXT,
			remote_port    INTEGER,
			state          TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS system_calls (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    DATETIME NOT NULL,
			pid          INTEGER NOT NULL,
			syscall_name TEXT NOT NULL,
			arguments    TEXT,
			return_value TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS process_memory (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp     DATETIME NOT NULL,
			pid           INTEGER NOT NULL,
			memory_region TEXT NOT NULL,
			permissions   TEXT,
			size          INTEGER NOT NULL,
			file_path     TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS loaded_libraries (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    DATETIME NOT NULL,
			pid          INTEGER NOT NULL,
			library_path TEXT NOT NULL,
			load_address TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS environment_vars (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			pid       INTEGER NOT NULL,
			var_name  TEXT NOT NULL,
			var_value TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS rule_matches (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			pid       INTEGER NOT NULL,
			rule_id   TEXT NOT NULL,
			rule_name TEXT NOT NULL,
			details   TEXT
		);`,
	}

	for _, schema := range tables {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexed := []string{
		"process_events", "file_access", "network_connections",
		"system_calls", "process_memory", "loaded_libraries",
		"environment_vars", "rule_matches",
	}
	var indexes []string
	for _, table := range indexed {
		indexes = append(indexes,
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_pid ON %s(pid);", table, table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_timestamp ON %s(timestamp);", table, table))
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// InsertProcessEvent writes a single lifecycle row without any companion
// detail rows. Used for EXIT and DISCOVERED events.
func (d *DB) InsertProcessEvent(rec *ProcessEventRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.insertProcessEventLocked(rec)
}

func (d *DB) insertProcessEventLocked(rec *ProcessEventRecord) error {
	_, err := d.db.Exec(`
		INSERT INTO process_events (
			timestamp, pid, ppid, executable_path, command_line, bundle_id,
			uid, gid, username, event_type, cpu_time, memory_usage,
			is_system_process
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.PID, rec.PPID, rec.ExePath, rec.CmdLine,
		rec.BundleID, rec.UID, rec.GID, rec.Username, rec.EventType,
		rec.CPUTime, int64(rec.MemoryUsage), rec.IsSystem)
	if err != nil {
		return fmt.Errorf("failed to insert process event: %w", err)
	}
	return nil
}

// InsertProcessEventDetailed writes a lifecycle row plus its companion
// loaded-library, environment, and open-file rows under one writer lock,
// so a reader never observes a process event with half its detail rows.
func (d *DB) InsertProcessEventDetailed(rec *ProcessEventRecord, libraries []string, environment map[string]string, openFiles []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.insertProcessEventLocked(rec); err != nil {
		return err
	}

	for _, lib := range libraries {
		_, err := d.db.Exec(`
			INSERT INTO loaded_libraries (timestamp, pid, library_path, load_address)
			VALUES (?, ?, ?, ?)`,
			rec.Timestamp, rec.PID, lib, "0x0")
		if err != nil {
			return fmt.Errorf("failed to insert loaded library: %w", err)
		}
	}

	for name, value := range environment {
		_, err := d.db.Exec(`
			INSERT INTO environment_vars (timestamp, pid, var_name, var_value)
			VALUES (?, ?, ?, ?)`,
			rec.Timestamp, rec.PID, name, value)
		if err != nil {
			return fmt.Errorf("failed to insert environment variable: %w", err)
		}
	}

	for _, path := range openFiles {
		_, err := d.db.Exec(`
			INSERT INTO file_access (timestamp, pid, file_path, access_type, was_blocked, reason)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.Timestamp, rec.PID, path, "OPEN_FILE", false, "")
		if err != nil {
			return fmt.Errorf("failed to insert open file: %w", err)
		}
	}

	return nil
}

func (d *DB) InsertFileAccess(rec *FileAccessRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO file_access (timestamp, pid, file_path, access_type, was_blocked, reason)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.PID, rec.Path, rec.Operation, !rec.Allowed, rec.DenyReason)
	if err != nil {
		return fmt.Errorf("failed to insert file access: %w", err)
	}
	return nil
}

func (d *DB) InsertNetworkConnection(rec *NetworkConnectionRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO network_connections (
			timestamp, pid, protocol, local_address, local_port,
			remote_address, remote_port, state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.PID, rec.Protocol, rec.LocalAddr, rec.LocalPort,
		rec.RemoteAddr, rec.RemotePort, rec.State)
	if err != nil {
		return fmt.Errorf("failed to insert network connection: %w", err)
	}
	return nil
}

func (d *DB) InsertSyscall(rec *SyscallRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO system_calls (timestamp, pid, syscall_name, arguments, return_value)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.PID, rec.Syscall, rec.Args, rec.ReturnValue)
	if err != nil {
		return fmt.Errorf("failed to insert syscall: %w", err)
	}
	return nil
}

func (d *DB) InsertMemoryRegion(rec *MemoryRegionRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO process_memory (
			timestamp, pid, memory_region, permissions, size, file_path
		) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.PID,
		fmt.Sprintf("0x%x-0x%x", rec.RegionStart, rec.RegionEnd),
		rec.Permissions, int64(rec.RegionEnd-rec.RegionStart), rec.MappedPath)
	if err != nil {
		return fmt.Errorf("failed to insert memory region: %w", err)
	}
	return nil
}

func (d *DB) InsertRuleMatch(rec *RuleMatchRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO rule_matches (timestamp, pid, rule_id, rule_name, details)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.PID, rec.RuleID, rec.RuleName, rec.Details)
	if err != nil {
		return fmt.Errorf("failed to insert rule match: %w", err)
	}
	return nil
}

// RecentProcessEvents returns the newest lifecycle rows, newest first.
func (d *DB) RecentProcessEvents(limit int) ([]ProcessEventRecord, error) {
	rows, err := d.db.Query(`
		SELECT timestamp, pid, ppid, executable_path, command_line,
		       bundle_id, uid, gid, username, event_type, cpu_time,
		       memory_usage, is_system_process
		FROM process_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query process events: %w", err)
	}
	defer rows.Close()

	var records []ProcessEventRecord
	for rows.Next() {
		var rec ProcessEventRecord
		if err := rows.Scan(&rec.Timestamp, &rec.PID, &rec.PPID,
			&rec.ExePath, &rec.CmdLine, &rec.BundleID, &rec.UID,
			&rec.GID, &rec.Username, &rec.EventType, &rec.CPUTime,
			&rec.MemoryUsage, &rec.IsSystem); err != nil {
			return nil, fmt.Errorf("failed to scan process event: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ProcessEventsByPID returns all lifecycle rows for one PID, oldest first.
func (d *DB) ProcessEventsByPID(pid uint32) ([]ProcessEventRecord, error) {
	rows, err := d.db.Query(`
		SELECT timestamp, pid, ppid, executable_path, command_line,
		       bundle_id, uid, gid, username, event_type, cpu_time,
		       memory_usage, is_system_process
		FROM process_events WHERE pid = ? ORDER BY id ASC`, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to query process events: %w", err)
	}
	defer rows.Close()

	var records []ProcessEventRecord
	for rows.Next() {
		var rec ProcessEventRecord
		if err := rows.Scan(&rec.Timestamp, &rec.PID, &rec.PPID,
			&rec.ExePath, &rec.CmdLine, &rec.BundleID, &rec.UID,
			&rec.GID, &rec.Username, &rec.EventType, &rec.CPUTime,
			&rec.MemoryUsage, &rec.IsSystem); err != nil {
			return nil, fmt.Errorf("failed to scan process event: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FileAccessHistory returns the newest file access rows, capped at 5000.
func (d *DB) FileAccessHistory() ([]FileAccessRecord, error) {
	rows, err := d.db.Query(`
		SELECT timestamp, pid, file_path, access_type, was_blocked, reason
		FROM file_access ORDER BY id DESC LIMIT 5000`)
	if err != nil {
		return nil, fmt.Errorf("failed to query file access: %w", err)
	}
	defer rows.Close()

	var records []FileAccessRecord
	for rows.Next() {
		var rec FileAccessRecord
		var blocked bool
		if err := rows.Scan(&rec.Timestamp, &rec.PID, &rec.Path,
			&rec.Operation, &blocked, &rec.DenyReason); err != nil {
			return nil, fmt.Errorf("failed to scan file access: %w", err)
		}
		rec.Allowed = !blocked
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecentNetworkConnections returns the newest connection rows, capped at 1000.
func (d *DB) RecentNetworkConnections() ([]NetworkConnectionRecord, error) {
	rows, err := d.db.Query(`
		SELECT timestamp, pid, protocol, local_address, local_port,
		       remote_address, remote_port, state
		FROM network_connections ORDER BY id DESC LIMIT 1000`)
	if err != nil {
		return nil, fmt.Errorf("failed to query network connections: %w", err)
	}
	defer rows.Close()

	var records []NetworkConnectionRecord
	for rows.Next() {
		var rec NetworkConnectionRecord
		if err := rows.Scan(&rec.Timestamp, &rec.PID, &rec.Protocol,
			&rec.LocalAddr, &rec.LocalPort, &rec.RemoteAddr,
			&rec.RemotePort, &rec.State); err != nil {
			return nil, fmt.Errorf("failed to scan network connection: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
