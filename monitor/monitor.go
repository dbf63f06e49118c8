// Package monitor ties the event sources, the process registry, the device
// authorizer, and the activity database together. It is the only component
// that renders authorization verdicts.
package monitor

import (
	"context"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"avmonitor/database"
	"avmonitor/detect"
	"avmonitor/device"
	"avmonitor/process"
)

// Config carries the tunables for the background census scanners.
type Config struct {
	ProcessScanInterval    time.Duration
	NetworkScanInterval    time.Duration
	FilesystemScanInterval time.Duration
	WatchPaths             []string
}

// Monitor consumes platform events and runs the periodic censuses. One
// Monitor instance owns the full event path from source to database.
type Monitor struct {
	log        *logrus.Logger
	db         *database.DB
	registry   *process.Registry
	analyzer   *process.Analyzer
	authorizer *device.Authorizer
	detector   *detect.Detector

	ring    *AccessRing
	cfg     Config
	selfPID uint32

	// network census dedup; key is the connection tuple
	netSeen *lru.Cache

	// set once in New and read concurrently by event dispatch; never
	// reassigned after construction
	ctx context.Context
}

// New wires a Monitor. ctx bounds everything the monitor does: rule
// evaluation on the event path and the census scanners. detector may be
// nil, which disables rule matching.
func New(ctx context.Context, log *logrus.Logger, db *database.DB,
	registry *process.Registry, analyzer *process.Analyzer,
	authorizer *device.Authorizer, detector *detect.Detector,
	cfg Config) *Monitor {

	if cfg.ProcessScanInterval <= 0 {
		cfg.ProcessScanInterval = 5 * time.Second
	}
	if cfg.NetworkScanInterval <= 0 {
		cfg.NetworkScanInterval = 10 * time.Second
	}
	if cfg.FilesystemScanInterval <= 0 {
		cfg.FilesystemScanInterval = 1 * time.Second
	}

	netSeen, _ := lru.New(8192)
	return &Monitor{
		log:        log,
		db:         db,
		registry:   registry,
		analyzer:   analyzer,
		authorizer: authorizer,
		detector:   detector,
		ring:       NewAccessRing(),
		cfg:        cfg,
		selfPID:    uint32(os.Getpid()),
		netSeen:    netSeen,
		ctx:        ctx,
	}
}

// Ring exposes the in-memory file access log for the control API.
func (m *Monitor) Ring() *AccessRing {
	return m.ring
}

// Registry exposes the live process table for the control API.
func (m *Monitor) Registry() *process.Registry {
	return m.registry
}

// Run starts the census scanners and blocks until the monitor's context
// is cancelled and every scanner has drained. Event dispatch runs on the
// source's goroutines, not here.
func (m *Monitor) Run() {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		m.runProcessCensus(m.ctx)
	}()
	go func() {
		defer wg.Done()
		m.runNetworkCensus(m.ctx)
	}()
	go func() {
		defer wg.Done()
		m.runFilesystemCensus(m.ctx)
	}()
	wg.Wait()
}
