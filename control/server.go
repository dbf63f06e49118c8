// Package control exposes the local HTTP API used to toggle device gates
// and query monitoring state.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"avmonitor/database"
	"avmonitor/device"
	"avmonitor/memdump"
	"avmonitor/monitor"
)

// ControlRequest is the body of POST /api/control.
type ControlRequest struct {
	Command string `json:"command"`
}

// ControlResponse mirrors the response shape callers already expect: the
// status fields appear only on get_status.
type ControlResponse struct {
	Success           bool   `json:"success"`
	Error             string `json:"error,omitempty"`
	MicrophoneEnabled *bool  `json:"microphone_enabled,omitempty"`
	CameraEnabled     *bool  `json:"camera_enabled,omitempty"`
}

type memoryRequest struct {
	PID uint32 `json:"pid"`
}

// Server serves the control API. It binds to localhost only; there is no
// authentication layer beyond the bind address.
type Server struct {
	log   *logrus.Logger
	gates *device.Gates
	db    *database.DB
	mon   *monitor.Monitor
	srv   *http.Server
}

func NewServer(listen string, log *logrus.Logger, gates *device.Gates,
	db *database.DB, mon *monitor.Monitor) *Server {

	s := &Server{
		log:   log,
		gates: gates,
		db:    db,
		mon:   mon,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/control", s.handleControl)
	mux.HandleFunc("/api/processes", s.handleProcesses)
	mux.HandleFunc("/api/fileaccess", s.handleFileAccess)
	mux.HandleFunc("/api/network", s.handleNetwork)
	mux.HandleFunc("/api/memory/regions", s.handleMemoryRegions)
	mux.HandleFunc("/api/memory/dump", s.handleMemoryDump)

	s.srv = &http.Server{
		Addr:         listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// ListenAndServe blocks until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.srv.Addr).Info("Control API listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handle applies a control command to the device gates. It is exported so
// the command path can be exercised without a listener.
func (s *Server) Handle(command string) ControlResponse {
	switch command {
	case "disable_microphone":
		s.gates.SetMicrophone(false)
	case "enable_microphone":
		s.gates.SetMicrophone(true)
	case "disable_camera":
		s.gates.SetCamera(false)
	case "enable_camera":
		s.gates.SetCamera(true)
	case "get_status":
		mic := s.gates.MicrophoneEnabled()
		cam := s.gates.CameraEnabled()
		s.log.WithFields(logrus.Fields{
			"microphone_enabled": mic,
			"camera_enabled":     cam,
		}).Info("Reported gate status")
		return ControlResponse{
			Success:           true,
			MicrophoneEnabled: &mic,
			CameraEnabled:     &cam,
		}
	default:
		return ControlResponse{Success: false, Error: "Unknown command"}
	}

	s.log.WithField("command", command).Info("Applied control command")
	return ControlResponse{Success: true}
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, ControlResponse{Success: false, Error: "Invalid request body"})
		return
	}
	writeJSON(w, s.Handle(req.Command))
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.mon.Registry().List())
}

func (s *Server) handleFileAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.mon.Ring().Snapshot())
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	records, err := s.db.RecentNetworkConnections()
	if err != nil {
		s.log.WithError(err).Error("Failed to query network connections")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

// handleMemoryRegions enumerates a process's memory map and persists the
// snapshot to the process_memory table.
func (s *Server) handleMemoryRegions(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.decodeMemoryRequest(w, r)
	if !ok {
		return
	}

	regions, err := memdump.ListRegions(pid)
	if err != nil {
		s.writeMemoryError(w, pid, err)
		return
	}

	now := time.Now()
	for _, region := range regions {
		err := s.db.InsertMemoryRegion(&database.MemoryRegionRecord{
			Timestamp:   now,
			PID:         pid,
			RegionStart: region.Start,
			RegionEnd:   region.End,
			Permissions: region.Perms,
			MappedPath:  region.Path,
		})
		if err != nil {
			s.log.WithError(err).WithField("pid", pid).Error("Failed to record memory region")
			break
		}
	}

	writeJSON(w, regions)
}

func (s *Server) handleMemoryDump(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.decodeMemoryRequest(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=memory_%d.dump", pid))

	n, err := memdump.Dump(pid, w)
	if err != nil && n == 0 {
		s.writeMemoryError(w, pid, err)
		return
	}
	if err != nil {
		// Headers already sent; log the truncation and stop.
		s.log.WithError(err).WithField("pid", pid).Warn("Memory dump truncated")
	}
}

func (s *Server) decodeMemoryRequest(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return 0, false
	}
	var req memoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PID == 0 {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return 0, false
	}
	return req.PID, true
}

func (s *Server) writeMemoryError(w http.ResponseWriter, pid uint32, err error) {
	switch {
	case errors.Is(err, memdump.ErrTargetGone):
		http.Error(w, "process not found", http.StatusNotFound)
	case errors.Is(err, memdump.ErrPrivilegeDenied):
		http.Error(w, "insufficient privileges", http.StatusForbidden)
	default:
		s.log.WithError(err).WithField("pid", pid).Error("Memory inspection failed")
		http.Error(w, "memory inspection failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
