package process

import "time"

// Info holds everything the monitor knows about a live process. Entries are
// owned by the Registry; collaborators only ever see copies.
type Info struct {
	// Identity
	PID  uint32
	PPID uint32
	UID  uint32
	GID  uint32

	// Provenance
	ExePath   string
	CmdLine   string
	BundleID  string
	Username  string
	StartTime time.Time

	// Resource facts
	CPUTime     time.Duration
	MemoryUsage uint64 // resident bytes

	// Relational facts
	OpenFiles     []string          // regular-file descriptors only
	LoadedModules []string          // mapped shared objects, load order
	Environment   map[string]string // keys unique

	// Derived flags. Capability flags are a loaded-module heuristic, never
	// an authorization input.
	IsSystemProcess     bool
	HasAudioAccess      bool
	HasVideoAccess      bool
	HasNetworkAccess    bool
	HasFileSystemAccess bool
}

// clone deep-copies an Info so registry readers never share slices or maps
// with a writer.
func (i *Info) clone() *Info {
	c := *i
	c.OpenFiles = append([]string(nil), i.OpenFiles...)
	c.LoadedModules = append([]string(nil), i.LoadedModules...)
	if i.Environment != nil {
		c.Environment = make(map[string]string, len(i.Environment))
		for k, v := range i.Environment {
			c.Environment[k] = v
		}
	}
	return &c
}
