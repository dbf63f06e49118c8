//go:build darwin

package process

import (
	"strings"

	"golang.org/x/sys/unix"
)

// fillPlatform recovers the exact argument and environment vectors from the
// kernel's packed argument area. gopsutil's cmdline on darwin loses the
// argv/envp boundary, so the raw blob is authoritative when readable.
func (a *Analyzer) fillPlatform(info *Info) {
	raw, err := unix.SysctlRaw("kern.procargs2", int(info.PID))
	if err != nil {
		return
	}
	blob, err := ParseArgsBlob(raw)
	if err != nil {
		a.log.WithField("pid", info.PID).WithError(err).Debug("Malformed process argument area")
		return
	}
	if info.CmdLine == "" {
		info.CmdLine = blob.CommandLine()
	}
	if len(info.Environment) == 0 {
		info.Environment = blob.Env
	}
	if info.ExePath == "" {
		info.ExePath = blob.Exe
	}
	info.BundleID = bundleIDFromPath(info.ExePath)
}

// bundleIDFromPath is a weak stand-in for code-signing metadata: it pulls
// the bundle directory name out of a .app path when present.
func bundleIDFromPath(exePath string) string {
	idx := strings.Index(exePath, ".app/")
	if idx < 0 {
		return ""
	}
	start := strings.LastIndex(exePath[:idx], "/")
	return exePath[start+1 : idx]
}
