//go:build linux

package process

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// fillPlatform reads /proc/<pid>/maps for the set of file-backed mappings.
// gopsutil exposes memory maps too, but grouped; the raw file keeps the
// distinct shared-object paths we want.
func (a *Analyzer) fillPlatform(info *Info) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", info.PID))
	if err != nil {
		return
	}
	defer f.Close()

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		path := fields[5]
		if !strings.HasPrefix(path, "/") {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		info.LoadedModules = append(info.LoadedModules, path)
	}
}
