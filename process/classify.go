package process

import (
	"path/filepath"
	"strings"
)

// Known system processes by name. Ordinary binaries living under system
// directories (a /usr/bin tool, say) are not system-critical; the flag marks
// core OS components only.
var systemProcessNames = []string{
	"kernel_task", "launchd", "kextd", "UserEventAgent",
	"loginwindow", "WindowServer", "Dock", "Finder",
	"SystemUIServer", "coreaudiod", "VDCAssistant",
	"systemd", "init", "kthreadd",
}

// Framework name fragments used to derive capability flags from loaded
// module paths. Substring heuristics, deliberately loose.
var (
	audioModuleFragments   = []string{"AVFoundation", "CoreAudio", "AudioUnit", "libasound"}
	videoModuleFragments   = []string{"AVCapture", "CoreMediaIO", "libv4l"}
	networkModuleFragments = []string{"CFNetwork", "Network.framework", "libcurl", "libssl"}
)

// Classify fills the derived flags on info from its executable path and
// loaded modules.
func Classify(info *Info) {
	info.IsSystemProcess = isSystemCritical(info.ExePath)
	info.HasFileSystemAccess = true

	for _, mod := range info.LoadedModules {
		if !info.HasAudioAccess && containsAny(mod, audioModuleFragments) {
			info.HasAudioAccess = true
		}
		if !info.HasVideoAccess && containsAny(mod, videoModuleFragments) {
			info.HasVideoAccess = true
		}
		if !info.HasNetworkAccess && containsAny(mod, networkModuleFragments) {
			info.HasNetworkAccess = true
		}
	}
}

func isSystemCritical(exePath string) bool {
	if exePath == "" {
		return false
	}
	if strings.HasPrefix(exePath, "/System/") {
		return true
	}
	name := filepath.Base(exePath)
	for _, n := range systemProcessNames {
		if name == n {
			return true
		}
	}
	return false
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}
