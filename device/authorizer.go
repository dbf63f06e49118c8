package device

import "strings"

// Deny reasons recorded in the audit trail. Fixed strings; tooling that
// reads the file_access table matches on them.
const (
	ReasonMicrophoneDisabled = "Microphone disabled by system extension"
	ReasonCameraDisabled     = "Camera disabled by system extension"
)

// Decision is the outcome of a device-access check.
type Decision struct {
	Allow  bool
	Reason string // non-empty iff denied
}

// DefaultAudioPatterns and DefaultVideoPatterns classify open paths by
// substring. This is a heuristic pattern set, not an authoritative device
// capability check, and is overridable through configuration.
var (
	DefaultAudioPatterns = []string{"/dev/audio", "coreaudio", "AudioUnit", "AVAudioEngine"}
	DefaultVideoPatterns = []string{"/dev/video", "AVCapture", "CoreMediaIO", "VDCAssistant"}
)

// Authorizer classifies file-open paths against device pattern sets and
// consults the gates. Decide runs on the event delivery thread and must not
// block: it is pure string matching plus two atomic loads.
type Authorizer struct {
	gates         *Gates
	audioPatterns []string
	videoPatterns []string
}

// NewAuthorizer builds an authorizer over the given gates. Empty pattern
// slices fall back to the defaults.
func NewAuthorizer(gates *Gates, audioPatterns, videoPatterns []string) *Authorizer {
	if len(audioPatterns) == 0 {
		audioPatterns = DefaultAudioPatterns
	}
	if len(videoPatterns) == 0 {
		videoPatterns = DefaultVideoPatterns
	}
	return &Authorizer{
		gates:         gates,
		audioPatterns: audioPatterns,
		videoPatterns: videoPatterns,
	}
}

// Decide returns the verdict for opening path. Paths matching neither
// device class are always allowed with no reason attached.
func (a *Authorizer) Decide(path string) Decision {
	if matchesAny(path, a.audioPatterns) {
		if !a.gates.MicrophoneEnabled() {
			return Decision{Allow: false, Reason: ReasonMicrophoneDisabled}
		}
		return Decision{Allow: true}
	}
	if matchesAny(path, a.videoPatterns) {
		if !a.gates.CameraEnabled() {
			return Decision{Allow: false, Reason: ReasonCameraDisabled}
		}
		return Decision{Allow: true}
	}
	return Decision{Allow: true}
}

func matchesAny(path string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}
