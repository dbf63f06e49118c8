// Package device holds the runtime gates controlling capture-device access
// and the authorizer that turns a file path into an allow/deny decision.
package device

import "sync/atomic"

// Gates are the two independent device switches. Both default to enabled;
// they are flipped only by control commands and are never persisted. Reads
// and writes are atomic: a decision racing a flip simply uses whichever
// value is visible, never a torn one.
type Gates struct {
	microphone atomic.Bool
	camera     atomic.Bool
}

// NewGates returns gates with both devices enabled.
func NewGates() *Gates {
	g := &Gates{}
	g.microphone.Store(true)
	g.camera.Store(true)
	return g
}

func (g *Gates) MicrophoneEnabled() bool { return g.microphone.Load() }
func (g *Gates) CameraEnabled() bool     { return g.camera.Load() }

func (g *Gates) SetMicrophone(enabled bool) { g.microphone.Store(enabled) }
func (g *Gates) SetCamera(enabled bool)     { g.camera.Store(enabled) }
