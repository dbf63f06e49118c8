package device

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDevice(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Device Suite")
}

var _ = Describe("Gates", func() {
	It("should start with both devices enabled", func() {
		gates := NewGates()
		Expect(gates.MicrophoneEnabled()).To(BeTrue())
		Expect(gates.CameraEnabled()).To(BeTrue())
	})

	It("should toggle devices independently", func() {
		gates := NewGates()
		gates.SetMicrophone(false)
		Expect(gates.MicrophoneEnabled()).To(BeFalse())
		Expect(gates.CameraEnabled()).To(BeTrue())

		gates.SetCamera(false)
		gates.SetMicrophone(true)
		Expect(gates.MicrophoneEnabled()).To(BeTrue())
		Expect(gates.CameraEnabled()).To(BeFalse())
	})
})

var _ = Describe("Authorizer", func() {
	var (
		gates *Gates
		auth  *Authorizer
	)

	BeforeEach(func() {
		gates = NewGates()
		auth = NewAuthorizer(gates, nil, nil)
	})

	It("should allow audio device access while the microphone is enabled", func() {
		decision := auth.Decide("/dev/audio0")
		Expect(decision.Allow).To(BeTrue())
		Expect(decision.Reason).To(BeEmpty())
	})

	It("should deny audio device access when the microphone is disabled", func() {
		gates.SetMicrophone(false)
		decision := auth.Decide("/dev/audio0")
		Expect(decision.Allow).To(BeFalse())
		Expect(decision.Reason).To(Equal(ReasonMicrophoneDisabled))
	})

	It("should deny video device access when the camera is disabled", func() {
		gates.SetCamera(false)
		decision := auth.Decide("/dev/video0")
		Expect(decision.Allow).To(BeFalse())
		Expect(decision.Reason).To(Equal(ReasonCameraDisabled))
	})

	It("should match framework paths, not only device nodes", func() {
		gates.SetMicrophone(false)
		decision := auth.Decide("/System/Library/Frameworks/coreaudio/helper")
		Expect(decision.Allow).To(BeFalse())
		Expect(decision.Reason).To(Equal(ReasonMicrophoneDisabled))
	})

	It("should allow unrelated paths even with both devices disabled", func() {
		gates.SetMicrophone(false)
		gates.SetCamera(false)
		decision := auth.Decide("/etc/hosts")
		Expect(decision.Allow).To(BeTrue())
	})

	It("should re-allow access after a device is re-enabled", func() {
		gates.SetCamera(false)
		Expect(auth.Decide("/dev/video0").Allow).To(BeFalse())
		gates.SetCamera(true)
		Expect(auth.Decide("/dev/video0").Allow).To(BeTrue())
	})

	It("should honor custom patterns when provided", func() {
		custom := NewAuthorizer(gates, []string{"/dev/snd/"}, nil)
		gates.SetMicrophone(false)
		Expect(custom.Decide("/dev/snd/pcmC0D0c").Allow).To(BeFalse())
		Expect(custom.Decide("/dev/audio0").Allow).To(BeTrue())
	})
})
