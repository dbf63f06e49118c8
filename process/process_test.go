package process

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
)

func TestProcess(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Process Suite")
}

func buildBlob(argc uint32, tokens ...string) []byte {
	blob := make([]byte, 4)
	binary.LittleEndian.PutUint32(blob, argc)
	for i, tok := range tokens {
		blob = append(blob, tok...)
		blob = append(blob, 0)
		if i == 0 {
			// Padding between the executable path and the argument vector.
			blob = append(blob, 0, 0, 0)
		}
	}
	return blob
}

var _ = Describe("ParseArgsBlob", func() {
	It("should decode executable, arguments, and environment", func() {
		blob := buildBlob(2,
			"/usr/bin/curl",
			"/usr/bin/curl", "-v",
			"PATH=/usr/bin", "HOME=/root")

		parsed, err := ParseArgsBlob(blob)
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed.Exe).To(Equal("/usr/bin/curl"))
		Expect(parsed.Args).To(Equal([]string{"-v"}))
		Expect(parsed.Env).To(HaveKeyWithValue("PATH", "/usr/bin"))
		Expect(parsed.Env).To(HaveKeyWithValue("HOME", "/root"))
		Expect(parsed.CommandLine()).To(Equal("/usr/bin/curl -v"))
	})

	It("should keep the first occurrence of a duplicated variable", func() {
		blob := buildBlob(1, "/bin/sh", "/bin/sh", "X=1", "X=2")
		parsed, err := ParseArgsBlob(blob)
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed.Env).To(HaveKeyWithValue("X", "1"))
	})

	It("should reject a buffer shorter than the argument count", func() {
		_, err := ParseArgsBlob([]byte{0x01, 0x00})
		Expect(err).To(MatchError(ErrMalformedBlob))
	})

	It("should reject an implausible argument count", func() {
		blob := buildBlob(0xFFFF, "/bin/sh", "/bin/sh")
		_, err := ParseArgsBlob(blob)
		Expect(err).To(MatchError(ErrMalformedBlob))
	})

	It("should reject an unterminated token instead of returning garbage", func() {
		blob := buildBlob(1, "/bin/sh", "/bin/sh")
		blob = append(blob, "TRUNCATED"...)
		_, err := ParseArgsBlob(blob)
		Expect(err).To(MatchError(ErrMalformedBlob))
	})

	It("should reject a blob truncated inside the argument vector", func() {
		blob := buildBlob(3, "/bin/sh", "/bin/sh", "-c")
		_, err := ParseArgsBlob(blob)
		Expect(err).To(MatchError(ErrMalformedBlob))
	})
})

var _ = Describe("Registry", func() {
	var reg *Registry

	BeforeEach(func() {
		reg = NewRegistry()
	})

	It("should copy entries in and out", func() {
		info := &Info{PID: 100, ExePath: "/bin/sh", OpenFiles: []string{"/tmp/a"}}
		reg.Add(info)
		info.ExePath = "mutated"
		info.OpenFiles[0] = "mutated"

		got, ok := reg.Get(100)
		Expect(ok).To(BeTrue())
		Expect(got.ExePath).To(Equal("/bin/sh"))
		Expect(got.OpenFiles).To(Equal([]string{"/tmp/a"}))

		got.ExePath = "mutated again"
		again, _ := reg.Get(100)
		Expect(again.ExePath).To(Equal("/bin/sh"))
	})

	It("should keep one entry per PID", func() {
		reg.Add(&Info{PID: 100, ExePath: "/bin/sh"})
		reg.Add(&Info{PID: 100, ExePath: "/bin/bash"})
		Expect(reg.Len()).To(Equal(1))

		got, _ := reg.Get(100)
		Expect(got.ExePath).To(Equal("/bin/bash"))
	})

	It("should not let AddIfAbsent overwrite an existing entry", func() {
		reg.Add(&Info{PID: 100, ExePath: "/bin/sh"})
		added := reg.AddIfAbsent(&Info{PID: 100, ExePath: "/bin/bash"})
		Expect(added).To(BeFalse())

		got, _ := reg.Get(100)
		Expect(got.ExePath).To(Equal("/bin/sh"))
	})

	It("should remove entries", func() {
		reg.Add(&Info{PID: 100})
		reg.Remove(100)
		Expect(reg.Has(100)).To(BeFalse())
		_, ok := reg.Get(100)
		Expect(ok).To(BeFalse())
	})

	It("should stay consistent under concurrent writers", func() {
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					pid := uint32(i)
					reg.AddIfAbsent(&Info{
						PID:     pid,
						ExePath: fmt.Sprintf("/bin/tool%d", w),
					})
				}
			}(w)
		}
		wg.Wait()

		Expect(reg.Len()).To(Equal(200))
		for i := 0; i < 200; i++ {
			got, ok := reg.Get(uint32(i))
			Expect(ok).To(BeTrue())
			Expect(got.ExePath).NotTo(BeEmpty())
		}
	})
})

var _ = Describe("Classify", func() {
	It("should mark known system process names as system processes", func() {
		info := &Info{ExePath: "/usr/sbin/coreaudiod"}
		Classify(info)
		Expect(info.IsSystemProcess).To(BeTrue())
		Expect(info.HasFileSystemAccess).To(BeTrue())
	})

	It("should mark anything under /System/ as a system process", func() {
		info := &Info{ExePath: "/System/Library/CoreServices/loginwindow.app/Contents/MacOS/loginwindow"}
		Classify(info)
		Expect(info.IsSystemProcess).To(BeTrue())
	})

	It("should not mark ordinary tools in system directories", func() {
		info := &Info{ExePath: "/usr/bin/curl"}
		Classify(info)
		Expect(info.IsSystemProcess).To(BeFalse())
	})

	It("should derive capability flags from loaded modules", func() {
		info := &Info{
			ExePath: "/opt/app/bin/app",
			LoadedModules: []string{
				"/usr/lib/libasound.so.2",
				"/usr/lib/libcurl.so.4",
			},
		}
		Classify(info)
		Expect(info.HasAudioAccess).To(BeTrue())
		Expect(info.HasNetworkAccess).To(BeTrue())
		Expect(info.HasVideoAccess).To(BeFalse())
	})
})

var _ = Describe("Analyzer", func() {
	newQuietLogger := func() *logrus.Logger {
		log := logrus.New()
		log.SetOutput(io.Discard)
		return log
	}

	It("should return a bare Info for a PID that does not exist", func() {
		a := NewAnalyzer(newQuietLogger())
		info := a.Analyze(0xFFFFFF0)
		Expect(info).NotTo(BeNil())
		Expect(info.PID).To(Equal(uint32(0xFFFFFF0)))
		Expect(info.ExePath).To(BeEmpty())
	})
})
