package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	g "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	g.RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Load", func() {
	It("should return defaults for an empty path", func() {
		cfg, err := Load("")
		g.Expect(err).NotTo(g.HaveOccurred())
		g.Expect(cfg.DataDir).To(g.Equal("/var/lib/avmonitor"))
		g.Expect(cfg.Listen).To(g.Equal("127.0.0.1:8090"))
		g.Expect(cfg.ProcessScanInterval.Std()).To(g.Equal(5 * time.Second))
		g.Expect(cfg.NetworkScanInterval.Std()).To(g.Equal(10 * time.Second))
		g.Expect(cfg.FilesystemScanInterval.Std()).To(g.Equal(1 * time.Second))
	})

	It("should return defaults for a missing file", func() {
		cfg, err := Load("/nonexistent/avmonitor.yaml")
		g.Expect(err).NotTo(g.HaveOccurred())
		g.Expect(cfg.MountPoint).To(g.Equal("/"))
	})

	It("should merge file values over the defaults", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		content := `
data_dir: /tmp/avmon-test
listen: "127.0.0.1:9999"
process_scan_interval: 30s
watch_paths:
  - /home
audio_patterns:
  - /dev/snd/
log_level: debug
`
		g.Expect(os.WriteFile(path, []byte(content), 0644)).To(g.Succeed())

		cfg, err := Load(path)
		g.Expect(err).NotTo(g.HaveOccurred())
		g.Expect(cfg.DataDir).To(g.Equal("/tmp/avmon-test"))
		g.Expect(cfg.Listen).To(g.Equal("127.0.0.1:9999"))
		g.Expect(cfg.ProcessScanInterval.Std()).To(g.Equal(30 * time.Second))
		g.Expect(cfg.WatchPaths).To(g.Equal([]string{"/home"}))
		g.Expect(cfg.AudioPatterns).To(g.Equal([]string{"/dev/snd/"}))
		g.Expect(cfg.LogLevel).To(g.Equal("debug"))

		// Unset values keep their defaults.
		g.Expect(cfg.NetworkScanInterval.Std()).To(g.Equal(10 * time.Second))
		g.Expect(cfg.MountPoint).To(g.Equal("/"))
	})

	It("should reject unparseable YAML", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		g.Expect(os.WriteFile(path, []byte("{{not yaml"), 0644)).To(g.Succeed())
		_, err := Load(path)
		g.Expect(err).To(g.HaveOccurred())
	})
})
