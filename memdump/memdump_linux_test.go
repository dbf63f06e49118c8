//go:build linux

package memdump

import (
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMemdump(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Memdump Suite")
}

var _ = Describe("Region", func() {
	It("should report size and readability", func() {
		r := Region{Start: 0x1000, End: 0x3000, Perms: "r-xp"}
		Expect(r.Size()).To(Equal(uint64(0x2000)))
		Expect(r.Readable()).To(BeTrue())

		guard := Region{Start: 0x1000, End: 0x2000, Perms: "---p"}
		Expect(guard.Readable()).To(BeFalse())
	})
})

var _ = Describe("ListRegions", func() {
	It("should list its own regions in ascending order", func() {
		regions, err := ListRegions(uint32(os.Getpid()))
		Expect(err).NotTo(HaveOccurred())
		Expect(regions).NotTo(BeEmpty())

		for i := 1; i < len(regions); i++ {
			Expect(regions[i].Start).To(BeNumerically(">=", regions[i-1].End))
		}

		var readable bool
		for _, r := range regions {
			Expect(r.End).To(BeNumerically(">", r.Start))
			if r.Readable() {
				readable = true
			}
		}
		Expect(readable).To(BeTrue())
	})

	It("should report a vanished target", func() {
		_, err := ListRegions(0xFFFFFF0)
		Expect(err).To(MatchError(ErrTargetGone))
	})
})

var _ = Describe("parseMapsLine", func() {
	It("should parse a mapped file line", func() {
		region, ok := parseMapsLine("7f2c00000000-7f2c00021000 r-xp 00000000 103:02 393232  /usr/lib/libc.so.6")
		Expect(ok).To(BeTrue())
		Expect(region.Start).To(Equal(uint64(0x7f2c00000000)))
		Expect(region.End).To(Equal(uint64(0x7f2c00021000)))
		Expect(region.Perms).To(Equal("r-xp"))
		Expect(region.Path).To(Equal("/usr/lib/libc.so.6"))
	})

	It("should parse an anonymous line without a path", func() {
		region, ok := parseMapsLine("7f2c00000000-7f2c00021000 rw-p 00000000 00:00 0")
		Expect(ok).To(BeTrue())
		Expect(region.Path).To(BeEmpty())
	})

	It("should reject malformed lines", func() {
		_, ok := parseMapsLine("garbage")
		Expect(ok).To(BeFalse())
	})
})
