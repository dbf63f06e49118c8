package database

import (
	"io"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
)

func TestDatabase(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Database Suite")
}

func newTestDB() *DB {
	log := logrus.New()
	log.SetOutput(io.Discard)
	db, err := NewDB(GinkgoT().TempDir(), log)
	Expect(err).NotTo(HaveOccurred())
	return db
}

var _ = Describe("DB", func() {
	var db *DB

	BeforeEach(func() {
		db = newTestDB()
		DeferCleanup(func() {
			Expect(db.Close()).To(Succeed())
		})
	})

	It("should record process lifecycle rows append-only", func() {
		exec := &ProcessEventRecord{
			Timestamp: time.Now(),
			PID:       500,
			PPID:      1,
			UID:       1000,
			GID:       1000,
			ExePath:   "/usr/bin/curl",
			CmdLine:   "/usr/bin/curl -v example.com",
			Username:  "dev",
			EventType: "EXEC",
			IsSystem:  true,
		}
		Expect(db.InsertProcessEvent(exec)).To(Succeed())

		exit := *exec
		exit.EventType = "EXIT"
		Expect(db.InsertProcessEvent(&exit)).To(Succeed())

		rows, err := db.ProcessEventsByPID(500)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(2))
		Expect(rows[0].EventType).To(Equal("EXEC"))
		Expect(rows[1].EventType).To(Equal("EXIT"))
		Expect(rows[0].ExePath).To(Equal("/usr/bin/curl"))
		Expect(rows[0].IsSystem).To(BeTrue())
	})

	It("should write detail rows alongside a detailed process event", func() {
		rec := &ProcessEventRecord{
			Timestamp: time.Now(),
			PID:       501,
			ExePath:   "/usr/bin/vim",
			EventType: "EXEC",
		}
		err := db.InsertProcessEventDetailed(rec,
			[]string{"/usr/lib/libc.so.6", "/usr/lib/libm.so.6"},
			map[string]string{"TERM": "xterm"},
			[]string{"/home/dev/notes.txt"})
		Expect(err).NotTo(HaveOccurred())

		accesses, err := db.FileAccessHistory()
		Expect(err).NotTo(HaveOccurred())
		Expect(accesses).To(HaveLen(1))
		Expect(accesses[0].Operation).To(Equal("OPEN_FILE"))
		Expect(accesses[0].Path).To(Equal("/home/dev/notes.txt"))
		Expect(accesses[0].Allowed).To(BeTrue())
	})

	It("should round-trip file access rows with deny reasons", func() {
		Expect(db.InsertFileAccess(&FileAccessRecord{
			Timestamp:  time.Now(),
			PID:        500,
			Path:       "/dev/video0",
			Operation:  "OPEN",
			Allowed:    false,
			DenyReason: "Camera disabled by system extension",
		})).To(Succeed())

		rows, err := db.FileAccessHistory()
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].Allowed).To(BeFalse())
		Expect(rows[0].DenyReason).To(Equal("Camera disabled by system extension"))
	})

	It("should round-trip network connection rows newest first", func() {
		for i := 0; i < 3; i++ {
			Expect(db.InsertNetworkConnection(&NetworkConnectionRecord{
				Timestamp:  time.Now(),
				PID:        uint32(600 + i),
				LocalAddr:  "127.0.0.1",
				LocalPort:  8080,
				RemoteAddr: "10.0.0.1",
				RemotePort: 443,
				Protocol:   "tcp",
				State:      "ESTABLISHED",
			})).To(Succeed())
		}

		rows, err := db.RecentNetworkConnections()
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(3))
		Expect(rows[0].PID).To(Equal(uint32(602)))
	})

	It("should round-trip syscall rows", func() {
		Expect(db.InsertSyscall(&SyscallRecord{
			Timestamp:   time.Now(),
			PID:         500,
			Syscall:     "kill",
			Args:        "signal=9 target_pid=1234",
			ReturnValue: "0",
		})).To(Succeed())
	})

	It("should round-trip memory region rows with high addresses", func() {
		Expect(db.InsertMemoryRegion(&MemoryRegionRecord{
			Timestamp:   time.Now(),
			PID:         500,
			RegionStart: 0x7FFF00000000,
			RegionEnd:   0x7FFF00010000,
			Permissions: "r-xp",
			MappedPath:  "/usr/lib/libc.so.6",
		})).To(Succeed())
	})

	It("should round-trip rule match rows", func() {
		Expect(db.InsertRuleMatch(&RuleMatchRecord{
			Timestamp: time.Now(),
			PID:       500,
			RuleID:    "d1a2",
			RuleName:  "Suspicious Shell Spawn",
			Details:   "Matched conditions: selection",
		})).To(Succeed())
	})

	It("should return the newest lifecycle rows first", func() {
		for i := 0; i < 5; i++ {
			Expect(db.InsertProcessEvent(&ProcessEventRecord{
				Timestamp: time.Now(),
				PID:       uint32(700 + i),
				EventType: "DISCOVERED",
			})).To(Succeed())
		}
		rows, err := db.RecentProcessEvents(3)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(3))
		Expect(rows[0].PID).To(Equal(uint32(704)))
	})
})
