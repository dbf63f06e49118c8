package process

import (
	"fmt"
	"os/user"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	gopsproc "github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// Analyzer collects metadata about running processes. Every lookup is
// best-effort: a process can exit mid-inspection, and short-lived
// processes routinely do. Fields that cannot be read are left zero.
type Analyzer struct {
	log       *logrus.Logger
	usernames *lru.Cache
}

func NewAnalyzer(log *logrus.Logger) *Analyzer {
	cache, _ := lru.New(1024)
	return &Analyzer{
		log:       log,
		usernames: cache,
	}
}

// Analyze builds an Info snapshot for pid. It never fails outright; the
// returned Info always carries at least the PID.
func (a *Analyzer) Analyze(pid uint32) *Info {
	info := &Info{PID: pid}

	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		a.log.WithField("pid", pid).Debug("Process gone before inspection")
		return info
	}

	if exe, err := p.Exe(); err == nil {
		info.ExePath = exe
	}
	if args, err := p.CmdlineSlice(); err == nil && len(args) > 0 {
		info.CmdLine = strings.Join(args, " ")
	}
	if ppid, err := p.Ppid(); err == nil {
		info.PPID = uint32(ppid)
	}
	if uids, err := p.Uids(); err == nil && len(uids) > 0 {
		info.UID = uint32(uids[0])
		info.Username = a.lookupUsername(uint32(uids[0]))
	}
	if gids, err := p.Gids(); err == nil && len(gids) > 0 {
		info.GID = uint32(gids[0])
	}
	if created, err := p.CreateTime(); err == nil {
		info.StartTime = time.UnixMilli(created)
	}
	if times, err := p.Times(); err == nil {
		info.CPUTime = time.Duration((times.User + times.System) * float64(time.Second))
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		info.MemoryUsage = mem.RSS
	}
	if files, err := p.OpenFiles(); err == nil {
		for _, f := range files {
			// Sockets and pipes show up as pseudo-paths; keep real files only.
			if strings.HasPrefix(f.Path, "/") {
				info.OpenFiles = append(info.OpenFiles, f.Path)
			}
		}
	}
	if env, err := p.Environ(); err == nil {
		info.Environment = EnvMap(env)
	}

	a.fillPlatform(info)
	Classify(info)
	return info
}

func (a *Analyzer) lookupUsername(uid uint32) string {
	if cached, ok := a.usernames.Get(uid); ok {
		return cached.(string)
	}
	name := fmt.Sprintf("%d", uid)
	if u, err := user.LookupId(name); err == nil {
		name = u.Username
	}
	a.usernames.Add(uid, name)
	return name
}
