//go:build linux

package memdump

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ListRegions parses /proc/<pid>/maps into regions in ascending address
// order, which is the order the kernel emits them.
func ListRegions(pid uint32) ([]Region, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, classifyProcError(err)
	}
	defer f.Close()

	var regions []Region
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		region, ok := parseMapsLine(scanner.Text())
		if !ok {
			continue
		}
		regions = append(regions, region)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memory map: %w", err)
	}
	return regions, nil
}

// Dump streams the readable regions of pid's address space to w. Regions
// that vanish or become unreadable mid-dump are skipped; a partial dump of
// a live process is expected.
func Dump(pid uint32, w io.Writer) (int64, error) {
	regions, err := ListRegions(pid)
	if err != nil {
		return 0, err
	}

	mem, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if err != nil {
		return 0, classifyProcError(err)
	}
	defer mem.Close()

	var total int64
	buf := make([]byte, 64*1024)
	for _, region := range regions {
		if !region.Readable() {
			continue
		}
		n, err := copyRegion(w, mem, region, buf)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func copyRegion(w io.Writer, mem *os.File, region Region, buf []byte) (int64, error) {
	var written int64
	offset := int64(region.Start)
	end := int64(region.End)
	for offset < end {
		chunk := int64(len(buf))
		if end-offset < chunk {
			chunk = end - offset
		}
		n, err := mem.ReadAt(buf[:chunk], offset)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("failed to write dump output: %w", werr)
			}
			written += int64(n)
		}
		if err != nil {
			// Guard pages and vanished mappings read as EIO; move on.
			return written, nil
		}
		offset += int64(n)
	}
	return written, nil
}

func parseMapsLine(line string) (Region, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Region{}, false
	}
	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return Region{}, false
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return Region{}, false
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return Region{}, false
	}
	region := Region{Start: start, End: end, Perms: fields[1]}
	if len(fields) >= 6 {
		region.Path = fields[5]
	}
	return region, true
}

func classifyProcError(err error) error {
	if os.IsNotExist(err) {
		return ErrTargetGone
	}
	if os.IsPermission(err) {
		return ErrPrivilegeDenied
	}
	return err
}
