package sys

import (
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// DiskFree returns the available space in bytes on the filesystem holding
// path, or 0 when it cannot be determined. A path that does not exist yet is
// resolved to its nearest existing parent.
func DiskFree(path string) uint64 {
	for dir := path; ; dir = filepath.Dir(dir) {
		if usage, err := disk.Usage(dir); err == nil {
			return usage.Free
		}
		if parent := filepath.Dir(dir); parent == dir {
			return 0
		}
	}
}
