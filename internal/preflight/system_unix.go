//go:build unix

package preflight

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MinDiskSpaceBytes is the default minimum free disk space (100MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// MinFileDescriptors is the minimum recommended open file limit.
const MinFileDescriptors = 1024

// CheckDiskSpace checks the free space on the filesystem holding path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     CheckDisk,
		Required: true,
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	available := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)", formatBytes(available), formatBytes(c.minDisk))
	if available < c.minDisk {
		result.Status = StatusFail
		result.Details = "free some space before building"
		return result
	}

	result.Status = StatusPass
	return result
}

// CheckFileDescriptors checks the open file limit. The watcher holds one
// descriptor per watched directory.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name: CheckDescriptors,
	}

	var rLimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", rLimit.Cur, MinFileDescriptors)
	if rLimit.Cur < MinFileDescriptors {
		result.Status = StatusWarn
		result.Details = "Run 'ulimit -n 10240' to increase the limit"
		return result
	}

	result.Status = StatusPass
	return result
}
