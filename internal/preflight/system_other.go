//go:build !unix

package preflight

// MinDiskSpaceBytes is the default minimum free disk space (100MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace is not supported on this platform.
func (c *Checker) CheckDiskSpace(string) CheckResult {
	return CheckResult{Name: CheckDisk, Status: StatusWarn, Message: "not checked on this platform"}
}

// CheckFileDescriptors is not supported on this platform.
func (c *Checker) CheckFileDescriptors() CheckResult {
	return CheckResult{Name: CheckDescriptors, Status: StatusWarn, Message: "not checked on this platform"}
}
