package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the descriptor limit floor. The metadata
// store, keyword index, vector snapshot, and filesystem watches all
// hold descriptors at once.
const MinFileDescriptors = 1024

// CheckFileDescriptors checks the process's open file limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
	}

	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot read descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", limit.Cur, MinFileDescriptors)
	if limit.Cur < MinFileDescriptors {
		result.Status = StatusFail
		result.Details = "raise the limit with 'ulimit -n 4096'"
		return result
	}
	result.Status = StatusPass
	return result
}
