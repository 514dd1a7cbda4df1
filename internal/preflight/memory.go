package preflight

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MinMemoryBytes is the available memory floor (1GB). The vector
// graph lives fully in memory and search fans out across it.
const MinMemoryBytes = 1 << 30

// fallbackMemoryEstimate stands in when the platform does not expose
// available memory. Workstation-class machines clear the floor.
const fallbackMemoryEstimate = 4 << 30

// CheckMemory checks available system memory.
func (c *Checker) CheckMemory() CheckResult {
	result := CheckResult{
		Name:     "memory",
		Required: true,
	}

	available := availableMemory()
	result.Message = fmt.Sprintf("%s available (minimum: %s)", formatBytes(available), formatBytes(MinMemoryBytes))
	if available < MinMemoryBytes {
		result.Status = StatusFail
		result.Details = "close other applications or add swap before indexing large corpora"
		return result
	}
	result.Status = StatusPass
	return result
}

// availableMemory reads MemAvailable from /proc/meminfo. Platforms
// without that file get the fallback estimate.
func availableMemory() uint64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return fallbackMemoryEstimate
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			break
		}
		return kb * 1024
	}
	return fallbackMemoryEstimate
}
