package breaker

import "runtime"

const bytesPerMB = 1024 * 1024

// MemoryUsageMB returns the live heap allocation of the process in megabytes.
func MemoryUsageMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Alloc) / bytesPerMB
}
