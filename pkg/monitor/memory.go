package monitor

import (
	"runtime"
)

// MemoryUsage is a Go runtime heap snapshot.
type MemoryUsage struct {
	HeapAlloc  int64   `json:"heap_alloc"`
	HeapInuse  int64   `json:"heap_inuse"`
	HeapSys    int64   `json:"heap_sys"`
	HeapMB     float64 `json:"heap_mb"`
	NumGC      uint32  `json:"num_gc"`
	Goroutines int     `json:"goroutines"`
}

// ReadMemory captures the current heap statistics.
func ReadMemory() MemoryUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemoryUsage{
		HeapAlloc:  int64(ms.HeapAlloc),
		HeapInuse:  int64(ms.HeapInuse),
		HeapSys:    int64(ms.HeapSys),
		HeapMB:     float64(ms.HeapAlloc) / (1 << 20),
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}
