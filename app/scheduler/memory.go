package scheduler

import "runtime"

// MemorySampler reports current memory usage in bytes.
type MemorySampler func() uint64

func HeapInUse() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapInuse
}
