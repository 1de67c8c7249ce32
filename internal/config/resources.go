package config

import (
	"runtime"
	"runtime/debug"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const gib = 1 << 30

// SingleWorkerBackend reports backends that fail under concurrent inference calls.
func SingleWorkerBackend(backend string) bool {
	return backend == "rocm" || backend == "directml"
}

// DefaultWorkers sizes the pool for backend: one per logical CPU on cpu,
// a fixed count on accelerators, one where concurrency is unsafe.
func DefaultWorkers(backend string) int {
	switch {
	case SingleWorkerBackend(backend):
		return 1
	case backend == "cpu":
		n, err := cpu.Counts(true)
		if err != nil || n < 1 {
			return runtime.NumCPU()
		}
		return n
	}
	return acceleratorWorkers
}

// MemoryLimitBytes returns max_memory_gb in bytes, clamped to physical memory. Zero means unlimited.
func (c *Config) MemoryLimitBytes() int64 {
	if c.Resources.MaxMemoryGB <= 0 {
		return 0
	}
	limit := int64(c.Resources.MaxMemoryGB) * gib
	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 && uint64(limit) > vm.Total {
		limit = int64(vm.Total)
	}
	return limit
}

// ApplyMemoryLimit sets the Go runtime soft memory limit and returns the limit in effect.
func ApplyMemoryLimit(limit int64) int64 {
	if limit <= 0 {
		return debug.SetMemoryLimit(-1)
	}
	debug.SetMemoryLimit(limit)
	return limit
}
