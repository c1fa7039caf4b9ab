// Package hardware probes the local machine to back the shard-count
// recommendation. Each shard runs its own browser session, which is both
// CPU and memory hungry; the suggestion errs on the conservative side.
package hardware

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Browser sessions are heavy; keep at least this much headroom per shard.
const (
	ramPerShardBytes = 2 * 1024 * 1024 * 1024 // 2 GiB per browser session
	accountSafeCap   = 4                      // concurrent sessions one account tolerates
)

// Info describes the probed machine
type Info struct {
	CPUModel   string `json:"cpu_model"`
	CPUThreads int    `json:"cpu_threads"`
	RAMBytes   uint64 `json:"ram_bytes"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
}

// Detect probes CPU and RAM
func Detect() (*Info, error) {
	info := &Info{
		CPUThreads: runtime.NumCPU(),
		CPUModel:   "Unknown",
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
	}

	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}

	vmem, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory info: %w", err)
	}
	info.RAMBytes = vmem.Total

	return info, nil
}

// RecommendShards suggests a shard count for this machine: half the CPU
// threads, bounded by available RAM and by the per-account session cap.
func RecommendShards(info *Info) int {
	byCPU := info.CPUThreads / 2
	byRAM := int(info.RAMBytes / ramPerShardBytes)

	n := byCPU
	if byRAM < n {
		n = byRAM
	}
	if n > accountSafeCap {
		n = accountSafeCap
	}
	if n < 1 {
		n = 1
	}
	return n
}

// FormatRAM renders bytes as GiB for operator output
func FormatRAM(bytes uint64) string {
	return fmt.Sprintf("%.1f GB", float64(bytes)/(1024*1024*1024))
}
