package collector

import (
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// systemSampler reports CPU, memory and disk usage as percentages.
// Unsupported or failing measurements report 0.
type systemSampler struct {
	mu        sync.Mutex
	diskPath  string
	lastIdle  float64
	lastTotal float64
}

func newSystemSampler(diskPath string) *systemSampler {
	return &systemSampler{diskPath: diskPath}
}

// CPU returns the share of non-idle CPU time since the previous call,
// or since boot on the first call.
func (s *systemSampler) CPU() float64 {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return 0
	}
	idle, total := cpuTimes(times[0])

	s.mu.Lock()
	defer s.mu.Unlock()

	deltaIdle := idle - s.lastIdle
	deltaTotal := total - s.lastTotal
	s.lastIdle, s.lastTotal = idle, total

	return cpuUsage(deltaIdle, deltaTotal)
}

func (s *systemSampler) Memory() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		return 0
	}
	return float64(vm.Total-vm.Available) / float64(vm.Total) * 100
}

func (s *systemSampler) Disk() float64 {
	usage, err := disk.Usage(s.diskPath)
	if err != nil {
		return 0
	}
	return usage.UsedPercent
}

// cpuTimes returns the idle time (idle + iowait) and the total time, in seconds.
// Guest times are already part of user and nice.
func cpuTimes(t cpu.TimesStat) (idle, total float64) {
	idle = t.Idle + t.Iowait
	total = t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
	return idle, total
}

func cpuUsage(idle, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return min(100, max(0, 100*(1-idle/total)))
}
