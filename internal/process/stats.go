package process

import (
	psprocess "github.com/shirou/gopsutil/v4/process"

	"rapidmedia/pkg/models"
)

// Stats samples CPU and resident memory usage of the child.
func (p *Process) Stats() (models.ProcessStats, error) {
	stats := models.ProcessStats{PID: p.Pid()}

	proc, err := psprocess.NewProcess(int32(p.Pid()))
	if err != nil {
		return stats, err
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return stats, err
	}
	stats.RSSBytes = mem.RSS
	return stats, nil
}
