// Package ps reads host resources for the system page and for capture
// admission.
package ps

import (
	"io/fs"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	mb         = 1 << 20
	cpuSamples = 50 * time.Millisecond
)

type Memory struct {
	Total     uint64 `json:"total"`
	Used      uint64 `json:"used"`
	Available uint64 `json:"available"`
}

type Disk struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
}

// CPUPercent blocks for a short sampling window.
func CPUPercent() (float64, error) {
	list, err := cpu.Percent(cpuSamples, false)
	if err != nil {
		return 0, err
	}
	if len(list) == 0 {
		return 0, nil
	}
	return list[0], nil
}

func MemoryStatus() (Memory, error) {
	memory, err := mem.VirtualMemory()
	if err != nil {
		return Memory{}, err
	}

	return Memory{Total: memory.Total, Used: memory.Used, Available: memory.Available}, nil
}

// Probe reports free memory for capture admission. Reserve is kept back for
// the rest of the process.
type Probe struct {
	ReserveMB uint64
}

func (p Probe) AvailableMB() (uint64, error) {
	m, err := MemoryStatus()
	if err != nil {
		return 0, err
	}
	free := m.Available / mb
	if free <= p.ReserveMB {
		return 0, nil
	}

	return free - p.ReserveMB, nil
}

// DiskUsage reports the file system holding path.
func DiskUsage(path string) (Disk, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return Disk{}, err
	}
	return Disk{Total: usage.Total, Used: usage.Used, UsedPercent: usage.UsedPercent}, nil
}

// DirDiskUsage sums the regular files below path.
func DirDiskUsage(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})

	return size, err
}
