package browser

import (
	"fmt"
	"runtime"
	"time"

	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceMonitor 主机资源检查
// 职责: 在创建标签页池之前估算主机能承受的标签页数量
type ResourceMonitor struct {
	config ResourceMonitorConfig

	// 以下两个函数便于测试替换
	virtualMemory func() (total, available uint64, err error)
	cpuPercent    func() (float64, error)
}

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	SafetyReserveMemory int64 // 安全保留内存(字节)
	PageMemoryUsage     int64 // 单个标签页平均内存消耗(字节)
	CPULoadThreshold    int   // CPU负载阈值(%), >=200 表示不检查
	MaxPagesLimit       int   // 绝对最大标签页数
}

// MemoryStatus 内存状态信息
type MemoryStatus struct {
	TotalMemory     uint64 // 系统总内存(字节)
	AvailableMemory int64  // 扣除安全保留后的可用内存(字节)
	MemoryPressure  string // 内存压力等级
}

// NewResourceMonitor 创建资源监控器实例
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	if config.PageMemoryUsage <= 0 {
		config.PageMemoryUsage = 150 * 1024 * 1024
	}
	if config.MaxPagesLimit <= 0 {
		config.MaxPagesLimit = 8
	}
	return &ResourceMonitor{
		config:        config,
		virtualMemory: systemMemory,
		cpuPercent:    systemCPUPercent,
	}
}

func systemMemory() (uint64, uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return vm.Total, vm.Available, nil
}

func systemCPUPercent() (float64, error) {
	// 100ms 采样, perCPU=false 返回所有核心的平均值
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, fmt.Errorf("CPU使用率数据为空")
	}
	return percentages[0], nil
}

func (rm *ResourceMonitor) availableMemory() (total uint64, available int64) {
	total, avail, err := rm.virtualMemory()
	if err != nil {
		utils.Warnf("获取系统内存失败,按4GB估算: %v", err)
		total, avail = 4*1024*1024*1024, 2*1024*1024*1024
	}
	return total, int64(avail) - rm.config.SafetyReserveMemory
}

// CalculateMaxPages 当前主机允许的最大标签页数, 至少为1
// 取 可用内存/单页内存、CPU核数、配置上限 三者最小值
func (rm *ResourceMonitor) CalculateMaxPages() int {
	_, available := rm.availableMemory()

	byMemory := 1
	if available > 0 {
		byMemory = int(available / rm.config.PageMemoryUsage)
	}

	result := byMemory
	if n := runtime.NumCPU(); n < result {
		result = n
	}
	if rm.config.MaxPagesLimit < result {
		result = rm.config.MaxPagesLimit
	}
	if result < 1 {
		result = 1
	}
	return result
}

// CheckResourceAvailability 检查当前资源是否允许再创建一个标签页
func (rm *ResourceMonitor) CheckResourceAvailability() (canCreate bool, reason string) {
	_, available := rm.availableMemory()
	if available < rm.config.PageMemoryUsage {
		return false, fmt.Sprintf("内存不足(当前%dMB)", available/(1024*1024))
	}

	if rm.config.CPULoadThreshold > 0 && rm.config.CPULoadThreshold < 200 {
		usage, err := rm.cpuPercent()
		if err != nil {
			utils.Warnf("获取CPU使用率失败: %v", err)
		} else if usage > float64(rm.config.CPULoadThreshold) {
			return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", usage)
		}
	}
	return true, ""
}

// GetMemoryStatus 获取当前内存状态
func (rm *ResourceMonitor) GetMemoryStatus() MemoryStatus {
	total, available := rm.availableMemory()

	var pressure string
	availableMB := available / (1024 * 1024)
	switch {
	case availableMB < 200:
		pressure = "emergency"
	case availableMB < 300:
		pressure = "critical"
	case availableMB < 500:
		pressure = "warning"
	default:
		pressure = "normal"
	}

	return MemoryStatus{
		TotalMemory:     total,
		AvailableMemory: available,
		MemoryPressure:  pressure,
	}
}
