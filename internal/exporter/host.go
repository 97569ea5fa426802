package exporter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostCollector reports memory and CPU usage of the machine running the
// workload, so phase timings can be read against host load
type HostCollector struct {
	memUsed  *prometheus.Desc
	memTotal *prometheus.Desc
	cpuPct   *prometheus.Desc

	virtualMemory func() (*mem.VirtualMemoryStat, error)
	cpuPercent    func() ([]float64, error)
}

// NewHostCollector creates a collector backed by gopsutil
func NewHostCollector() *HostCollector {
	return &HostCollector{
		memUsed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "host", "memory_used_bytes"),
			"Host memory in use", nil, nil,
		),
		memTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "host", "memory_total_bytes"),
			"Total host memory", nil, nil,
		),
		cpuPct: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "host", "cpu_percent"),
			"Host CPU utilization since the previous scrape", nil, nil,
		),
		virtualMemory: mem.VirtualMemory,
		cpuPercent: func() ([]float64, error) {
			// zero interval compares against the previous call
			return cpu.Percent(0, false)
		},
	}
}

// Describe implements prometheus.Collector
func (c *HostCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.memUsed
	ch <- c.memTotal
	ch <- c.cpuPct
}

// Collect implements prometheus.Collector. Readings that fail are skipped.
func (c *HostCollector) Collect(ch chan<- prometheus.Metric) {
	if vm, err := c.virtualMemory(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.memUsed, prometheus.GaugeValue, float64(vm.Used))
		ch <- prometheus.MustNewConstMetric(c.memTotal, prometheus.GaugeValue, float64(vm.Total))
	}
	if pct, err := c.cpuPercent(); err == nil && len(pct) > 0 {
		ch <- prometheus.MustNewConstMetric(c.cpuPct, prometheus.GaugeValue, pct[0])
	}
}
