package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostCollector exports CPU, memory and swap of the machine running the node.
// Params: none.
// Returns: prometheus.Collector; failed reads are skipped per scrape.
type HostCollector struct {
	cpuRatio *prometheus.Desc
	memory   *prometheus.Desc
	swap     *prometheus.Desc
}

// NewHostCollector creates a host resource collector.
// Params: none.
// Returns: collector instance.
func NewHostCollector() *HostCollector {
	return &HostCollector{
		cpuRatio: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "host", "cpu_used_ratio"),
			"Host CPU utilization since the previous scrape.",
			nil, nil,
		),
		memory: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "host", "memory_bytes"),
			"Host memory bytes by kind (total, used, available).",
			[]string{"kind"}, nil,
		),
		swap: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "host", "swap_bytes"),
			"Host swap bytes by kind (total, used).",
			[]string{"kind"}, nil,
		),
	}
}

// Describe sends metric descriptors.
func (c *HostCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpuRatio
	ch <- c.memory
	ch <- c.swap
}

// Collect reads host counters.
func (c *HostCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	// interval 0 compares against the previous call, so the first scrape may report 0
	if total, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(total) > 0 {
		ch <- prometheus.MustNewConstMetric(c.cpuRatio, prometheus.GaugeValue, total[0]/100)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.memory, prometheus.GaugeValue, float64(vm.Total), "total")
		ch <- prometheus.MustNewConstMetric(c.memory, prometheus.GaugeValue, float64(vm.Used), "used")
		ch <- prometheus.MustNewConstMetric(c.memory, prometheus.GaugeValue, float64(vm.Available), "available")
	}

	if sm, err := mem.SwapMemoryWithContext(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.swap, prometheus.GaugeValue, float64(sm.Total), "total")
		ch <- prometheus.MustNewConstMetric(c.swap, prometheus.GaugeValue, float64(sm.Used), "used")
	}
}
