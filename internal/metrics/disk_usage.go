package metrics

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/disk"
)

const scrapeTimeout = 2 * time.Second

// DiskUsage is filesystem usage of the directory holding the local log.
type DiskUsage struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// ReadDiskUsage reads filesystem usage for path.
// Params: ctx for cancellation; path file or directory on the filesystem.
// Returns: usage snapshot or read error.
func ReadDiskUsage(ctx context.Context, path string) (DiskUsage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DiskUsage{}, fmt.Errorf("disk usage: empty path")
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("disk usage %s: %w", path, err)
	}
	used := usage.UsedPercent
	if math.IsNaN(used) || math.IsInf(used, 0) {
		used = 0
	}
	return DiskUsage{
		Path:        path,
		TotalBytes:  usage.Total,
		UsedBytes:   usage.Used,
		FreeBytes:   usage.Free,
		UsedPercent: used,
	}, nil
}

// DiskUsageCollector exports data directory usage on every scrape.
// Params: path directory holding the local event log.
// Returns: prometheus.Collector.
type DiskUsageCollector struct {
	path  string
	bytes *prometheus.Desc
	ratio *prometheus.Desc
}

// NewDiskUsageCollector creates a collector for path.
// Params: path data directory.
// Returns: collector instance.
func NewDiskUsageCollector(path string) *DiskUsageCollector {
	labels := prometheus.Labels{"path": path}
	return &DiskUsageCollector{
		path: path,
		bytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "data_dir", "bytes"),
			"Filesystem bytes of the data directory by kind (total, used, free).",
			[]string{"kind"}, labels,
		),
		ratio: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "data_dir", "used_ratio"),
			"Used fraction of the data directory filesystem.",
			nil, labels,
		),
	}
}

// Describe sends metric descriptors.
func (c *DiskUsageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytes
	ch <- c.ratio
}

// Collect reads usage; read failures emit nothing.
func (c *DiskUsageCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	usage, err := ReadDiskUsage(ctx, c.path)
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(usage.TotalBytes), "total")
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(usage.UsedBytes), "used")
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(usage.FreeBytes), "free")
	ch <- prometheus.MustNewConstMetric(c.ratio, prometheus.GaugeValue, usage.UsedPercent/100)
}
