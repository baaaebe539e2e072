package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/disk"
)

// DiskCollector reports capacity of the filesystem holding the data root.
// Usage is sampled on every scrape.
type DiskCollector struct {
	path  string
	total *prometheus.Desc
	free  *prometheus.Desc
	used  *prometheus.Desc
	inode *prometheus.Desc
}

// NewDiskCollector returns a collector for the filesystem containing path.
func NewDiskCollector(path string) *DiskCollector {
	labels := prometheus.Labels{"path": path}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "disk", name), help, nil, labels)
	}
	return &DiskCollector{
		path:  path,
		total: desc("total_bytes", "Size of the filesystem holding the data root."),
		free:  desc("free_bytes", "Bytes available to the gateway on the data root filesystem."),
		used:  desc("used_ratio", "Fraction of the data root filesystem in use."),
		inode: desc("inodes_free", "Free inodes on the data root filesystem."),
	}
}

func (c *DiskCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.free
	ch <- c.used
	ch <- c.inode
}

func (c *DiskCollector) Collect(ch chan<- prometheus.Metric) {
	u, err := disk.Usage(c.path)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.total, err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(u.Total))
	ch <- prometheus.MustNewConstMetric(c.free, prometheus.GaugeValue, float64(u.Free))
	ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, u.UsedPercent/100)
	ch <- prometheus.MustNewConstMetric(c.inode, prometheus.GaugeValue, float64(u.InodesFree))
}
