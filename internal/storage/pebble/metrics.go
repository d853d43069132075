package pebble

import (
	"github.com/cockroachdb/pebble"
	"github.com/flipkart-incubator/dkvbench/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
)

type pebbleCollector struct {
	memTableSizeGauge  *prometheus.Desc
	memTableCountGauge *prometheus.Desc
	flushCount         *prometheus.Desc
	compactionCount    *prometheus.Desc
	walBytesWritten    *prometheus.Desc
	diskUsageGauge     *prometheus.Desc
	db                 *pebble.DB
}

func newPebbleCollector(pdb *pebbleDB) *pebbleCollector {
	return &pebbleCollector{
		memTableSizeGauge: prometheus.NewDesc(
			prometheus.BuildFQName(stats.Namespace, engineName, "memtable_size_bytes"),
			"Pebble bytes allocated by memtables, including the ones being flushed",
			nil, nil),
		memTableCountGauge: prometheus.NewDesc(
			prometheus.BuildFQName(stats.Namespace, engineName, "memtable_count"),
			"Pebble count of memtables",
			nil, nil),
		flushCount: prometheus.NewDesc(
			prometheus.BuildFQName(stats.Namespace, engineName, "memtable_flushes_total"),
			"Pebble number of memtable flushes",
			nil, nil),
		compactionCount: prometheus.NewDesc(
			prometheus.BuildFQName(stats.Namespace, engineName, "compactions_total"),
			"Pebble number of compactions",
			nil, nil),
		walBytesWritten: prometheus.NewDesc(
			prometheus.BuildFQName(stats.Namespace, engineName, "wal_written_bytes_total"),
			"Pebble bytes written to the WAL",
			nil, nil),
		diskUsageGauge: prometheus.NewDesc(
			prometheus.BuildFQName(stats.Namespace, engineName, "disk_usage_bytes"),
			"Pebble total disk space used by the store",
			nil, nil),
		db: pdb.db,
	}
}

func (collector *pebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- collector.memTableSizeGauge
	ch <- collector.memTableCountGauge
	ch <- collector.flushCount
	ch <- collector.compactionCount
	ch <- collector.walBytesWritten
	ch <- collector.diskUsageGauge
}

func (collector *pebbleCollector) Collect(ch chan<- prometheus.Metric) {
	m := collector.db.Metrics()
	ch <- prometheus.MustNewConstMetric(collector.memTableSizeGauge, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(collector.memTableCountGauge, prometheus.GaugeValue, float64(m.MemTable.Count))
	ch <- prometheus.MustNewConstMetric(collector.flushCount, prometheus.CounterValue, float64(m.Flush.Count))
	ch <- prometheus.MustNewConstMetric(collector.compactionCount, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(collector.walBytesWritten, prometheus.CounterValue, float64(m.WAL.BytesWritten))
	ch <- prometheus.MustNewConstMetric(collector.diskUsageGauge, prometheus.GaugeValue, float64(m.DiskSpaceUsage()))
}

// metricsCollector registers the Pebble collector.
func (pdb *pebbleDB) metricsCollector() {
	pdb.collector = newPebbleCollector(pdb)
	pdb.opts.promRegistry.MustRegister(pdb.collector)
}

func (pdb *pebbleDB) unregisterMetrics() {
	pdb.opts.promRegistry.Unregister(pdb.collector)
	pdb.stat.Unregister(pdb.opts.promRegistry)
}
