package badger

import (
	"github.com/flipkart-incubator/dkvbench/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
)

func badgerDesc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(stats.Namespace, engineName, name), help, labels, nil)
}

// metricsCollector registers a prometheus Collector for the Badger
// metrics published through expvar.
func (bdb *badgerDB) metricsCollector() {
	bdb.collector = prometheus.NewExpvarCollector(map[string]*prometheus.Desc{
		"badger_read_num_vlog":              badgerDesc("vlog_reads_total", "Number of cumulative value log reads by Badger"),
		"badger_write_num_vlog":             badgerDesc("vlog_writes_total", "Number of cumulative value log writes by Badger"),
		"badger_read_bytes_vlog":            badgerDesc("vlog_read_bytes", "Number of cumulative bytes read from the value log"),
		"badger_write_bytes_vlog":           badgerDesc("vlog_written_bytes", "Number of cumulative bytes written to the value log"),
		"badger_write_bytes_l0":             badgerDesc("l0_written_bytes", "Number of cumulative bytes written to level 0"),
		"badger_write_bytes_user":           badgerDesc("user_written_bytes", "Number of cumulative bytes written by users"),
		"badger_put_num_user":               badgerDesc("puts_total", "Total number of puts"),
		"badger_write_pending_num_memtable": badgerDesc("pending_writes_total", "Total number of pending writes", "dir"),
		"badger_compaction_current_num_lsm": badgerDesc("compactions_current", "Number of tables being actively compacted"),
		"badger_size_bytes_lsm":             badgerDesc("lsm_size_bytes", "Size of the LSM in bytes", "dir"),
		"badger_size_bytes_vlog":            badgerDesc("vlog_size_bytes", "Size of the value log in bytes", "dir"),
	})
	bdb.opts.promRegistry.MustRegister(bdb.collector)
}

func (bdb *badgerDB) unregisterMetrics() {
	bdb.opts.promRegistry.Unregister(bdb.collector)
	bdb.stat.Unregister(bdb.opts.promRegistry)
}
