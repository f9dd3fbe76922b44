package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// WorkerStats gives the collector access to live queue state.
type WorkerStats interface {
	QueueLen() int
	Processed() int64
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats WorkerStats

	queueLen        *prometheus.Desc
	jobsProcessed   *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool and stats may each be nil (metrics report 0).
func NewCollector(pool *pgxpool.Pool, stats WorkerStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		queueLen: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_len"),
			"Scoring jobs currently buffered in the worker queue.",
			nil, nil,
		),
		jobsProcessed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "jobs_processed_total"),
			"Scoring jobs processed since start.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueLen
	ch <- c.jobsProcessed
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		ch <- prometheus.MustNewConstMetric(c.queueLen, prometheus.GaugeValue, float64(c.stats.QueueLen()))
		ch <- prometheus.MustNewConstMetric(c.jobsProcessed, prometheus.CounterValue, float64(c.stats.Processed()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.queueLen, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.jobsProcessed, prometheus.CounterValue, 0)
	}

	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
