package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ContactCounter returns the number of allowlisted contacts.
type ContactCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Collector is a prometheus.Collector that gathers callgate state at scrape time.
type Collector struct {
	contacts  ContactCounter
	startTime time.Time

	contactsDesc *prometheus.Desc
	uptimeDesc   *prometheus.Desc
}

// NewCollector creates a new state collector. contacts may be nil if unavailable.
func NewCollector(contacts ContactCounter, startTime time.Time) *Collector {
	return &Collector{
		contacts:  contacts,
		startTime: startTime,

		contactsDesc: prometheus.NewDesc(
			"callgate_contacts",
			"Number of allowlisted contacts in the directory",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callgate_uptime_seconds",
			"Seconds since the callgate process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.contactsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries the directory at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.contacts != nil {
		count, err := c.contacts.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count contacts", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.contactsDesc, prometheus.GaugeValue,
				float64(count),
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
