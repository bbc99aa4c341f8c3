package metrics

import "time"

// ZoneStats is the minimal view a Collector needs of a zone's state. Nexus's
// admin facade implements this without metrics importing it back, so the
// dependency stays one-directional (engine/nexus -> metrics).
type ZoneStats struct {
	Zone       string
	TupleCount int
	CurrentRev uint64
}

// StatsSource is implemented by whatever owns zone state (the Nexus facade).
type StatsSource interface {
	ZoneStats() ([]ZoneStats, error)
}

// Collector periodically polls a StatsSource and updates the corresponding
// gauges, mirroring the teacher's periodic poll-and-set pattern.
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	stats, err := c.source.ZoneStats()
	if err != nil {
		return
	}
	for _, s := range stats {
		TuplesTotal.WithLabelValues(s.Zone).Set(float64(s.TupleCount))
		ZoneRevision.WithLabelValues(s.Zone).Set(float64(s.CurrentRev))
	}
}
