// Package metrics exposes relay statistics to Prometheus and serves them with
// a health endpoint over HTTP.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bardlex/gomp-relay/internal/auth"
	"github.com/bardlex/gomp-relay/internal/events"
	"github.com/bardlex/gomp-relay/internal/relay"
	"github.com/bardlex/gomp-relay/pkg/circuit"
)

// Namespace prefixes every metric name
const Namespace = "gomp_relay"

// Sources supplies the snapshots read on every scrape. Nil entries are skipped.
type Sources struct {
	Relay    func() relay.Stats
	Events   func() events.Stats
	Auth     func() auth.Stats
	Breakers []func() circuit.Stats
}

// Collector converts relay snapshots into Prometheus metrics at scrape time,
// so counters stay owned by the components that increment them
type Collector struct {
	src Sources

	submitted     *prometheus.Desc
	delivered     *prometheus.Desc
	queued        *prometheus.Desc
	dropped       *prometheus.Desc
	queueDepth    *prometheus.Desc
	connected     *prometheus.Desc
	sent          *prometheus.Desc
	received      *prometheus.Desc
	connects      *prometheus.Desc
	eventsTotal   *prometheus.Desc
	goodBlocks    *prometheus.Desc
	invalidTarget *prometheus.Desc
	unauthorized  *prometheus.Desc
	authChecks    *prometheus.Desc
	breakerState  *prometheus.Desc
	breakerReject *prometheus.Desc
}

// NewCollector creates a collector over src
func NewCollector(src Sources) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, labels, nil)
	}

	return &Collector{
		src: src,

		submitted:  desc("submitted_total", "Messages handed to the submitter"),
		delivered:  desc("delivered_total", "Messages accepted by a receiver proxy", "path"),
		queued:     desc("queued_total", "Messages that found no receiver and entered the retry queue"),
		dropped:    desc("dropped_total", "Queued messages discarded because the retry queue was full"),
		queueDepth: desc("queue_depth", "Messages currently waiting in the retry queue"),

		connected: desc("receiver_connected", "1 while the receiver has a live connection", "receiver", "priority"),
		sent:      desc("receiver_sent_total", "Messages queued to the receiver", "receiver", "priority"),
		received:  desc("receiver_received_total", "Frames received from the receiver", "receiver", "priority"),
		connects:  desc("receiver_connects_total", "Connections established to the receiver", "receiver", "priority"),

		eventsTotal:   desc("events_total", "Relay events handled by kind", "kind"),
		goodBlocks:    desc("good_blocks_total", "Weak blocks that met the network target"),
		invalidTarget: desc("invalid_targets_total", "Weak blocks dropped for a negative or overflowing target"),
		unauthorized:  desc("unauthorized_total", "Events dropped because the miner was not authorised"),

		authChecks: desc("auth_checks_total", "Miner credential checks by result", "result"),

		breakerState:  desc("breaker_state", "Circuit breaker state (0 closed, 1 open, 2 half-open)", "name"),
		breakerReject: desc("breaker_rejected_total", "Calls rejected by an open circuit breaker", "name"),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.submitted, c.delivered, c.queued, c.dropped, c.queueDepth,
		c.connected, c.sent, c.received, c.connects,
		c.eventsTotal, c.goodBlocks, c.invalidTarget, c.unauthorized,
		c.authChecks, c.breakerState, c.breakerReject,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.src.Relay != nil {
		c.collectRelay(ch, c.src.Relay())
	}

	if c.src.Events != nil {
		st := c.src.Events()
		counter(ch, c.eventsTotal, st.Shares, "share")
		counter(ch, c.eventsTotal, st.WeakBlocks, "weak_block")
		counter(ch, c.eventsTotal, st.Events, "event")
		counter(ch, c.goodBlocks, st.GoodBlocks)
		counter(ch, c.invalidTarget, st.InvalidTargets)
		counter(ch, c.unauthorized, st.Unauthorized)
	}

	if c.src.Auth != nil {
		st := c.src.Auth()
		counter(ch, c.authChecks, st.Accepted, "accepted")
		counter(ch, c.authChecks, st.Rejected, "rejected")
		counter(ch, c.authChecks, st.Failures, "failed")
		c.collectBreaker(ch, st.Breaker)
	}

	for _, fn := range c.src.Breakers {
		c.collectBreaker(ch, fn())
	}
}

func (c *Collector) collectRelay(ch chan<- prometheus.Metric, st relay.Stats) {
	counter(ch, c.submitted, st.Submitted)
	counter(ch, c.delivered, st.DeliveredDirect, "direct")
	counter(ch, c.delivered, st.DeliveredRetried, "retried")
	counter(ch, c.queued, st.Queued)
	counter(ch, c.dropped, st.Dropped)
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(st.QueueDepth))

	for i, r := range st.Receivers {
		priority := strconv.Itoa(i)
		up := 0.0
		if r.Connected {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, up, r.Addr, priority)
		counter(ch, c.sent, r.Sent, r.Addr, priority)
		counter(ch, c.received, r.Received, r.Addr, priority)
		counter(ch, c.connects, r.Connects, r.Addr, priority)
	}
}

func (c *Collector) collectBreaker(ch chan<- prometheus.Metric, st circuit.Stats) {
	ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, float64(st.State), st.Name)
	counter(ch, c.breakerReject, st.Rejected, st.Name)
}

func counter(ch chan<- prometheus.Metric, d *prometheus.Desc, v uint64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
}
