// Package influx writes periodic relay statistics to InfluxDB.
package influx

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/gomp-relay/internal/events"
	"github.com/bardlex/gomp-relay/internal/relay"
	"github.com/bardlex/gomp-relay/pkg/errors"
)

// PointWriter is the part of the non-blocking write API the client uses
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Client wraps InfluxDB operations for relay statistics
type Client struct {
	client   influxdb2.Client
	writeAPI PointWriter
	bucket   string
	org      string
	now      func() time.Time
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client and checks server health
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := checkHealth(ctx, client); err != nil {
		client.Close()
		return nil, err.WithContext("url", cfg.URL)
	}

	return newClient(client, client.WriteAPI(cfg.Org, cfg.Bucket), cfg), nil
}

func newClient(client influxdb2.Client, w PointWriter, cfg *Config) *Client {
	return &Client{
		client:   client,
		writeAPI: w,
		bucket:   cfg.Bucket,
		org:      cfg.Org,
		now:      time.Now,
	}
}

func checkHealth(ctx context.Context, client influxdb2.Client) *errors.ServiceError {
	health, err := client.Health(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInflux, "health", "failed to check InfluxDB health")
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return errors.New(errors.ErrorTypeInflux, "health", "InfluxDB health check failed").
			WithContext("status", string(health.Status)).
			WithContext("message", msg)
	}
	return nil
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	if c.client != nil {
		c.client.Close()
	}
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	if err := checkHealth(ctx, c.client); err != nil {
		return err
	}
	return nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// WriteRelayStats writes one "relay" point with submitter totals and one
// "relay_receiver" point per receiver
func (c *Client) WriteRelayStats(service string, st relay.Stats) {
	now := c.now()
	tags := map[string]string{"service": service}

	fields := map[string]interface{}{
		"submitted":         int64(st.Submitted),
		"delivered_direct":  int64(st.DeliveredDirect),
		"delivered_retried": int64(st.DeliveredRetried),
		"queued":            int64(st.Queued),
		"dropped":           int64(st.Dropped),
		"queue_depth":       int64(st.QueueDepth),
	}
	c.writeAPI.WritePoint(write.NewPoint("relay", tags, fields, now))

	for i, r := range st.Receivers {
		receiverTags := map[string]string{
			"service":  service,
			"receiver": r.Addr,
			"priority": strconv.Itoa(i),
		}
		receiverFields := map[string]interface{}{
			"connected": r.Connected,
			"sent":      int64(r.Sent),
			"received":  int64(r.Received),
			"connects":  int64(r.Connects),
		}
		c.writeAPI.WritePoint(write.NewPoint("relay_receiver", receiverTags, receiverFields, now))
	}
}

// WriteEventStats writes a "relay_events" point with producer counters
func (c *Client) WriteEventStats(service string, st events.Stats) {
	fields := map[string]interface{}{
		"shares":          int64(st.Shares),
		"weak_blocks":     int64(st.WeakBlocks),
		"good_blocks":     int64(st.GoodBlocks),
		"invalid_targets": int64(st.InvalidTargets),
		"unauthorized":    int64(st.Unauthorized),
		"events":          int64(st.Events),
	}
	point := write.NewPoint("relay_events", map[string]string{"service": service}, fields, c.now())
	c.writeAPI.WritePoint(point)
}
