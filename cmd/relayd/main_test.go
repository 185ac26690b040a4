package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/bardlex/gomp-relay/internal/config"
	"github.com/bardlex/gomp-relay/internal/database"
	"github.com/bardlex/gomp-relay/internal/messaging"
	"github.com/bardlex/gomp-relay/pkg/log"
)

const genesisHeaderHex = "01000000" +
	"0000000000000000000000000000000000000000000000000000000000000000" +
	"3ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a" +
	"29ab5f49ffff001d1dac2b7c"

func testConfig(receivers ...string) *config.Config {
	return &config.Config{
		ServiceName:        "test-relayd",
		Version:            "test",
		ReceiverAddrs:      receivers,
		ReceiverPassword:   "hunter2",
		RetryQueueSize:     100,
		RetryBaseDelay:     time.Millisecond,
		RetryMaxDelay:      10 * time.Millisecond,
		OutboundBuffer:     16,
		MaxFrameSize:       1 << 20,
		DialTimeout:        time.Second,
		WriteTimeout:       time.Second,
		ReconnectBaseDelay: 5 * time.Millisecond,
		ReconnectMaxDelay:  20 * time.Millisecond,
		StatsInterval:      time.Second,
	}
}

// readFrame reads one relay frame and returns its flag and payload
func readFrame(t *testing.T, conn net.Conn) (uint16, string) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}

	header := make([]byte, 10)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Fatalf("read frame header: %v", err)
	}
	flag := binary.BigEndian.Uint16(header[0:2])
	total := binary.LittleEndian.Uint32(header[2:6])

	payload := make([]byte, total-10)
	if _, err := io.ReadFull(conn, payload); err != nil {
		t.Fatalf("read frame payload: %v", err)
	}
	return flag, string(payload)
}

func TestNewService(t *testing.T) {
	cfg := testConfig("127.0.0.1:8555", "127.0.0.1:8556")

	svc, err := newService(cfg, log.Discard(), nil, nil)
	if err != nil {
		t.Fatalf("newService() error = %v", err)
	}

	if len(svc.maintainers) != 2 {
		t.Fatalf("maintainers = %d, want 2", len(svc.maintainers))
	}
	for i, m := range svc.maintainers {
		if m.Addr() != cfg.ReceiverAddrs[i] {
			t.Errorf("maintainer %d addr = %s, want %s", i, m.Addr(), cfg.ReceiverAddrs[i])
		}
	}
	if svc.auth != nil {
		t.Error("authenticator should be nil without Redis")
	}
	if svc.producer == nil {
		t.Error("producer should be created")
	}
}

func TestNewService_NoReceivers(t *testing.T) {
	if _, err := newService(testConfig(), log.Discard(), nil, nil); err == nil {
		t.Error("newService() without receivers should fail")
	}
}

func TestStoresConfig(t *testing.T) {
	cfg := testConfig("127.0.0.1:8555")

	out, err := storesConfig(cfg)
	if err != nil {
		t.Fatalf("storesConfig() error = %v", err)
	}
	if out.Redis != nil || out.Influx != nil {
		t.Errorf("storesConfig() = %+v, want no stores", out)
	}

	cfg.RequireAuth = true
	cfg.RedisURL = "redis://cache:6380/1"
	cfg.InfluxURL = "http://influx:8086"
	cfg.InfluxBucket = "relay"

	out, err = storesConfig(cfg)
	if err != nil {
		t.Fatalf("storesConfig() error = %v", err)
	}
	if out.Redis == nil || out.Redis.Addr != "cache:6380" || out.Redis.DB != 1 {
		t.Errorf("redis config = %+v", out.Redis)
	}
	if out.Influx == nil || out.Influx.Bucket != "relay" {
		t.Errorf("influx config = %+v", out.Influx)
	}

	cfg.RedisURL = "http://not-redis"
	if _, err := storesConfig(cfg); err == nil {
		t.Error("storesConfig() with a bad Redis URL should fail")
	}
}

func TestService_RelaysEventsToReceiver(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	stores, err := database.NewManager(context.Background(), &database.Config{}, log.Discard())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	svc, err := newService(testConfig(ln.Addr().String()), log.Discard(), stores, nil)
	if err != nil {
		t.Fatalf("newService() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// events submitted before the receiver connects wait in the retry queue
	err = svc.producer.Handle(ctx, &messaging.RelayEvent{
		Kind:   messaging.KindShare,
		User:   "alice",
		Worker: "rig1",
		Height: 1,
		Header: genesisHeaderHex,
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer conn.Close()

	flag, payload := readFrame(t, conn)
	if flag != 0xEF01 || payload != "hunter2" {
		t.Fatalf("first frame = %#04x %q, want auth", flag, payload)
	}

	flag, payload = readFrame(t, conn)
	if flag != 0xFE01 {
		t.Fatalf("second frame flag = %#04x, want share", flag)
	}
	var share map[string]any
	if err := json.Unmarshal([]byte(payload), &share); err != nil {
		t.Fatalf("share payload: %v", err)
	}
	if share["user"] != "alice" || share["is_weak_block"] != false {
		t.Errorf("share = %v", share)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil on shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	st := svc.submitter.Stats()
	if st.Submitted != 1 || st.QueueDepth != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestIgnoreCancel(t *testing.T) {
	if ignoreCancel(context.Canceled) != nil || ignoreCancel(context.DeadlineExceeded) != nil {
		t.Error("cancellation should be treated as a clean stop")
	}
	if err := ignoreCancel(io.EOF); err != io.EOF {
		t.Errorf("ignoreCancel(EOF) = %v", err)
	}
}

func TestRun_ReturnsStartupErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  func() *config.Config
	}{
		{
			name: "bad redis url",
			cfg: func() *config.Config {
				cfg := testConfig("127.0.0.1:8555")
				cfg.RequireAuth = true
				cfg.RedisURL = "http://not-redis"
				return cfg
			},
		},
		{
			name: "no receivers",
			cfg:  func() *config.Config { return testConfig() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := run(tt.cfg(), log.Discard()); err == nil {
				t.Error("run() error = nil, want startup failure")
			}
		})
	}
}
