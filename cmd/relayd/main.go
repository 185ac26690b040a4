// Package main implements relayd, the share relay service. It consumes relay
// events from Kafka, builds share and weak-block payloads and forwards them to
// the configured receivers over redundant TCP links.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/bardlex/gomp-relay/internal/auth"
	"github.com/bardlex/gomp-relay/internal/config"
	"github.com/bardlex/gomp-relay/internal/database"
	"github.com/bardlex/gomp-relay/internal/database/influx"
	"github.com/bardlex/gomp-relay/internal/database/redis"
	"github.com/bardlex/gomp-relay/internal/events"
	"github.com/bardlex/gomp-relay/internal/messaging"
	"github.com/bardlex/gomp-relay/internal/metrics"
	"github.com/bardlex/gomp-relay/internal/relay"
	"github.com/bardlex/gomp-relay/internal/transport"
	"github.com/bardlex/gomp-relay/pkg/circuit"
	"github.com/bardlex/gomp-relay/pkg/log"
	"github.com/bardlex/gomp-relay/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("relayd failed")
		os.Exit(1)
	}
	logger.Info("relayd stopped")
}

// run owns every resource relayd opens and releases them before returning
func run(cfg *config.Config, logger *log.Logger) error {
	logger.Info("starting relayd",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"receivers", cfg.ReceiverAddrs,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storesCfg, err := storesConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid store configuration: %w", err)
	}

	stores, err := database.NewManager(ctx, storesCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to stores: %w", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.WithError(err).Error("failed to close stores")
		}
	}()

	var kafkaClient *messaging.KafkaClient
	if cfg.KafkaRelayTopic != "" && len(cfg.KafkaBrokers) > 0 {
		kafkaClient = messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
	}

	svc, err := newService(cfg, logger, stores, kafkaClient)
	if err != nil {
		if kafkaClient != nil {
			_ = kafkaClient.Close()
		}
		return fmt.Errorf("failed to create relay service: %w", err)
	}

	return svc.Run(ctx)
}

// storesConfig selects the stores relayd needs from cfg
func storesConfig(cfg *config.Config) (*database.Config, error) {
	out := &database.Config{}

	if cfg.RequireAuth {
		redisCfg, err := redis.ConfigFromURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		out.Redis = redisCfg
	}

	if cfg.InfluxURL != "" {
		out.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}
	}

	return out, nil
}

// service wires the submitter, its transports and the event pipeline together
type service struct {
	cfg    *config.Config
	logger *log.Logger

	submitter   *relay.Submitter
	maintainers []*transport.Maintainer
	producer    *events.Producer
	auth        *auth.Authenticator
	stores      *database.Manager
	kafka       *messaging.KafkaClient
}

// newService builds the relay pipeline. stores and kafkaClient may be nil.
func newService(cfg *config.Config, logger *log.Logger, stores *database.Manager, kafkaClient *messaging.KafkaClient) (*service, error) {
	submitter, err := relay.NewSubmitter(relay.Config{
		Receivers:      cfg.ReceiverAddrs,
		Password:       cfg.ReceiverPassword,
		QueueSize:      cfg.RetryQueueSize,
		OutboundBuffer: cfg.OutboundBuffer,
		MaxFrameSize:   cfg.MaxFrameSize,
		Backoff: &retry.Config{
			BaseDelay:  cfg.RetryBaseDelay,
			MaxDelay:   cfg.RetryMaxDelay,
			Multiplier: 2.0,
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	s := &service{
		cfg:       cfg,
		logger:    logger.WithComponent("relayd"),
		submitter: submitter,
		stores:    stores,
		kafka:     kafkaClient,
	}

	transportCfg := transport.Config{
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Backoff: &retry.Config{
			BaseDelay:  cfg.ReconnectBaseDelay,
			MaxDelay:   cfg.ReconnectMaxDelay,
			Multiplier: 2.0,
			Jitter:     true,
		},
	}
	for _, p := range submitter.Proxies() {
		s.maintainers = append(s.maintainers, transport.NewMaintainer(p.Addr(), p, transportCfg, logger))
	}

	var authorizer events.Authorizer
	if stores != nil && stores.Redis != nil {
		s.auth = auth.NewAuthenticator(stores.Redis, cfg.RedisAuthKey, logger)
		authorizer = s.auth
	}
	s.producer = events.NewProducer(submitter, authorizer, logger)

	return s, nil
}

// Run starts every component and blocks until ctx is done or one of them fails
func (s *service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, m := range s.maintainers {
		m := m
		g.Go(func() error { return ignoreCancel(m.Run(ctx)) })
	}

	g.Go(func() error { return ignoreCancel(s.submitter.Run(ctx)) })

	if s.kafka != nil {
		g.Go(func() error {
			err := s.kafka.StartConsumer(ctx, s.cfg.KafkaRelayTopic, s.cfg.KafkaGroupID, s.producer)
			return ignoreCancel(err)
		})
	}

	if s.stores != nil {
		g.Go(func() error {
			s.stores.RunStatsLoop(ctx, s.cfg.ServiceName, s.cfg.StatsInterval, database.StatsSource{
				Relay:  s.submitter.Stats,
				Events: s.producer.Stats,
			})
			return nil
		})
	}

	if s.cfg.MetricsAddr != "" {
		srv := metrics.NewServer(s.cfg.MetricsAddr, s.metricsHandler(), s.logger)
		g.Go(func() error { return srv.Run(ctx) })
	}

	s.logger.Info("relay service running",
		"receivers", len(s.maintainers),
		"kafka", s.kafka != nil,
		"auth", s.auth != nil,
	)

	err := g.Wait()
	s.shutdown()
	return err
}

func (s *service) metricsHandler() http.Handler {
	src := metrics.Sources{
		Relay:  s.submitter.Stats,
		Events: s.producer.Stats,
	}
	if s.auth != nil {
		src.Auth = s.auth.Stats
	}
	if s.kafka != nil {
		src.Breakers = append(src.Breakers, func() circuit.Stats { return s.kafka.BreakerStats() })
	}

	checks := map[string]metrics.HealthFunc{}
	if s.stores != nil {
		checks["stores"] = s.stores.Health
	}

	return metrics.NewRouter(metrics.NewRegistry(metrics.NewCollector(src)), checks)
}

func (s *service) shutdown() {
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.logger.WithError(err).Warn("failed to close Kafka client")
		}
	}

	st := s.submitter.Stats()
	s.logger.Info("relay service stopped",
		"submitted", st.Submitted,
		"queued", st.Queued,
		"dropped", st.Dropped,
		"undelivered", st.QueueDepth,
	)
}

// ignoreCancel treats context cancellation as a clean stop
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
