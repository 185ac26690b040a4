package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bardlex/gomp-relay/internal/messaging"
	"github.com/bardlex/gomp-relay/pkg/log"
)

// eventPublisher is the part of the Kafka client publish needs
type eventPublisher interface {
	PublishEvent(ctx context.Context, topic string, event *messaging.RelayEvent) error
	Close() error
}

// newPublisher creates the Kafka publisher; replaced in tests
var newPublisher = func(brokers []string) eventPublisher {
	return messaging.NewKafkaClient(brokers, log.Discard())
}

func publishCmd() *cobra.Command {
	var (
		brokers      string
		topic        string
		event        messaging.RelayEvent
		kind         string
		leadingZeros int
	)

	defaultBrokers := os.Getenv("KAFKA_BROKERS")
	if defaultBrokers == "" {
		defaultBrokers = "localhost:9092"
	}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a relay event to Kafka",
		Long: `Publish one relay event for relayd to consume.

Examples:
  relaytool publish --kind share --user alice --worker rig1 --height 840000 --header <160 hex chars>
  relaytool publish --kind weak_block --user alice --header <hex> --tx-count 2500
  relaytool publish --kind event --event "pool restarted"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			event.Kind = messaging.EventKind(kind)
			if leadingZeros >= 0 {
				if leadingZeros > 255 {
					return fmt.Errorf("--leading-zeros must be at most 255")
				}
				lz := uint8(leadingZeros)
				event.LeadingZeros = &lz
			}
			if err := event.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			publisher := newPublisher(splitList(brokers))
			defer publisher.Close()

			if err := publisher.PublishEvent(ctx, topic, &event); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s event to %s\n", event.Kind, topic)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&brokers, "brokers", defaultBrokers, "comma-separated Kafka brokers (default from KAFKA_BROKERS)")
	f.StringVar(&topic, "topic", messaging.TopicRelayEvents, "Kafka topic")
	f.StringVar(&kind, "kind", string(messaging.KindShare), "event kind: share, weak_block or event")
	f.StringVar(&event.User, "user", "", "miner username")
	f.StringVar(&event.Worker, "worker", "", "worker name")
	f.StringVar(&event.Credential, "credential", "", "miner credential")
	f.Int64Var(&event.Height, "height", 0, "block height")
	f.Uint64Var(&event.Payout, "payout", 0, "payout value in satoshis")
	f.StringVar(&event.Header, "header", "", "80-byte block header, hex encoded")
	f.IntVar(&leadingZeros, "leading-zeros", -1, "leading zero bits (computed by relayd when omitted)")
	f.Uint8Var(&event.ClientTarget, "client-target", 0, "client target in leading zero bits")
	f.IntVar(&event.TxCount, "tx-count", 0, "transaction count of a weak block")
	f.StringVar(&event.Event, "event", "", "free-form pool event text")

	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
