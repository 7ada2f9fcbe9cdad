package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"DegenVenue/internal/observability"
)

// NATSSubscriber subscribes to JetStream subjects and feeds raw commands into
// the engine loop via commandChan. Each subject maps to one command type so
// producers can scale independently.
type NATSSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumers   []jetstream.ConsumeContext
	log         zerolog.Logger
}

// RawCommand is a parsed-but-untyped command off the wire, ready for the
// shell to validate and convert into a typed event.Command before handing it
// to the engine.
type RawCommand struct {
	Subject     string
	CommandType string
	Data        []byte
	Received    time.Time
	AckFunc     func()
	NakFunc     func()
}

// SubjectConfig maps one NATS subject to a command type.
type SubjectConfig struct {
	Subject      string
	CommandType  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject layout.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "degen.orders.place.position.>", CommandType: "PlacePositionOrder", ConsumerName: "venue-place-position", StreamName: "DEGEN_ORDERS"},
		{Subject: "degen.orders.place.liquidity.>", CommandType: "PlaceLiquidityOrder", ConsumerName: "venue-place-liquidity", StreamName: "DEGEN_ORDERS"},
		{Subject: "degen.orders.place.withdrawal.>", CommandType: "PlaceWithdrawalOrder", ConsumerName: "venue-place-withdrawal", StreamName: "DEGEN_ORDERS"},
		{Subject: "degen.orders.cancel.>", CommandType: "CancelOrder", ConsumerName: "venue-cancel", StreamName: "DEGEN_ORDERS"},
		{Subject: "degen.orders.fill.>", CommandType: "FillOrder", ConsumerName: "venue-fill", StreamName: "DEGEN_ORDERS"},
		{Subject: "degen.risk.liquidate.>", CommandType: "Liquidate", ConsumerName: "venue-liquidate", StreamName: "DEGEN_RISK"},
		{Subject: "degen.risk.adl.>", CommandType: "ForceAdl", ConsumerName: "venue-adl", StreamName: "DEGEN_RISK"},
		{Subject: "degen.funding.tick.>", CommandType: "UpdateFunding", ConsumerName: "venue-funding", StreamName: "DEGEN_FUNDING"},
		{Subject: "degen.transfers.deposit.>", CommandType: "Deposit", ConsumerName: "venue-deposit", StreamName: "DEGEN_TRANSFERS"},
		{Subject: "degen.transfers.withdraw.>", CommandType: "Withdraw", ConsumerName: "venue-withdraw", StreamName: "DEGEN_TRANSFERS"},
		{Subject: "degen.transfers.collateral.add.>", CommandType: "DepositCollateral", ConsumerName: "venue-coll-add", StreamName: "DEGEN_TRANSFERS"},
		{Subject: "degen.transfers.collateral.remove.>", CommandType: "WithdrawAllCollateral", ConsumerName: "venue-coll-remove", StreamName: "DEGEN_TRANSFERS"},
		{Subject: "degen.admin.config.>", CommandType: "SetConfig", ConsumerName: "venue-config", StreamName: "DEGEN_ADMIN"},
		{Subject: "degen.admin.asset.>", CommandType: "SetAsset", ConsumerName: "venue-asset", StreamName: "DEGEN_ADMIN"},
		{Subject: "degen.admin.broker.>", CommandType: "SetBroker", ConsumerName: "venue-broker", StreamName: "DEGEN_ADMIN"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand) *NATSSubscriber {
	return &NATSSubscriber{
		js:          js,
		commandChan: commandChan,
		log:         observability.NewLogger("ingestion"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:     msg.Subject(),
				CommandType: cfg.CommandType,
				Data:        msg.Data(),
				Received:    time.Now(),
				AckFunc:     func() { msg.Ack() },
				NakFunc:     func() { msg.Nak() },
			}

			select {
			case ns.commandChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "DEGEN_ORDERS",
			Subjects:  []string{"degen.orders.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "DEGEN_RISK",
			Subjects:  []string{"degen.risk.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "DEGEN_FUNDING",
			Subjects:  []string{"degen.funding.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "DEGEN_TRANSFERS",
			Subjects:  []string{"degen.transfers.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "DEGEN_ADMIN",
			Subjects:  []string{"degen.admin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	log := observability.NewLogger("ingestion")
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
