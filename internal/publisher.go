package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamaqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"
)

// Publisher routes an event to one or more message drivers.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
	PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error
	Close() error
}

type watermillPublisher struct {
	publisher message.Publisher
	closeFn   func() error
}

// PublisherFactory builds a Watermill publisher for a custom driver.
type PublisherFactory func(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error)

var publisherFactories = map[string]PublisherFactory{
	"gochannel": buildGoChannelPublisher,
	"kafka":     buildKafkaPublisher,
	"nats":      buildNATSPublisher,
	"amqp":      buildAMQPPublisher,
	"sql":       buildSQLPublisher,
	"http":      buildHTTPPublisher,
}

// RegisterPublisherDriver adds or replaces the factory for a driver name.
func RegisterPublisherDriver(name string, factory PublisherFactory) {
	if name == "" || factory == nil {
		return
	}
	publisherFactories[strings.ToLower(name)] = factory
}

// NewPublisher builds one publisher per configured driver behind a mux that
// retries failed publishes and hands exhausted ones to the dlq driver.
// Drivers that fail to start are skipped; at least one must start.
func NewPublisher(cfg WatermillConfig) (Publisher, error) {
	logger := watermill.NewStdLogger(false, false)

	drivers := NormalizeDrivers(cfg.Drivers...)
	if len(drivers) == 0 {
		drivers = NormalizeDrivers(cfg.Driver, "gochannel")[:1]
	}

	pubs := make(map[string]Publisher, len(drivers)+1)
	built := make([]string, 0, len(drivers))
	for _, driver := range drivers {
		pub, err := RetryBuild(func() (Publisher, error) {
			return newSinglePublisher(cfg, driver, logger)
		})
		if err != nil {
			logger.Error("publisher init failed, skipping driver", err, watermill.LogFields{
				"driver": driver,
			})
			continue
		}
		pubs[driver] = pub
		built = append(built, driver)
	}
	if len(pubs) == 0 {
		return nil, errors.New("no publishers available")
	}

	dlq := strings.ToLower(strings.TrimSpace(cfg.DLQDriver))
	if _, ok := pubs[dlq]; dlq != "" && !ok {
		pub, err := newSinglePublisher(cfg, dlq, logger)
		if err != nil {
			for _, existing := range pubs {
				_ = existing.Close()
			}
			return nil, fmt.Errorf("dlq driver %s: %w", dlq, err)
		}
		pubs[dlq] = pub
	}
	return &publisherMux{
		publishers:     pubs,
		defaultDrivers: built,
		dlqDriver:      dlq,
		retry:          cfg.PublishRetry,
	}, nil
}

func newSinglePublisher(cfg WatermillConfig, driver string, logger watermill.LoggerAdapter) (Publisher, error) {
	driver = strings.ToLower(driver)
	if driver == "riverqueue" || driver == "river" {
		pub, err := newRiverQueuePublisher(context.Background(), cfg.RiverQueue)
		if err != nil {
			return nil, err
		}
		return pub, nil
	}
	factory, ok := publisherFactories[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
	pub, closeFn, err := factory(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &watermillPublisher{publisher: pub, closeFn: closeFn}, nil
}

func (w *watermillPublisher) Publish(ctx context.Context, topic string, event Event) error {
	payload, err := eventPayload(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	for key, value := range eventMetadata(topic, event) {
		msg.Metadata.Set(key, value)
	}
	return w.publisher.Publish(topic, msg)
}

// eventPayload returns the event document, or the encoded envelope when the
// event carries no payload.
func eventPayload(event Event) ([]byte, error) {
	if len(event.Payload) > 0 {
		return event.Payload, nil
	}
	return json.Marshal(event)
}

func eventMetadata(topic string, event Event) map[string]string {
	metadata := map[string]string{
		"provider": event.Provider,
		"event":    event.Name,
		"topic":    topic,
	}
	if event.RequestID != "" {
		metadata["request_id"] = event.RequestID
	}
	if event.AccountID != "" {
		metadata["account_id"] = event.AccountID
	}
	return metadata
}

func (w *watermillPublisher) Close() error {
	if w.publisher == nil {
		return nil
	}
	err := w.publisher.Close()
	if w.closeFn != nil {
		return errors.Join(err, w.closeFn())
	}
	return err
}

func (w *watermillPublisher) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	return w.Publish(ctx, topic, event)
}

type publisherMux struct {
	publishers     map[string]Publisher
	defaultDrivers []string
	dlqDriver      string
	retry          PublishRetryConfig
}

func (m *publisherMux) Publish(ctx context.Context, topic string, event Event) error {
	return m.PublishForDrivers(ctx, topic, event, nil)
}

func (m *publisherMux) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	targets := drivers
	if len(targets) == 0 {
		targets = m.defaultDrivers
	}

	var err error
	for _, driver := range targets {
		pub, ok := m.publishers[strings.ToLower(driver)]
		if !ok {
			err = errors.Join(err, fmt.Errorf("unknown driver %s", driver))
			continue
		}
		if publishErr := m.publishWithRetry(ctx, pub, topic, event); publishErr != nil {
			IncPublishError(strings.ToLower(driver))
			err = errors.Join(err, fmt.Errorf("%s: %w", driver, publishErr))
			if dlqErr := m.publishDLQ(ctx, driver, topic, event); dlqErr != nil {
				err = errors.Join(err, dlqErr)
			}
		}
	}
	return err
}

func (m *publisherMux) publishWithRetry(ctx context.Context, pub Publisher, topic string, event Event) error {
	attempts := m.retry.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := time.Duration(m.retry.DelayMS) * time.Millisecond

	var err error
	for i := 0; i < attempts; i++ {
		if err = pub.Publish(ctx, topic, event); err == nil {
			return nil
		}
		if i == attempts-1 || delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
	}
	return err
}

func (m *publisherMux) publishDLQ(ctx context.Context, failedDriver, topic string, event Event) error {
	if m.dlqDriver == "" || strings.EqualFold(failedDriver, m.dlqDriver) {
		return nil
	}
	pub, ok := m.publishers[m.dlqDriver]
	if !ok {
		return nil
	}
	if err := pub.Publish(ctx, topic, event); err != nil {
		IncPublishError(m.dlqDriver)
		return fmt.Errorf("dlq %s: %w", m.dlqDriver, err)
	}
	return nil
}

func (m *publisherMux) Close() error {
	var err error
	for _, pub := range m.publishers {
		err = errors.Join(err, pub.Close())
	}
	return err
}

func buildGoChannelPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	pub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
			Persistent:                     cfg.GoChannel.Persistent,
			BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
		},
		logger,
	)
	return pub, nil, nil
}

func buildKafkaPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil, errors.New("kafka brokers are required")
	}
	pub, err := wmkafka.NewPublisher(cfg.Kafka.Brokers, wmkafka.DefaultMarshaler{}, nil, logger)
	return pub, nil, err
}

func buildNATSPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
		return nil, nil, errors.New("nats cluster_id and client_id are required")
	}
	natsCfg := wmnats.StreamingPublisherConfig{
		ClusterID: cfg.NATS.ClusterID,
		ClientID:  cfg.NATS.ClientID,
		Marshaler: wmnats.GobMarshaler{},
	}
	if cfg.NATS.URL != "" {
		natsCfg.StanOptions = append(natsCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
	}
	pub, err := wmnats.NewStreamingPublisher(natsCfg, logger)
	return pub, nil, err
}

func buildAMQPPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	if cfg.AMQP.URL == "" {
		return nil, nil, errors.New("amqp url is required")
	}
	amqpCfg, err := NewAMQPConfig(cfg.AMQP.URL, cfg.AMQP.Mode)
	if err != nil {
		return nil, nil, err
	}
	pub, err := wmamaqp.NewPublisher(amqpCfg, logger)
	return pub, nil, err
}

func buildSQLPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
		return nil, nil, errors.New("sql driver and dsn are required")
	}
	schemaAdapter, _, err := SQLAdapters(cfg.SQL.Dialect)
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, nil, err
	}
	pub, err := wmsql.NewPublisher(db, wmsql.PublisherConfig{
		SchemaAdapter:        schemaAdapter,
		AutoInitializeSchema: cfg.SQL.AutoInitializeSchema || cfg.SQL.InitializeSchema,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return pub, db.Close, nil
}

func buildHTTPPublisher(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
	switch strings.ToLower(cfg.HTTP.Mode) {
	case "topic_url":
	case "base_url":
		if cfg.HTTP.BaseURL == "" {
			return nil, nil, errors.New("http base_url is required for base_url mode")
		}
	default:
		return nil, nil, fmt.Errorf("unsupported http mode: %s", cfg.HTTP.Mode)
	}
	pub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
			target, err := httpTargetURL(cfg.HTTP, topic)
			if err != nil {
				return nil, err
			}
			return wmhttp.DefaultMarshalMessageFunc(target, msg)
		},
	}, logger)
	return pub, nil, err
}

func httpTargetURL(cfg HTTPConfig, topic string) (string, error) {
	switch strings.ToLower(cfg.Mode) {
	case "topic_url":
		if topic == "" {
			return "", errors.New("http topic url is empty")
		}
		return topic, nil
	case "base_url":
		if cfg.BaseURL == "" {
			return "", errors.New("http base_url is empty")
		}
		base := strings.TrimRight(cfg.BaseURL, "/")
		if topic == "" {
			return base, nil
		}
		return base + "/" + strings.TrimLeft(topic, "/"), nil
	default:
		return "", fmt.Errorf("unsupported http mode: %s", cfg.Mode)
	}
}
