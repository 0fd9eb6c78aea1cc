package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"asanahooks/internal"

	"github.com/ThreeDotsLabs/watermill"
	wmamaqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"
)

// SubscriberConfig reads the relay's watermill section plus consumer-only
// settings, so producer and consumer share one config file.
type SubscriberConfig struct {
	internal.WatermillConfig `yaml:",inline"`
	Consumer                 ConsumerConfig `yaml:"consumer"`
}

// ConsumerConfig holds settings that only apply to subscribers.
type ConsumerConfig struct {
	Group          string `yaml:"group"`
	ClientIDSuffix string `yaml:"client_id_suffix"`
	Durable        string `yaml:"durable"`
}

type subscriberFactory func(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error)

var subscriberFactories = map[string]subscriberFactory{
	"gochannel": buildGoChannelSubscriber,
	"amqp":      buildAMQPSubscriber,
	"nats":      buildNATSSubscriber,
	"kafka":     buildKafkaSubscriber,
	"sql":       buildSQLSubscriber,
}

// NewFromConfig creates a new worker from a subscriber configuration.
func NewFromConfig(cfg SubscriberConfig, opts ...Option) (*Worker, error) {
	sub, err := BuildSubscriber(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithSubscriber(sub))
	return New(opts...), nil
}

// BuildSubscriber creates a Watermill subscriber for every configured driver
// that can consume. Publish-only drivers (http, riverqueue) are skipped. More
// than one driver yields a subscriber that merges their streams.
func BuildSubscriber(cfg SubscriberConfig) (message.Subscriber, error) {
	logger := watermill.NewStdLogger(false, false)

	drivers := internal.NormalizeDrivers(append([]string{cfg.Driver}, cfg.Drivers...)...)
	if len(drivers) == 0 {
		drivers = []string{"gochannel"}
	}

	subs := make([]namedSubscriber, 0, len(drivers))
	for _, driver := range drivers {
		factory, ok := subscriberFactories[driver]
		if !ok {
			logger.Info("skipping driver without subscriber", watermill.LogFields{"driver": driver})
			continue
		}
		sub, err := internal.RetryBuild(func() (message.Subscriber, error) {
			return factory(cfg, logger)
		})
		if err != nil {
			logger.Error("subscriber init failed, skipping driver", err, watermill.LogFields{"driver": driver})
			continue
		}
		subs = append(subs, namedSubscriber{driver: driver, sub: sub})
	}

	switch len(subs) {
	case 0:
		return nil, errors.New("no supported subscriber drivers configured")
	case 1:
		return subs[0].sub, nil
	default:
		return &multiSubscriber{subscribers: subs, bufferSize: cfg.GoChannel.OutputChannelBuffer}, nil
	}
}

func buildGoChannelSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
		Persistent:                     cfg.GoChannel.Persistent,
		BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
	}, logger), nil
}

func buildAMQPSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.AMQP.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	amqpCfg, err := internal.NewAMQPConfig(cfg.AMQP.URL, cfg.AMQP.Mode)
	if err != nil {
		return nil, err
	}
	return wmamaqp.NewSubscriber(amqpCfg, logger)
}

func buildNATSSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
		return nil, errors.New("nats cluster_id and client_id are required")
	}
	// The relay already holds ClientID on the cluster.
	natsCfg := wmnats.StreamingSubscriberConfig{
		ClusterID:   cfg.NATS.ClusterID,
		ClientID:    cfg.NATS.ClientID + cfg.Consumer.ClientIDSuffix,
		DurableName: cfg.Consumer.Durable,
		QueueGroup:  cfg.Consumer.Group,
		Unmarshaler: wmnats.GobMarshaler{},
	}
	if cfg.NATS.URL != "" {
		natsCfg.StanOptions = append(natsCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
	}
	return wmnats.NewStreamingSubscriber(natsCfg, logger)
}

func buildKafkaSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	return wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Consumer.Group,
	}, nil, wmkafka.DefaultMarshaler{}, logger)
}

func buildSQLSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
		return nil, errors.New("sql driver and dsn are required")
	}
	schemaAdapter, offsetsAdapter, err := internal.SQLAdapters(cfg.SQL.Dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, err
	}
	sub, err := wmsql.NewSubscriber(db, wmsql.SubscriberConfig{
		ConsumerGroup:    cfg.Consumer.Group,
		SchemaAdapter:    schemaAdapter,
		OffsetsAdapter:   offsetsAdapter,
		InitializeSchema: cfg.SQL.InitializeSchema || cfg.SQL.AutoInitializeSchema,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &closingSubscriber{Subscriber: sub, closeFn: db.Close}, nil
}

type closingSubscriber struct {
	message.Subscriber
	closeFn func() error
}

func (c *closingSubscriber) Close() error {
	return errors.Join(c.Subscriber.Close(), c.closeFn())
}

type namedSubscriber struct {
	driver string
	sub    message.Subscriber
}

// multiSubscriber fans several subscribers into one channel per topic and
// tags each message with the driver it came from.
type multiSubscriber struct {
	subscribers []namedSubscriber
	bufferSize  int64
}

func (m *multiSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	buffer := m.bufferSize
	if buffer <= 0 {
		buffer = 64
	}
	streams := make([]<-chan *message.Message, len(m.subscribers))
	for i, entry := range m.subscribers {
		ch, err := entry.sub.Subscribe(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s on %s: %w", topic, entry.driver, err)
		}
		streams[i] = ch
	}

	out := make(chan *message.Message, buffer)
	var wg sync.WaitGroup
	for i, ch := range streams {
		wg.Add(1)
		go func(driver string, ch <-chan *message.Message) {
			defer wg.Done()
			for msg := range ch {
				if msg.Metadata == nil {
					msg.Metadata = message.Metadata{}
				}
				msg.Metadata.Set("driver", driver)
				select {
				case out <- msg:
				case <-ctx.Done():
					msg.Nack()
					return
				}
			}
		}(m.subscribers[i].driver, ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (m *multiSubscriber) Close() error {
	errs := make([]error, 0, len(m.subscribers))
	for _, entry := range m.subscribers {
		errs = append(errs, entry.sub.Close())
	}
	return errors.Join(errs...)
}
