package internal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	wmamaqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
)

// ErrUnsupportedDriver is returned for driver names no builder knows.
var ErrUnsupportedDriver = errors.New("unsupported watermill driver")

const (
	brokerBuildAttempts = 10
	brokerBuildDelay    = 2 * time.Second
)

// RetryBuild calls build until it succeeds, giving brokers that are still
// starting time to come up. Unsupported drivers fail immediately.
func RetryBuild[T any](build func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < brokerBuildAttempts; i++ {
		value, err := build()
		if err == nil {
			return value, nil
		}
		if errors.Is(err, ErrUnsupportedDriver) {
			return zero, err
		}
		lastErr = err
		if i < brokerBuildAttempts-1 {
			time.Sleep(brokerBuildDelay)
		}
	}
	return zero, lastErr
}

// NormalizeDrivers lowercases, trims and dedupes driver names, keeping order.
func NormalizeDrivers(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// NewAMQPConfig maps an amqp mode name to a watermill-amqp config.
func NewAMQPConfig(url, mode string) (wmamaqp.Config, error) {
	switch strings.ToLower(mode) {
	case "", "durable_queue":
		return wmamaqp.NewDurableQueueConfig(url), nil
	case "nondurable_queue":
		return wmamaqp.NewNonDurableQueueConfig(url), nil
	case "durable_pubsub":
		return wmamaqp.NewDurablePubSubConfig(url, nil), nil
	case "nondurable_pubsub":
		return wmamaqp.NewNonDurablePubSubConfig(url, nil), nil
	default:
		return wmamaqp.Config{}, fmt.Errorf("unsupported amqp mode: %s", mode)
	}
}

// SQLAdapters returns the watermill-sql schema and offsets adapters for a dialect.
func SQLAdapters(dialect string) (wmsql.SchemaAdapter, wmsql.OffsetsAdapter, error) {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return wmsql.DefaultPostgreSQLSchema{}, wmsql.DefaultPostgreSQLOffsetsAdapter{}, nil
	case "mysql":
		return wmsql.DefaultMySQLSchema{}, wmsql.DefaultMySQLOffsetsAdapter{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}
}
