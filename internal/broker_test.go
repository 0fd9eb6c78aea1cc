package internal

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestRetryBuildStopsOnUnsupportedDriver(t *testing.T) {
	calls := 0
	_, err := RetryBuild(func() (int, error) {
		calls++
		return 0, fmt.Errorf("%w: bogus", ErrUnsupportedDriver)
	})
	if !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestRetryBuildReturnsValue(t *testing.T) {
	value, err := RetryBuild(func() (string, error) { return "ok", nil })
	if err != nil || value != "ok" {
		t.Fatalf("expected ok, got %q %v", value, err)
	}
}

func TestNormalizeDrivers(t *testing.T) {
	got := NormalizeDrivers(" Kafka", "", "kafka", "AMQP", "gochannel")
	want := []string{"kafka", "amqp", "gochannel"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAMQPConfigModes(t *testing.T) {
	for _, mode := range []string{"", "durable_queue", "nondurable_queue", "durable_pubsub", "nondurable_pubsub"} {
		if _, err := NewAMQPConfig("amqp://localhost", mode); err != nil {
			t.Fatalf("mode %q: %v", mode, err)
		}
	}
	if _, err := NewAMQPConfig("amqp://localhost", "fanout"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestSQLAdapters(t *testing.T) {
	if _, _, err := SQLAdapters("postgres"); err != nil {
		t.Fatalf("postgres: %v", err)
	}
	if _, _, err := SQLAdapters("sqlite"); err == nil {
		t.Fatalf("expected error for unsupported dialect")
	}
}
