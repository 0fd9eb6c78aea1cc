package internal

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposedInBothFormats(t *testing.T) {
	IncEvent("task_moved")
	IncPublishError("kafka")
	ObserveDelivery(25 * time.Millisecond)

	if got := eventsTotal.Get("task_moved"); got == nil || got.String() == "0" {
		t.Fatalf("expected expvar counter, got %v", got)
	}

	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`asanahooks_events_total{action_type="task_moved"}`,
		`asanahooks_publish_errors_total{driver="kafka"}`,
		`asanahooks_delivery_duration_seconds_count`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %s in exposition:\n%s", want, text)
		}
	}
}
