package webhook

import (
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const maxDebugBody = 2048

func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-Id")); id != "" {
		return id
	}
	return uuid.NewString()
}

func logDebugEvent(logger *log.Logger, provider string, body []byte) {
	if logger == nil {
		return
	}
	if len(body) > maxDebugBody {
		body = body[:maxDebugBody]
	}
	logger.Printf("debug event provider=%s body=%s", provider, string(body))
}
