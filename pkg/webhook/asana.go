package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"asanahooks/internal"
	"asanahooks/pkg/activity"
	"asanahooks/pkg/auth"
	"asanahooks/pkg/enrich"
	"asanahooks/pkg/storage"
)

const (
	provider        = "asana"
	hookSecretKey   = "X-Hook-Secret"
	accountIDParam  = "account_id"
	responseOK      = "ok"
	eventsTableName = "events"
)

// CredentialSource loads the credentials of an account.
type CredentialSource interface {
	Get(ctx context.Context, accountID string) (auth.Credentials, error)
}

// AsanaHandler receives Asana webhook deliveries and stores one normalized
// event per delivered event.
type AsanaHandler struct {
	pipeline    *enrich.Pipeline
	credentials CredentialSource
	events      storage.EventStore
	rules       *internal.RuleEngine
	publisher   internal.Publisher
	logger      *log.Logger
	maxBody     int64
	debugEvents bool
}

type delivery struct {
	Events []json.RawMessage `json:"events"`
}

// NewAsanaHandler creates a new AsanaHandler.
func NewAsanaHandler(pipeline *enrich.Pipeline, credentials CredentialSource, events storage.EventStore, rules *internal.RuleEngine, publisher internal.Publisher, logger *log.Logger, maxBody int64, debugEvents bool) (*AsanaHandler, error) {
	if pipeline == nil {
		return nil, errors.New("enrichment pipeline is required")
	}
	if events == nil {
		return nil, errors.New("event store is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &AsanaHandler{
		pipeline:    pipeline,
		credentials: credentials,
		events:      events,
		rules:       rules,
		publisher:   publisher,
		logger:      logger,
		maxBody:     maxBody,
		debugEvents: debugEvents,
	}, nil
}

// ServeHTTP handles an incoming HTTP request.
func (h *AsanaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	internal.IncRequest(provider)
	start := time.Now()
	defer func() { internal.ObserveDelivery(time.Since(start)) }()
	reqID := requestID(r)
	w.Header().Set("X-Request-Id", reqID)
	logger := internal.WithRequestID(h.logger, reqID)

	if secret := r.Header.Get(hookSecretKey); secret != "" {
		w.Header().Set(hookSecretKey, secret)
		w.WriteHeader(http.StatusOK)
		logger.Printf("asana handshake completed")
		return
	}

	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if h.debugEvents {
		logDebugEvent(logger, provider, rawBody)
	}

	var body delivery
	if err := json.Unmarshal(rawBody, &body); err != nil {
		internal.IncParseError(provider)
		logger.Printf("asana parse failed: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	accountID := r.URL.Query().Get(accountIDParam)
	stored := 0
	for i, raw := range body.Events {
		if h.processEvent(r.Context(), logger, reqID, accountID, raw) {
			stored++
		} else {
			logger.Printf("event %d dropped", i)
		}
	}
	logger.Printf("asana delivery events=%d stored=%d account_id=%s", len(body.Events), stored, accountID)

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, responseOK)
}

// processEvent enriches, stores and routes one event. It reports whether the
// event was stored.
func (h *AsanaHandler) processEvent(ctx context.Context, logger *log.Logger, reqID, accountID string, raw json.RawMessage) bool {
	creds := h.loadCredentials(ctx, logger, accountID)

	ev, err := activity.DecodeRawEvent(raw)
	if err != nil {
		logger.Printf("asana event decode failed, storing as unknown: %v", err)
	}
	normalized := h.pipeline.Enrich(ctx, ev, &creds)

	if err := h.events.InsertEvent(ctx, normalized); err != nil {
		internal.IncPersistError(eventsTableName)
		logger.Printf("event insert failed id=%s action_type=%s: %v", normalized.ID, normalized.ActionType, err)
		return false
	}
	internal.IncEvent(string(normalized.ActionType))
	h.emit(ctx, logger, reqID, accountID, normalized)
	return true
}

// loadCredentials reads the account tokens on every event so a refresh
// persisted by an earlier event of the batch is picked up.
func (h *AsanaHandler) loadCredentials(ctx context.Context, logger *log.Logger, accountID string) auth.Credentials {
	if accountID == "" || h.credentials == nil {
		return auth.Credentials{}
	}
	creds, err := h.credentials.Get(ctx, accountID)
	if err != nil {
		logger.Printf("credentials load failed account_id=%s, using personal token: %v", accountID, err)
		return auth.Credentials{}
	}
	return creds
}

func (h *AsanaHandler) emit(ctx context.Context, logger *log.Logger, reqID, accountID string, normalized activity.NormalizedEvent) {
	if h.rules == nil || h.publisher == nil {
		return
	}
	payload, err := json.Marshal(normalized.View())
	if err != nil {
		logger.Printf("event encode failed id=%s: %v", normalized.ID, err)
		return
	}
	event := internal.Event{
		Provider:  provider,
		Name:      string(normalized.ActionType),
		RequestID: reqID,
		AccountID: accountID,
		Payload:   payload,
	}
	matches := h.rules.EvaluateWithLogger(event, logger)
	logger.Printf("event id=%s action_type=%s topics=%v", normalized.ID, normalized.ActionType, matches)
	for _, match := range matches {
		if err := h.publisher.PublishForDrivers(ctx, match.Topic, event, match.Drivers); err != nil {
			logger.Printf("publish %s failed: %v", match.Topic, err)
		}
	}
}
