package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"asanahooks/pkg/activity"
	"asanahooks/pkg/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// EventsHandler serves the activity log newest first.
type EventsHandler struct {
	Store        storage.EventStore
	DefaultLimit int
	MaxLimit     int
	Logger       *log.Logger
}

type eventsResponse struct {
	Events     []activity.EventView `json:"events"`
	Limit      int                  `json:"limit"`
	Offset     int                  `json:"offset"`
	NextOffset *int                 `json:"next_offset"`
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Store == nil {
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	}
	query := r.URL.Query()
	limit, err := intParam(query.Get("limit"), h.defaultLimit())
	if err != nil || limit <= 0 || limit > h.maxLimit() {
		http.Error(w, "limit must be between 1 and "+strconv.Itoa(h.maxLimit()), http.StatusBadRequest)
		return
	}
	offset, err := intParam(query.Get("offset"), 0)
	if err != nil || offset < 0 {
		http.Error(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}

	// One extra row tells whether another page exists.
	records, err := h.Store.ListEvents(r.Context(), storage.EventFilter{
		ProjectID: strings.TrimSpace(query.Get("project_id")),
		Limit:     limit + 1,
		Offset:    offset,
	})
	if err != nil {
		http.Error(w, "list events failed", http.StatusInternalServerError)
		if h.Logger != nil {
			h.Logger.Printf("list events failed: %v", err)
		}
		return
	}

	resp := eventsResponse{Events: make([]activity.EventView, 0, len(records)), Limit: limit, Offset: offset}
	if len(records) > limit {
		records = records[:limit]
		next := offset + limit
		resp.NextOffset = &next
	}
	for _, record := range records {
		resp.Events = append(resp.Events, record.View())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *EventsHandler) defaultLimit() int {
	if h.DefaultLimit <= 0 {
		return defaultLimit
	}
	if h.DefaultLimit > h.maxLimit() {
		return h.maxLimit()
	}
	return h.DefaultLimit
}

func (h *EventsHandler) maxLimit() int {
	if h.MaxLimit <= 0 {
		return maxLimit
	}
	return h.MaxLimit
}

func intParam(value string, fallback int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	return strconv.Atoi(value)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
