// Package testutil provides testing utilities for the row cache.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/record"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/source"
)

// MockBackend is a configurable in-memory CRM backend for testing. It
// serves the paged records contract the RESTSource speaks and supports
// failure injection, auth enforcement and request tracking.
type MockBackend struct {
	server *httptest.Server

	mu          sync.RWMutex
	collections map[string][]record.Record
	token       string
	failQueue   []int
	writeStatus int
	delay       time.Duration

	// Tracking
	RequestCount     int
	PageRequestCount int
	LastQuery        source.Query
}

// NewMockBackend creates a mock backend with no collections configured.
func NewMockBackend() *MockBackend {
	mock := &MockBackend{
		collections: make(map[string][]record.Record),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server base URL.
func (m *MockBackend) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockBackend) Close() {
	m.server.Close()
}

// SetCollection replaces a collection's fixture rows.
func (m *MockBackend) SetCollection(name string, recs []record.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[name] = append([]record.Record(nil), recs...)
}

// CollectionLen returns the current number of rows in a collection.
func (m *MockBackend) CollectionLen(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[name])
}

// RequireToken makes the backend reject requests without the given
// bearer token (401).
func (m *MockBackend) RequireToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// FailNext enqueues n responses with the given status code ahead of
// normal handling.
func (m *MockBackend) FailNext(n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failQueue = append(m.failQueue, status)
	}
}

// FailWrites makes every write request answer with the given status.
// Pass 0 to restore normal handling.
func (m *MockBackend) FailWrites(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeStatus = status
}

// SetDelay adds latency to every request.
func (m *MockBackend) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Reset clears tracking counters and failure injection.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PageRequestCount = 0
	m.failQueue = nil
	m.writeStatus = 0
	m.delay = 0
}

// GetRequestCount returns the number of requests handled.
func (m *MockBackend) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPageRequestCount returns the number of page fetches handled.
func (m *MockBackend) GetPageRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PageRequestCount
}

func (m *MockBackend) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	delay := m.delay

	var injected int
	if len(m.failQueue) > 0 {
		injected = m.failQueue[0]
		m.failQueue = m.failQueue[1:]
	}
	token := m.token
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if injected != 0 {
		writeJSONError(w, injected, "injected failure")
		return
	}

	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		writeJSONError(w, http.StatusUnauthorized, "missing or invalid token")
		return
	}

	// Paths: /collections/{name}/records[/{id}]
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "collections" || parts[2] != "records" {
		writeJSONError(w, http.StatusNotFound, "unknown path")
		return
	}
	collection := parts[1]

	switch {
	case r.Method == http.MethodGet && len(parts) == 3:
		m.handlePage(w, r, collection)
	case r.Method == http.MethodPost && len(parts) == 3:
		m.handleInsert(w, r, collection)
	case r.Method == http.MethodPatch && len(parts) == 4:
		m.handleUpdate(w, r, collection, parts[3])
	case r.Method == http.MethodDelete && len(parts) == 3:
		m.handleDelete(w, r, collection)
	default:
		writeJSONError(w, http.StatusNotFound, "unknown operation")
	}
}

func (m *MockBackend) handlePage(w http.ResponseWriter, r *http.Request, collection string) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	m.mu.Lock()
	m.PageRequestCount++
	m.LastQuery = source.Query{Collection: collection, Offset: offset, Limit: limit}
	rows := m.collections[collection]
	m.mu.Unlock()

	if limit <= 0 {
		writeJSONError(w, http.StatusBadRequest, "limit must be positive")
		return
	}

	total := len(rows)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	page := source.Page{
		Records:    append([]record.Record(nil), rows[start:end]...),
		TotalCount: total,
	}
	writeJSON(w, http.StatusOK, page)
}

func (m *MockBackend) handleInsert(w http.ResponseWriter, r *http.Request, collection string) {
	m.mu.Lock()
	writeStatus := m.writeStatus
	m.mu.Unlock()
	if writeStatus != 0 {
		writeJSONError(w, writeStatus, "injected write failure")
		return
	}

	var rec record.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad record payload")
		return
	}

	m.mu.Lock()
	m.collections[collection] = append(m.collections[collection], rec)
	m.mu.Unlock()

	writeJSON(w, http.StatusCreated, rec)
}

func (m *MockBackend) handleUpdate(w http.ResponseWriter, r *http.Request, collection, id string) {
	m.mu.Lock()
	writeStatus := m.writeStatus
	m.mu.Unlock()
	if writeStatus != 0 {
		writeJSONError(w, writeStatus, "injected write failure")
		return
	}

	var rec record.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad record payload")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.collections[collection]
	for i := range rows {
		if rows[i].ID == id {
			rows[i] = rec
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}
	writeJSONError(w, http.StatusConflict, fmt.Sprintf("record %s not found", id))
}

func (m *MockBackend) handleDelete(w http.ResponseWriter, r *http.Request, collection string) {
	m.mu.Lock()
	writeStatus := m.writeStatus
	m.mu.Unlock()
	if writeStatus != 0 {
		writeJSONError(w, writeStatus, "injected write failure")
		return
	}

	ids := strings.Split(r.URL.Query().Get("ids"), ",")
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.collections[collection]
	kept := rows[:0]
	for _, row := range rows {
		if _, gone := drop[row.ID]; !gone {
			kept = append(kept, row)
		}
	}
	m.collections[collection] = kept

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// MakeRecords builds n sequential fixture records with IDs
// "{prefix}-1".."{prefix}-n".
func MakeRecords(prefix string, n int) []record.Record {
	recs := make([]record.Record, 0, n)
	for i := 1; i <= n; i++ {
		recs = append(recs, record.Record{
			ID:      fmt.Sprintf("%s-%d", prefix, i),
			Name:    fmt.Sprintf("Record %d", i),
			Status:  record.StatusLead,
			Revenue: float64(i * 100),
		})
	}
	return recs
}
