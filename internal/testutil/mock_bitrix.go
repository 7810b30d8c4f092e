// Package testutil provides testing utilities for the Bitrix24 report bridge.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// WebhookPath is the path part of the mock webhook URL.
const WebhookPath = "/rest/1/testtoken/"

// MaxPageSize mirrors the server-side cap Bitrix24 applies to list methods.
const MaxPageSize = 50

// ListRequest is a decoded crm.item.list request body.
type ListRequest struct {
	EntityTypeID int            `json:"entityTypeId"`
	Filter       map[string]any `json:"filter"`
	Start        int            `json:"start"`
	Limit        int            `json:"limit"`
}

// MockResponse defines a canned response for a method.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockBitrix is a configurable mock Bitrix24 webhook server.
// By default crm.item.list pages through Items honoring start and the page cap.
type MockBitrix struct {
	server *httptest.Server

	mu        sync.RWMutex
	items     []map[string]any
	handlers  map[string]func(w http.ResponseWriter, r *http.Request)
	failAt    int
	failBody  string
	timing    map[string]any
	requests  []ListRequest
	rawBodies []string
}

// NewMockBitrix creates a new mock server.
func NewMockBitrix() *MockBitrix {
	mock := &MockBitrix{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failAt:   -1,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, WebhookPath)

		mock.mu.RLock()
		handler, exists := mock.handlers[method]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		if method == "crm.item.list" {
			mock.listHandler(w, r)
			return
		}

		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "ERROR_METHOD_NOT_FOUND",
			"error_description": "Method not found!",
		})
	}))

	return mock
}

// URL returns the webhook base URL (with trailing slash).
func (m *MockBitrix) URL() string {
	return m.server.URL + WebhookPath
}

// Close shuts down the mock server.
func (m *MockBitrix) Close() {
	m.server.Close()
}

// SetItems replaces the dataset served by crm.item.list.
func (m *MockBitrix) SetItems(items []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
}

// SetItemCount fills the dataset with n generated items with ids 1..n.
func (m *MockBitrix) SetItemCount(n int) {
	m.SetItems(GenerateItems(n))
}

// FailOnRequest makes the n-th crm.item.list request (1-based) return an API error.
func (m *MockBitrix) FailOnRequest(n int, code, description string) {
	body, _ := json.Marshal(map[string]any{"error": code, "error_description": description})
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = n
	m.failBody = string(body)
}

// SetTiming sets the "time" block attached to successful crm.item.list responses.
func (m *MockBitrix) SetTiming(operating float64, resetAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timing = map[string]any{
		"start":              float64(time.Now().Unix()),
		"operating":          operating,
		"operating_reset_at": resetAt.Unix(),
	}
}

// SetHandler sets a custom handler for a method.
func (m *MockBitrix) SetHandler(method string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = handler
}

// SetResponse configures a canned response for a method.
func (m *MockBitrix) SetResponse(method string, resp MockResponse) {
	m.SetHandler(method, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of crm.item.list requests served.
func (m *MockBitrix) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// Requests returns the decoded crm.item.list requests in arrival order.
func (m *MockBitrix) Requests() []ListRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ListRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RawBodies returns the raw crm.item.list request bodies in arrival order.
func (m *MockBitrix) RawBodies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.rawBodies))
	copy(out, m.rawBodies)
	return out
}

func (m *MockBitrix) listHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "INVALID_REQUEST", "error_description": "POST expected"})
		return
	}

	raw, _ := io.ReadAll(r.Body)
	var req ListRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "INVALID_REQUEST", "error_description": err.Error()})
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.rawBodies = append(m.rawBodies, string(raw))
	n := len(m.requests)
	failAt, failBody := m.failAt, m.failBody
	items := m.items
	timing := m.timing
	m.mu.Unlock()

	if n == failAt {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(failBody))
		return
	}

	size := req.Limit
	if size <= 0 || size > MaxPageSize {
		size = MaxPageSize
	}
	start := req.Start
	if start < 0 {
		start = 0
	}
	page := []map[string]any{}
	if start < len(items) {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		page = items[start:end]
	}

	resp := map[string]any{
		"result": map[string]any{"items": page},
		"total":  len(items),
	}
	if start+len(page) < len(items) {
		resp["next"] = start + len(page)
	}
	if timing != nil {
		resp["time"] = timing
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// GenerateItems builds n report-shaped items with ids 1..n.
func GenerateItems(n int) []map[string]any {
	items := make([]map[string]any, n)
	for i := range items {
		id := i + 1
		items[i] = map[string]any{
			"id":              id,
			"taskId":          fmt.Sprintf("T-%d", id),
			"taskName":        fmt.Sprintf("Task %d", id),
			"projectName":     "Internal",
			"hierarchyIds":    []string{"1", fmt.Sprintf("%d", id)},
			"hierarchyTitles": []string{"Root", fmt.Sprintf("Task %d", id)},
			"hours":           1.5,
			"type":            "Учитываемые",
			"date":            "2024-01-15",
			"employeeId":      "42",
		}
	}
	return items
}

// NewAPIErrorResponse creates a 200 response carrying an API error envelope.
func NewAPIErrorResponse(code, description string) MockResponse {
	body, _ := json.Marshal(map[string]any{"error": code, "error_description": description})
	return MockResponse{StatusCode: http.StatusOK, Body: string(body)}
}

// NewServerErrorResponse creates a 500 response without an API error envelope.
func NewServerErrorResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusInternalServerError, Body: "<html>Internal Server Error</html>"}
}
