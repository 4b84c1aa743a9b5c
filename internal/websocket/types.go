package websocket

import (
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeSubstitution reports per-stage substitution counts of a generation
	EventTypeSubstitution EventType = "substitution"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// StageCount is the outcome of one substitution stage. Values are never included.
type StageCount struct {
	Stage    string `json:"stage"`
	Replaced int    `json:"replaced"`
	NoMatch  int    `json:"no_match"`
}

// SubstitutionEvent summarizes the substitutions of one generation
type SubstitutionEvent struct {
	RequestID       string       `json:"request_id"`
	Project         string       `json:"project"`
	DocumentType    string       `json:"document_type"`
	Stages          []StageCount `json:"stages"`
	ProtectedBlocks int          `json:"protected_blocks"`
	Generated       bool         `json:"generated"`
	ProcessingMS    float64      `json:"processing_ms"`
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	RequestID    string            `json:"request_id"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	StatusCode   int               `json:"status_code"`
	ClientIP     string            `json:"client_ip"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Duration     time.Duration     `json:"duration"`
	RequestSize  int64             `json:"request_size"`
	ResponseSize int64             `json:"response_size"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRequests    int64  `json:"total_requests"`
	TotalGenerations int64  `json:"total_generations"`
	ConnectedClients int    `json:"connected_clients"`
	MemoryUsage      string `json:"memory_usage"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter represents filtering options for events
type EventFilter struct {
	Projects      []string `json:"projects,omitempty"`
	PathPrefixes  []string `json:"path_prefixes,omitempty"`
	ExcludeHealth bool     `json:"exclude_health,omitempty"`
}

// Match reports whether event passes the filter
func (f *EventFilter) Match(event Event) bool {
	switch data := event.Data.(type) {
	case SubstitutionEvent:
		return len(f.Projects) == 0 || contains(f.Projects, data.Project)
	case RequestLogEvent:
		if f.ExcludeHealth && data.Path == "/health" {
			return false
		}
		if len(f.PathPrefixes) == 0 {
			return true
		}
		for _, prefix := range f.PathPrefixes {
			if strings.HasPrefix(data.Path, prefix) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
