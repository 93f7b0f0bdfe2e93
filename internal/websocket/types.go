package websocket

import (
	"time"

	"github.com/complyark/pii-sentinel/internal/pii"

	gorilla "github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeDetection represents a PII detection event
	EventTypeDetection EventType = "detection"
	// EventTypeRuleChange represents a rule lifecycle event
	EventTypeRuleChange EventType = "rule_change"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// DetectionEvent carries the outcome of a detection pass. Finding
// contents are already masked by the engine.
type DetectionEvent struct {
	RequestID     string        `json:"request_id"`
	ConnectorType string        `json:"connector_type,omitempty"`
	DataSource    string        `json:"data_source,omitempty"`
	Findings      []pii.Finding `json:"findings"`
	TotalFindings int           `json:"total_findings"`
	Method        string        `json:"method"`
	ProcessingMS  float64       `json:"processing_ms"`
}

// RuleChangeEvent describes a rule lifecycle transition.
type RuleChangeEvent struct {
	Action   string `json:"action"` // "created", "updated", "deleted"
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name,omitempty"`
	Version  int    `json:"version,omitempty"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRequests    int64  `json:"total_requests"`
	TotalDetections  int64  `json:"total_detections"`
	ActiveRules      int    `json:"active_rules"`
	ConnectedClients int    `json:"connected_clients"`
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
	MinSensitivity string   `json:"min_sensitivity,omitempty"`
	PIITypes       []string `json:"pii_types,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *gorilla.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
