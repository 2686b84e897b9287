package websocket

import (
	"time"

	"github.com/Saturday-Vinyl/machine-link/internal/events"
	"github.com/google/uuid"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeStateChanged MessageType = "state_changed"
	MessageTypeStatusReport MessageType = "status_report"
	MessageTypeProgress     MessageType = "progress"
	MessageTypeJobFinished  MessageType = "job_finished"
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	JobID     string      `json:"job_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// FromEvent converts a machine-link event into its wire form.
func FromEvent(ev events.Event) Message {
	msg := Message{
		Type:      MessageType(ev.Type),
		Timestamp: ev.Timestamp,
		Data:      ev.Data,
	}
	if ev.JobID != uuid.Nil {
		msg.JobID = ev.JobID.String()
	}
	return msg
}
