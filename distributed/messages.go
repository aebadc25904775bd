// Package distributed provides message types, events and pubsub transport for
// running the crawl across a coordinator and worker processes.
package distributed

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/researchaccelerator-hub/media-atlas/model"
)

// Message Types
const (
	MessageTypeWorkItem   = "work_item"
	MessageTypeWorkResult = "work_result"

	MessageTypeHeartbeat      = "heartbeat"
	MessageTypeWorkerStarted  = "worker_started"
	MessageTypeWorkerStopping = "worker_stopping"
)

// Status Values
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusRetry   = "retry"
	StatusSkipped = "skipped"

	WorkerStatusActive  = "active"
	WorkerStatusIdle    = "idle"
	WorkerStatusBusy    = "busy"
	WorkerStatusOffline = "offline"
)

// Page kinds carried on work items.
const (
	PageKindHomepage = "homepage"
	PageKindArticle  = "article"
)

// Topic Names (should match config defaults)
const (
	TopicWorkQueue    = "atlas-work-queue"
	TopicResults      = "atlas-results"
	TopicWorkerStatus = "atlas-worker-status"
)

// WorkItem is one leased fetch handed to a worker.
type WorkItem struct {
	ID        string     `json:"id"` // lease id
	URL       string     `json:"url"`
	Domain    string     `json:"domain"`
	Kind      string     `json:"kind"`
	Tier      model.Tier `json:"tier"`
	Attempt   int        `json:"attempt"`
	CrawlID   string     `json:"crawl_id"`
	CreatedAt time.Time  `json:"created_at"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	TraceID   string     `json:"trace_id,omitempty"`
}

// PageResult is what a worker learned from one page. Article text never
// leaves the worker.
type PageResult struct {
	Fingerprint *uint64                `json:"fingerprint,omitempty"`
	Links       []string               `json:"links,omitempty"`
	Citations   []string               `json:"citations,omitempty"`
	Article     *model.ArticleMetadata `json:"article,omitempty"`
}

// WorkResult represents the result of a completed work item
type WorkResult struct {
	WorkItemID     string        `json:"work_item_id"`
	WorkerID       string        `json:"worker_id"`
	URL            string        `json:"url"`
	Domain         string        `json:"domain"`
	Kind           string        `json:"kind"`
	Status         string        `json:"status"`
	Error          string        `json:"error,omitempty"`
	Page           *PageResult   `json:"page,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	CompletedAt    time.Time     `json:"completed_at"`
	TraceID        string        `json:"trace_id,omitempty"`
}

// StatusMessage represents worker status for heartbeats
type StatusMessage struct {
	MessageType    string        `json:"message_type"` // "heartbeat", "worker_started", "worker_stopping"
	WorkerID       string        `json:"worker_id"`
	Status         string        `json:"status"`
	CurrentWork    *string       `json:"current_work,omitempty"`
	TasksProcessed int           `json:"tasks_processed"`
	TasksSuccess   int           `json:"tasks_success"`
	TasksError     int           `json:"tasks_error"`
	Timestamp      time.Time     `json:"timestamp"`
	Uptime         time.Duration `json:"uptime"`
	TraceID        string        `json:"trace_id,omitempty"`
}

// NewStatusMessage creates a new status message
func NewStatusMessage(workerID, messageType, status string, tasksProcessed, tasksSuccess, tasksError int, uptime time.Duration) StatusMessage {
	return StatusMessage{
		MessageType:    messageType,
		WorkerID:       workerID,
		Status:         status,
		TasksProcessed: tasksProcessed,
		TasksSuccess:   tasksSuccess,
		TasksError:     tasksError,
		Timestamp:      time.Now(),
		Uptime:         uptime,
		TraceID:        generateTraceID(),
	}
}

// generateTraceID generates a trace ID for distributed tracing
func generateTraceID() string {
	return "trace_" + uuid.New().String()
}

// Validate validates a WorkItem
func (w *WorkItem) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("work item ID cannot be empty")
	}
	if w.URL == "" {
		return fmt.Errorf("work item URL cannot be empty")
	}
	if w.Domain == "" {
		return fmt.Errorf("work item domain cannot be empty")
	}
	if w.Kind != PageKindHomepage && w.Kind != PageKindArticle {
		return fmt.Errorf("unsupported page kind: %s", w.Kind)
	}
	if !w.Tier.Valid() {
		return fmt.Errorf("invalid tier: %d", w.Tier)
	}
	return nil
}

// Validate validates a WorkResult
func (w *WorkResult) Validate() error {
	if w.WorkItemID == "" {
		return fmt.Errorf("work result WorkItemID cannot be empty")
	}
	if w.WorkerID == "" {
		return fmt.Errorf("work result WorkerID cannot be empty")
	}
	switch w.Status {
	case StatusSuccess, StatusError, StatusRetry, StatusSkipped:
	default:
		return fmt.Errorf("invalid status: %s", w.Status)
	}
	if (w.Status == StatusError || w.Status == StatusRetry) && w.Error == "" {
		return fmt.Errorf("%s status requires error message", w.Status)
	}
	return nil
}

// Validate validates a StatusMessage
func (s *StatusMessage) Validate() error {
	if s.WorkerID == "" {
		return fmt.Errorf("status message WorkerID cannot be empty")
	}

	switch s.MessageType {
	case MessageTypeHeartbeat, MessageTypeWorkerStarted, MessageTypeWorkerStopping:
	default:
		return fmt.Errorf("invalid message type: %s", s.MessageType)
	}

	switch s.Status {
	case WorkerStatusActive, WorkerStatusIdle, WorkerStatusBusy, WorkerStatusOffline:
	default:
		return fmt.Errorf("invalid status: %s", s.Status)
	}

	return nil
}
