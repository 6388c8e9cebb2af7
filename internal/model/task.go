package model

import (
	"time"
)

// TaskStatus is the lifecycle state of a dialer task, and also the status
// recorded on each of its events.
type TaskStatus string

const (
	TaskStatusInitiated         TaskStatus = "initiated"
	TaskStatusBatching          TaskStatus = "batching"
	TaskStatusBatchingProcessed TaskStatus = "batching_processed"
	TaskStatusConstructing      TaskStatus = "constructing"
	TaskStatusConstructed       TaskStatus = "constructed"
	TaskStatusConstructFailed   TaskStatus = "construct_failed"
	TaskStatusSending           TaskStatus = "sending"
	TaskStatusSent              TaskStatus = "sent"
	TaskStatusSentFailure       TaskStatus = "sent_failure"
	TaskStatusPartialFailure    TaskStatus = "partial_failure"
	TaskStatusFailure           TaskStatus = "failure"
	TaskStatusSuccess           TaskStatus = "success"
)

// Event-only statuses.
const (
	EventConstructProcessed TaskStatus = "construct_processed"
	EventSweepFailure       TaskStatus = "sweep_failure"
	EventDeadLetterRetried  TaskStatus = "dead_letter_retried"
)

// DialerTask is one logical batch job, one per rank per day.
type DialerTask struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	TaskDate  time.Time  `json:"task_date"`
	Rank      int        `json:"rank"`
	Status    TaskStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DialerTaskEvent is an append-only progress row for a dialer task.
type DialerTaskEvent struct {
	ID           int64          `json:"id"`
	DialerTaskID string         `json:"dialer_task_id"`
	Status       TaskStatus     `json:"status"`
	Data         map[string]any `json:"data,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// IntData reads an integer field from the event data. JSON round-trips turn
// numbers into float64, so both are accepted.
func (e DialerTaskEvent) IntData(key string) (int, bool) {
	switch v := e.Data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// BatchRef locates one populated batch in the scratch store.
type BatchRef struct {
	DialerTaskID string    `json:"dialer_task_id"`
	Rank         int       `json:"rank"`
	TaskDate     time.Time `json:"task_date"`
	BatchNumber  int       `json:"batch_number"`
	Key          string    `json:"key"`
}

// ChunkRef identifies one send chunk: the constructed records submitted as a
// single vendor task.
type ChunkRef struct {
	DialerTaskID string    `json:"dialer_task_id"`
	Rank         int       `json:"rank"`
	GroupName    string    `json:"group_name"`
	TaskDate     time.Time `json:"task_date"`
	ChunkIndex   int       `json:"chunk_index"`
	RecordIDs    []int64   `json:"record_ids"`
}

// SendPlan is the ordered list of chunks to submit for one rank's task.
type SendPlan struct {
	DialerTaskID string     `json:"dialer_task_id"`
	Rank         int        `json:"rank"`
	Chunks       []ChunkRef `json:"chunks"`
}

// VendorTask maps a task created at the dialer vendor back to the chunk that
// produced it.
type VendorTask struct {
	VendorTaskID string    `json:"vendor_task_id"`
	DialerTaskID string    `json:"dialer_task_id"`
	Rank         int       `json:"rank"`
	ChunkIndex   int       `json:"chunk_index"`
	GroupName    string    `json:"group_name"`
	Contacts     int       `json:"contacts"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	CreatedAt    time.Time `json:"created_at"`
}

// FeatureSetting is a runtime flag with free-form parameters.
type FeatureSetting struct {
	Name       string         `json:"name"`
	IsActive   bool           `json:"is_active"`
	Parameters map[string]any `json:"parameters,omitempty"`
}
