package model

import "time"

// CallSource records which reconciliation path wrote a call result.
type CallSource string

const (
	CallSourceCallback CallSource = "callback"
	CallSourceSweep    CallSource = "sweep"
)

// CallResult is one call-history row, keyed by the vendor call id.
type CallResult struct {
	CallID           string     `json:"call_id"`
	VendorTaskID     string     `json:"vendor_task_id"`
	DialerTaskID     string     `json:"dialer_task_id"`
	AccountPaymentID int64      `json:"account_payment_id"`
	CustomerID       int64      `json:"customer_id"`
	PhoneNumber      string     `json:"phone_number"`
	State            string     `json:"state"`
	HangupReason     string     `json:"hangup_reason,omitempty"`
	CallResult       string     `json:"call_result,omitempty"`
	AgentName        string     `json:"agent_name,omitempty"`
	RingDuration     int        `json:"ring_duration"`
	TalkDuration     int        `json:"talk_duration"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	RecordingURL     string     `json:"recording_url,omitempty"`
	Source           CallSource `json:"source"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// DeadLetter is a send chunk that exhausted its retries.
type DeadLetter struct {
	ID           string    `json:"id"`
	DialerTaskID string    `json:"dialer_task_id"`
	Phase        string    `json:"phase"`
	Chunk        ChunkRef  `json:"chunk"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (d *DeadLetter) CanRetry() bool {
	return d.RetryCount < d.MaxRetries
}

// DeadLetterFilter specifies criteria for querying dead letters.
type DeadLetterFilter struct {
	DialerTaskID string `json:"dialer_task_id,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	// IncludeNotDue lists entries regardless of next_retry_at and retry budget.
	IncludeNotDue bool `json:"include_not_due,omitempty"`
}
