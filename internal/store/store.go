package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/dialer-cli/internal/db"
	"github.com/sells-group/dialer-cli/internal/model"
)

var (
	// ErrTaskNotFound is returned when no dialer task matches.
	ErrTaskNotFound = errors.New("store: dialer task not found")
	// ErrVendorTaskNotFound is returned when no vendor task matches.
	ErrVendorTaskNotFound = errors.New("store: vendor task not found")
	// ErrFeatureNotFound is returned when a feature setting does not exist.
	ErrFeatureNotFound = errors.New("store: feature setting not found")
)

// TaskFilter specifies criteria for listing dialer tasks.
type TaskFilter struct {
	Date   *time.Time       `json:"date,omitempty"`
	Status model.TaskStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
}

// Store defines the persistence interface for the dialer pipeline.
type Store interface {
	// Dialer tasks
	CreateDialerTask(ctx context.Context, taskType string, rank int, date time.Time) (*model.DialerTask, error)
	GetDialerTask(ctx context.Context, taskType string, date time.Time) (*model.DialerTask, error)
	GetDialerTaskByID(ctx context.Context, id string) (*model.DialerTask, error)
	UpdateDialerTaskStatus(ctx context.Context, id string, status model.TaskStatus, errMsg string) error
	ListDialerTasks(ctx context.Context, filter TaskFilter) ([]model.DialerTask, error)

	// Task events
	RecordTaskEvent(ctx context.Context, taskID string, status model.TaskStatus, data map[string]any) error
	RecordTaskEvents(ctx context.Context, events []model.DialerTaskEvent) (int64, error)
	ListTaskEvents(ctx context.Context, taskID string) ([]model.DialerTaskEvent, error)
	LatestTaskEvent(ctx context.Context, taskID string, status model.TaskStatus) (*model.DialerTaskEvent, error)
	ProcessedBatches(ctx context.Context, taskID string) ([]int, error)

	// Source accounts
	ListEligibleAccounts(ctx context.Context, rank model.Rank, asOf time.Time) ([]model.Account, error)
	GetAccountDetails(ctx context.Context, accountPaymentIDs []int64) ([]model.AccountDetail, error)

	// Constructed records
	UpsertConstructed(ctx context.Context, records []model.ConstructedRecord) (int64, error)
	ListConstructedIDs(ctx context.Context, date time.Time, rank int) ([]int64, error)
	ListConstructed(ctx context.Context, date time.Time, rank int) ([]model.ConstructedRecord, error)
	GetConstructedByIDs(ctx context.Context, ids []int64) ([]model.ConstructedRecord, error)
	PurgeConstructed(ctx context.Context, before time.Time) (int64, error)

	// Vendor tasks
	SaveVendorTask(ctx context.Context, vt model.VendorTask) error
	GetVendorTask(ctx context.Context, vendorTaskID string) (*model.VendorTask, error)
	GetVendorTaskByChunk(ctx context.Context, dialerTaskID string, chunkIndex int) (*model.VendorTask, error)
	ListVendorTasks(ctx context.Context, dialerTaskID string) ([]model.VendorTask, error)
	ListVendorTasksBetween(ctx context.Context, from, to time.Time) ([]model.VendorTask, error)

	// Call results
	UpsertCallResults(ctx context.Context, results []model.CallResult) (int64, error)

	// Dead letters
	EnqueueDeadLetter(ctx context.Context, dl model.DeadLetter) error
	DequeueDeadLetters(ctx context.Context, filter model.DeadLetterFilter) ([]model.DeadLetter, error)
	IncrementDeadLetterRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDeadLetter(ctx context.Context, id string) error
	CountDeadLetters(ctx context.Context) (int, error)

	// Feature settings
	GetFeatureSetting(ctx context.Context, name string) (*model.FeatureSetting, error)
	UpsertFeatureSetting(ctx context.Context, fs model.FeatureSetting) error

	// Lifecycle
	Pool() db.Pool
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
