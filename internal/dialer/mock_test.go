package dialer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/dialer-cli/internal/db"
	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/internal/monitoring"
	"github.com/sells-group/dialer-cli/internal/scratch"
	"github.com/sells-group/dialer-cli/internal/store"
)

// --- Store fake ---

// memStore is an in-memory store.Store with the same keying rules as the
// Postgres schema.
type memStore struct {
	mu sync.Mutex

	tasks       map[string]*model.DialerTask
	events      []model.DialerTaskEvent
	accounts    map[int][]model.Account
	details     map[int64]model.AccountDetail
	constructed map[string]*model.ConstructedRecord // date|customer
	nextRecID   int64
	vendor      map[string]model.VendorTask
	calls       map[string]model.CallResult
	deadLetters map[string]model.DeadLetter
	features    map[string]model.FeatureSetting

	failAccounts  error
	failDetails   error
	statusHistory map[string][]model.TaskStatus
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		tasks:         make(map[string]*model.DialerTask),
		accounts:      make(map[int][]model.Account),
		details:       make(map[int64]model.AccountDetail),
		constructed:   make(map[string]*model.ConstructedRecord),
		vendor:        make(map[string]model.VendorTask),
		calls:         make(map[string]model.CallResult),
		deadLetters:   make(map[string]model.DeadLetter),
		features:      make(map[string]model.FeatureSetting),
		statusHistory: make(map[string][]model.TaskStatus),
	}
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

func (m *memStore) CreateDialerTask(_ context.Context, taskType string, rank int, date time.Time) (*model.DialerTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.Type == taskType && dayKey(t.TaskDate) == dayKey(date) {
			cp := *t
			return &cp, nil
		}
	}
	t := &model.DialerTask{
		ID:       fmt.Sprintf("task-%d-%s", rank, dayKey(date)),
		Type:     taskType,
		TaskDate: date,
		Rank:     rank,
		Status:   model.TaskStatusInitiated,
	}
	m.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (m *memStore) GetDialerTask(_ context.Context, taskType string, date time.Time) (*model.DialerTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.Type == taskType && dayKey(t.TaskDate) == dayKey(date) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrTaskNotFound
}

func (m *memStore) GetDialerTaskByID(_ context.Context, id string) (*model.DialerTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) UpdateDialerTaskStatus(_ context.Context, id string, status model.TaskStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.Status = status
	t.Error = errMsg
	m.statusHistory[id] = append(m.statusHistory[id], status)
	return nil
}

func (m *memStore) ListDialerTasks(_ context.Context, filter store.TaskFilter) ([]model.DialerTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DialerTask
	for _, t := range m.tasks {
		if filter.Date != nil && dayKey(t.TaskDate) != dayKey(*filter.Date) {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (m *memStore) RecordTaskEvent(_ context.Context, taskID string, status model.TaskStatus, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, model.DialerTaskEvent{
		ID:           int64(len(m.events) + 1),
		DialerTaskID: taskID,
		Status:       status,
		Data:         data,
	})
	return nil
}

func (m *memStore) RecordTaskEvents(ctx context.Context, events []model.DialerTaskEvent) (int64, error) {
	for _, e := range events {
		if err := m.RecordTaskEvent(ctx, e.DialerTaskID, e.Status, e.Data); err != nil {
			return 0, err
		}
	}
	return int64(len(events)), nil
}

func (m *memStore) ListTaskEvents(_ context.Context, taskID string) ([]model.DialerTaskEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DialerTaskEvent
	for _, e := range m.events {
		if e.DialerTaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) LatestTaskEvent(_ context.Context, taskID string, status model.TaskStatus) (*model.DialerTaskEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if e.DialerTaskID == taskID && e.Status == status {
			return &e, nil
		}
	}
	return nil, nil
}

func (m *memStore) ProcessedBatches(_ context.Context, taskID string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int]bool)
	var out []int
	for _, e := range m.events {
		if e.DialerTaskID != taskID || e.Status != model.EventConstructProcessed {
			continue
		}
		b, ok := e.IntData("batch")
		if ok && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (m *memStore) ListEligibleAccounts(_ context.Context, rank model.Rank, _ time.Time) ([]model.Account, error) {
	if m.failAccounts != nil {
		return nil, m.failAccounts
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[rank.ID], nil
}

func (m *memStore) GetAccountDetails(_ context.Context, ids []int64) ([]model.AccountDetail, error) {
	if m.failDetails != nil {
		return nil, m.failDetails
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AccountDetail
	for _, id := range ids {
		if d, ok := m.details[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) UpsertConstructed(_ context.Context, records []model.ConstructedRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range records {
		key := fmt.Sprintf("%s|%d", dayKey(r.TaskDate), r.CustomerID)
		cur, ok := m.constructed[key]
		if ok && outranks(cur, &r) {
			continue
		}
		if ok {
			r.ID = cur.ID
		} else {
			m.nextRecID++
			r.ID = m.nextRecID
		}
		rec := r
		m.constructed[key] = &rec
		n++
	}
	return n, nil
}

// outranks mirrors the Postgres upsert guard: lower sort_order, then
// higher DPD, then lower account payment id.
func outranks(a, b *model.ConstructedRecord) bool {
	if a.SortOrder != b.SortOrder {
		return a.SortOrder < b.SortOrder
	}
	if a.DPD != b.DPD {
		return a.DPD > b.DPD
	}
	return a.AccountPaymentID < b.AccountPaymentID
}

func (m *memStore) sortedConstructed(date time.Time, rank int) []model.ConstructedRecord {
	var out []model.ConstructedRecord
	for _, r := range m.constructed {
		if dayKey(r.TaskDate) == dayKey(date) && (rank == 0 || r.SortOrder == rank) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DPD != out[j].DPD {
			return out[i].DPD > out[j].DPD
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memStore) ListConstructedIDs(_ context.Context, date time.Time, rank int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, r := range m.sortedConstructed(date, rank) {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (m *memStore) ListConstructed(_ context.Context, date time.Time, rank int) ([]model.ConstructedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedConstructed(date, rank), nil
}

func (m *memStore) GetConstructedByIDs(_ context.Context, ids []int64) ([]model.ConstructedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.ConstructedRecord
	for _, r := range m.constructed {
		if want[r.ID] {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DPD != out[j].DPD {
			return out[i].DPD > out[j].DPD
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) PurgeConstructed(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, r := range m.constructed {
		if r.TaskDate.Before(before) {
			delete(m.constructed, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) SaveVendorTask(_ context.Context, vt model.VendorTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vendor[vt.VendorTaskID] = vt
	return nil
}

func (m *memStore) GetVendorTask(_ context.Context, id string) (*model.VendorTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vt, ok := m.vendor[id]
	if !ok {
		return nil, store.ErrVendorTaskNotFound
	}
	return &vt, nil
}

func (m *memStore) GetVendorTaskByChunk(_ context.Context, dialerTaskID string, chunk int) (*model.VendorTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, vt := range m.vendor {
		if vt.DialerTaskID == dialerTaskID && vt.ChunkIndex == chunk {
			cp := vt
			return &cp, nil
		}
	}
	return nil, store.ErrVendorTaskNotFound
}

func (m *memStore) ListVendorTasks(_ context.Context, dialerTaskID string) ([]model.VendorTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.VendorTask
	for _, vt := range m.vendor {
		if vt.DialerTaskID == dialerTaskID {
			out = append(out, vt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (m *memStore) ListVendorTasksBetween(_ context.Context, from, to time.Time) ([]model.VendorTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.VendorTask
	for _, vt := range m.vendor {
		if vt.StartTime.Before(to) && vt.EndTime.After(from) {
			out = append(out, vt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VendorTaskID < out[j].VendorTaskID })
	return out, nil
}

func (m *memStore) UpsertCallResults(_ context.Context, results []model.CallResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		if cur, ok := m.calls[r.CallID]; ok && cur.EndTime != nil && r.EndTime == nil {
			continue
		}
		m.calls[r.CallID] = r
	}
	return int64(len(results)), nil
}

func (m *memStore) EnqueueDeadLetter(_ context.Context, dl model.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters[dl.ID] = dl
	return nil
}

func (m *memStore) DequeueDeadLetters(_ context.Context, filter model.DeadLetterFilter) ([]model.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DeadLetter
	for _, dl := range m.deadLetters {
		if !filter.IncludeNotDue && (dl.NextRetryAt.After(time.Now()) || !dl.CanRetry()) {
			continue
		}
		if filter.DialerTaskID != "" && dl.DialerTaskID != filter.DialerTaskID {
			continue
		}
		if filter.ErrorType != "" && dl.ErrorType != filter.ErrorType {
			continue
		}
		out = append(out, dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) IncrementDeadLetterRetry(_ context.Context, id string, next time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.deadLetters[id]
	if !ok {
		return fmt.Errorf("dead letter %s not found", id)
	}
	dl.RetryCount++
	dl.NextRetryAt = next
	dl.Error = lastErr
	m.deadLetters[id] = dl
	return nil
}

func (m *memStore) RemoveDeadLetter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadLetters, id)
	return nil
}

func (m *memStore) CountDeadLetters(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deadLetters), nil
}

func (m *memStore) GetFeatureSetting(_ context.Context, name string) (*model.FeatureSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.features[name]
	if !ok {
		return nil, store.ErrFeatureNotFound
	}
	return &fs, nil
}

func (m *memStore) UpsertFeatureSetting(_ context.Context, fs model.FeatureSetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features[fs.Name] = fs
	return nil
}

func (m *memStore) Pool() db.Pool { return nil }

func (m *memStore) Migrate(context.Context) error { return nil }

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) Close() error { return nil }

func (m *memStore) eventsWithStatus(taskID string, status model.TaskStatus) []model.DialerTaskEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DialerTaskEvent
	for _, e := range m.events {
		if e.DialerTaskID == taskID && e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) task(id string) model.DialerTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tasks[id]
}

// --- Scratch fake ---

type memScratch struct {
	mu   sync.Mutex
	data map[string][]int64
	ttls map[string]time.Duration
}

var _ scratch.Store = (*memScratch)(nil)

func newMemScratch() *memScratch {
	return &memScratch{data: make(map[string][]int64), ttls: make(map[string]time.Duration)}
}

func (s *memScratch) SetIDs(_ context.Context, key string, ids []int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]int64(nil), ids...)
	s.ttls[key] = ttl
	return nil
}

func (s *memScratch) GetIDs(_ context.Context, key string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.data[key]
	if !ok {
		return nil, scratch.ErrNotFound
	}
	return ids, nil
}

func (s *memScratch) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *memScratch) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memScratch) Close() error { return nil }

// --- Alert recorder ---

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []monitoring.Alert
}

func (r *recordingNotifier) Notify(_ context.Context, a monitoring.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingNotifier) types() []monitoring.AlertType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]monitoring.AlertType, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Type
	}
	return out
}
