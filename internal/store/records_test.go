package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dialer-cli/internal/model"
)

func TestPostgresStore_ListEligibleAccounts(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rank := model.Rank{ID: 2, MinDPD: 2, MaxDPD: 90, MinOutstanding: 100_000, MaxOutstanding: 700_000}

	mock.ExpectQuery(`WITH unpaid AS .* NOT EXISTS .* lending.ptp`).
		WithArgs(testDate, 2, 90, int64(100_000), int64(700_000)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "customer_id", "dpd", "outstanding"}).
			AddRow(int64(11), int64(101), 5, "250000.00").
			AddRow(int64(12), int64(102), 40, "650000.50"))

	accounts, err := s.ListEligibleAccounts(context.Background(), rank, testDate.Add(9*time.Hour))
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, int64(102), accounts[1].CustomerID)
	assert.Equal(t, 40, accounts[1].DPD)
	assert.True(t, decimal.RequireFromString("650000.50").Equal(accounts[1].Outstanding))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEligibleAccounts_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WITH unpaid AS`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("relation does not exist"))

	_, err := s.ListEligibleAccounts(context.Background(), model.Rank{ID: 7}, testDate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rank 7")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAccountDetails_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	details, err := s.GetAccountDetails(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAccountDetails_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM lending.account_payments ap .* WHERE ap.id = ANY\(\$1\)`).
		WithArgs([]int64{1, 2}).
		WillReturnError(errors.New("timeout"))

	_, err := s.GetAccountDetails(context.Background(), []int64{1, 2})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertConstructed_PriorityGuard(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_dialer_constructed_records"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_dialer_constructed_records"}, constructedCols).
		WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("task_date", "customer_id"\) DO UPDATE SET .* WHERE ` + regexp.QuoteMeta(constructedPriority) + `$`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.UpsertConstructed(context.Background(), []model.ConstructedRecord{{
		TaskDate:   testDate,
		SortOrder:  1,
		CustomerID: 101,
		DPD:        5,
		DueAmount:  decimal.NewFromInt(100_000),
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListConstructedIDs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM dialer.constructed_records .* ORDER BY dpd DESC, id ASC`).
		WithArgs(testDate, 3).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)).AddRow(int64(4)))

	ids, err := s.ListConstructedIDs(context.Background(), testDate, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{9, 4}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func constructedRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "task_date", "dialer_task_id", "sort_order", "batch_number",
		"customer_id", "account_payment_id", "application_id", "loan_id",
		"full_name", "gender", "date_of_birth", "phone_number", "mobile_phone_2", "company_phone",
		"spouse_name", "spouse_phone", "kin_name", "kin_phone", "kin_relation",
		"address", "city", "partner_name", "product_type", "loan_purpose", "virtual_account",
		"dpd", "due_date", "due_amount", "installment_amount", "late_fee", "outstanding",
		"installment_number", "last_pay_date", "last_pay_amount",
	})
}

func TestPostgresStore_GetConstructedByIDs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM dialer.constructed_records WHERE id = ANY\(\$1\)`).
		WithArgs([]int64{5}).
		WillReturnRows(constructedRows().AddRow(
			int64(5), testDate, "task-1", 1, 2,
			int64(101), int64(11), int64(21), int64(31),
			"Budi Santoso", "Pria", "1990-01-02", "+628123456789", "", "",
			"", "", "", "", "",
			"Jl. Merdeka 1", "Jakarta", "grab", "GRAB", "modal",
			"988812345",
			12, "2026-10-05", "150000.00", "150000.00", "5000.00", "450000.00",
			3, "2026-09-05", "150000.00",
		))

	records, err := s.GetConstructedByIDs(context.Background(), []int64{5})
	require.NoError(t, err)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, "Budi Santoso", r.FullName)
	assert.Equal(t, 12, r.DPD)
	assert.Equal(t, "450000", r.Outstanding.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetConstructedByIDs_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	records, err := s.GetConstructedByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeConstructed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM dialer.constructed_records WHERE task_date < \$1`).
		WithArgs(testDate).
		WillReturnResult(pgxmock.NewResult("DELETE", 1200))

	n, err := s.PurgeConstructed(context.Background(), testDate)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func vendorRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"vendor_task_id", "dialer_task_id", "rank", "chunk_index", "group_name", "contacts", "start_time", "end_time", "created_at"})
}

func TestPostgresStore_SaveVendorTask(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	start := testDate.Add(8 * time.Hour)

	mock.ExpectExec(`INSERT INTO dialer.vendor_tasks .* ON CONFLICT \(vendor_task_id\) DO NOTHING`).
		WithArgs("vt-1", "task-1", 1, 0, "GRAB_B1_HIGH", 1000, start, start.Add(12*time.Hour), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveVendorTask(context.Background(), model.VendorTask{
		VendorTaskID: "vt-1", DialerTaskID: "task-1", Rank: 1, ChunkIndex: 0,
		GroupName: "GRAB_B1_HIGH", Contacts: 1000, StartTime: start, EndTime: start.Add(12 * time.Hour),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetVendorTask(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	start := testDate.Add(8 * time.Hour)

	mock.ExpectQuery(`FROM dialer.vendor_tasks WHERE vendor_task_id = \$1`).
		WithArgs("vt-1").
		WillReturnRows(vendorRows().AddRow("vt-1", "task-1", 1, 0, "GRAB_B1_HIGH", 1000, start, start.Add(time.Hour), start))
	mock.ExpectQuery(`FROM dialer.vendor_tasks WHERE vendor_task_id = \$1`).
		WithArgs("vt-x").
		WillReturnError(pgx.ErrNoRows)

	vt, err := s.GetVendorTask(context.Background(), "vt-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", vt.DialerTaskID)

	_, err = s.GetVendorTask(context.Background(), "vt-x")
	assert.ErrorIs(t, err, ErrVendorTaskNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetVendorTaskByChunk_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE dialer_task_id = \$1 AND chunk_index = \$2`).
		WithArgs("task-1", 4).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetVendorTaskByChunk(context.Background(), "task-1", 4)
	assert.ErrorIs(t, err, ErrVendorTaskNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListVendorTasksBetween(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	from := testDate.Add(9 * time.Hour)
	to := from.Add(10 * time.Minute)

	mock.ExpectQuery(`WHERE start_time < \$2 AND end_time > \$1`).
		WithArgs(from, to).
		WillReturnRows(vendorRows().
			AddRow("vt-1", "task-1", 1, 0, "G", 10, from.Add(-time.Hour), from.Add(time.Hour), from).
			AddRow("vt-2", "task-1", 1, 1, "G", 10, from.Add(-time.Hour), from.Add(time.Hour), from))

	tasks, err := s.ListVendorTasksBetween(context.Background(), from, to)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCallResults(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_dialer_call_results"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_dialer_call_results"}, callResultCols).
		WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("call_id"\) DO UPDATE SET .* WHERE call_results.end_time IS NULL OR EXCLUDED.end_time IS NOT NULL`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	end := testDate.Add(9 * time.Hour)
	n, err := s.UpsertCallResults(context.Background(), []model.CallResult{
		{CallID: "c1", State: "ringing", Source: model.CallSourceCallback},
		{CallID: "c1", State: "hangup", EndTime: &end, Source: model.CallSourceCallback},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupeCalls(t *testing.T) {
	end := testDate
	out := dedupeCalls([]model.CallResult{
		{CallID: "a", State: "talking"},
		{CallID: "b", State: "ringing"},
		{CallID: "a", State: "hangup", EndTime: &end},
		{CallID: "a", State: "talking"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "hangup", out[0].State)
	assert.Equal(t, "b", out[1].CallID)
}
