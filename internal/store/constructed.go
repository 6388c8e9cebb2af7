package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-cli/internal/db"
	"github.com/sells-group/dialer-cli/internal/model"
)

var constructedCols = []string{
	"task_date", "dialer_task_id", "sort_order", "batch_number",
	"customer_id", "account_payment_id", "application_id", "loan_id",
	"full_name", "gender", "date_of_birth", "phone_number", "mobile_phone_2", "company_phone",
	"spouse_name", "spouse_phone", "kin_name", "kin_phone", "kin_relation",
	"address", "city", "partner_name", "product_type", "loan_purpose", "virtual_account",
	"dpd", "due_date", "due_amount", "installment_amount", "late_fee", "outstanding",
	"installment_number", "last_pay_date", "last_pay_amount",
}

const constructedSelect = `SELECT id, task_date, dialer_task_id, sort_order, batch_number,
	customer_id, account_payment_id, application_id, loan_id,
	full_name, gender, date_of_birth, phone_number, mobile_phone_2, company_phone,
	spouse_name, spouse_phone, kin_name, kin_phone, kin_relation,
	address, city, partner_name, product_type, loan_purpose, virtual_account,
	dpd, due_date, due_amount, installment_amount, late_fee, outstanding,
	installment_number, last_pay_date, last_pay_amount
	FROM dialer.constructed_records`

// constructedPriority keeps the row that sorts first by (sort_order,
// dpd desc, account_payment_id): the lowest rank, then the most overdue
// account, then the lowest account payment id.
const constructedPriority = `(constructed_records.sort_order, -constructed_records.dpd, constructed_records.account_payment_id)` +
	` >= (EXCLUDED.sort_order, -EXCLUDED.dpd, EXCLUDED.account_payment_id)`

// UpsertConstructed writes records keyed by (task_date, customer_id). An
// existing row is only replaced by one of the same or a higher priority, so
// the winner does not depend on the order concurrent batches commit in.
// Callers must not pass two records for the same key in one call.
func (s *PostgresStore) UpsertConstructed(ctx context.Context, records []model.ConstructedRecord) (int64, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			dateOnly(r.TaskDate), r.DialerTaskID, r.SortOrder, r.BatchNumber,
			r.CustomerID, r.AccountPaymentID, r.ApplicationID, r.LoanID,
			r.FullName, r.Gender, r.DateOfBirth, r.PhoneNumber, r.MobilePhone2, r.CompanyPhone,
			r.SpouseName, r.SpousePhone, r.KinName, r.KinPhone, r.KinRelation,
			r.Address, r.City, r.PartnerName, r.ProductType, r.LoanPurpose, r.VirtualAcct,
			r.DPD, r.DueDate, r.DueAmount, r.InstallmentAmount, r.LateFee, r.Outstanding,
			r.InstallmentNumber, r.LastPayDate, r.LastPayAmount,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "dialer.constructed_records",
		Columns:      constructedCols,
		ConflictKeys: []string{"task_date", "customer_id"},
		UpdateWhere:  constructedPriority,
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert constructed")
}

// ListConstructedIDs returns record ids for a date and rank in send order:
// highest DPD first.
func (s *PostgresStore) ListConstructedIDs(ctx context.Context, date time.Time, rank int) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM dialer.constructed_records
		 WHERE task_date = $1 AND sort_order = $2
		 ORDER BY dpd DESC, id ASC`,
		dateOnly(date), rank,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list constructed ids rank %d", rank)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan constructed id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list constructed ids iterate")
}

// ListConstructed returns full records for a date and rank in send order.
// rank 0 returns every rank.
func (s *PostgresStore) ListConstructed(ctx context.Context, date time.Time, rank int) ([]model.ConstructedRecord, error) {
	rows, err := s.pool.Query(ctx,
		constructedSelect+` WHERE task_date = $1 AND ($2::int = 0 OR sort_order = $2::int)
		 ORDER BY sort_order ASC, dpd DESC, id ASC`,
		dateOnly(date), rank,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list constructed rank %d", rank)
	}
	defer rows.Close()
	return collectConstructed(rows)
}

// GetConstructedByIDs loads records by id in send order. Missing ids are
// skipped.
func (s *PostgresStore) GetConstructedByIDs(ctx context.Context, ids []int64) ([]model.ConstructedRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		constructedSelect+` WHERE id = ANY($1) ORDER BY dpd DESC, id ASC`,
		ids,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get constructed by ids")
	}
	defer rows.Close()
	return collectConstructed(rows)
}

// PurgeConstructed deletes records for task dates before the given date.
func (s *PostgresStore) PurgeConstructed(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM dialer.constructed_records WHERE task_date < $1`,
		dateOnly(before),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge constructed")
	}
	return tag.RowsAffected(), nil
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectConstructed(rows rowsScanner) ([]model.ConstructedRecord, error) {
	var out []model.ConstructedRecord
	for rows.Next() {
		var r model.ConstructedRecord
		if err := rows.Scan(
			&r.ID, &r.TaskDate, &r.DialerTaskID, &r.SortOrder, &r.BatchNumber,
			&r.CustomerID, &r.AccountPaymentID, &r.ApplicationID, &r.LoanID,
			&r.FullName, &r.Gender, &r.DateOfBirth, &r.PhoneNumber, &r.MobilePhone2, &r.CompanyPhone,
			&r.SpouseName, &r.SpousePhone, &r.KinName, &r.KinPhone, &r.KinRelation,
			&r.Address, &r.City, &r.PartnerName, &r.ProductType, &r.LoanPurpose, &r.VirtualAcct,
			&r.DPD, &r.DueDate, &r.DueAmount, &r.InstallmentAmount, &r.LateFee, &r.Outstanding,
			&r.InstallmentNumber, &r.LastPayDate, &r.LastPayAmount,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan constructed record")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: constructed iterate")
}
