package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-cli/internal/model"
)

// eligibleAccountsQuery selects, per account, the oldest unpaid account
// payment with its DPD and the account's total outstanding, restricted to
// one rank's DPD and amount band. Accounts holding an active promise to pay
// dated today or later are excluded.
const eligibleAccountsQuery = `
WITH unpaid AS (
	SELECT ap.id, ap.account_id, ap.customer_id, ap.due_date,
	       SUM(ap.due_amount - ap.paid_amount) OVER (PARTITION BY ap.account_id) AS outstanding,
	       ROW_NUMBER() OVER (PARTITION BY ap.account_id ORDER BY ap.due_date, ap.id) AS rn
	FROM lending.account_payments ap
	WHERE NOT ap.is_paid AND ap.due_date < $1::date
)
SELECT u.id, u.customer_id, ($1::date - u.due_date) AS dpd, u.outstanding
FROM unpaid u
WHERE u.rn = 1
  AND ($1::date - u.due_date) >= $2::int
  AND ($3::int = 0 OR ($1::date - u.due_date) <= $3::int)
  AND u.outstanding >= $4::numeric
  AND ($5::numeric = 0 OR u.outstanding < $5::numeric)
  AND NOT EXISTS (
	SELECT 1 FROM lending.ptp p
	WHERE p.account_id = u.account_id AND p.status = 'active' AND p.ptp_date >= $1::date
  )
ORDER BY u.id`

// ListEligibleAccounts returns the accounts that fall in rank as of asOf,
// ordered by account payment id so batching is stable across reruns.
func (s *PostgresStore) ListEligibleAccounts(ctx context.Context, rank model.Rank, asOf time.Time) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, eligibleAccountsQuery,
		dateOnly(asOf), rank.MinDPD, rank.MaxDPD, rank.MinOutstanding, rank.MaxOutstanding,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list eligible accounts rank %d", rank.ID)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.AccountPaymentID, &a.CustomerID, &a.DPD, &a.Outstanding); err != nil {
			return nil, eris.Wrap(err, "postgres: scan eligible account")
		}
		accounts = append(accounts, a)
	}
	return accounts, eris.Wrap(rows.Err(), "postgres: list eligible accounts iterate")
}

const accountDetailsQuery = `
SELECT ap.id, ap.account_id, c.id, app.id, l.id, l.loan_xid,
       c.fullname, c.gender, c.dob, c.mobile_phone_1, c.mobile_phone_2, c.company_phone,
       c.spouse_name, c.spouse_phone, c.kin_name, c.kin_phone, c.kin_relationship,
       c.address, c.city,
       app.partner_name, app.product_type, app.loan_purpose, l.virtual_account,
       (CURRENT_DATE - ap.due_date) AS dpd, ap.due_date,
       ap.due_amount - ap.paid_amount, ap.installment_amount, ap.late_fee_amount,
       (SELECT COALESCE(SUM(o.due_amount - o.paid_amount), 0) FROM lending.account_payments o
         WHERE o.account_id = ap.account_id AND NOT o.is_paid),
       ap.installment_number,
       lp.paid_date, COALESCE(lp.paid_amount, 0)
FROM lending.account_payments ap
JOIN lending.customers c ON c.id = ap.customer_id
JOIN lending.applications app ON app.account_id = ap.account_id AND app.customer_id = c.id
JOIN LATERAL (
	SELECT id, loan_xid, virtual_account FROM lending.loans
	WHERE account_id = ap.account_id ORDER BY id DESC LIMIT 1
) l ON true
LEFT JOIN LATERAL (
	SELECT paid_date, paid_amount FROM lending.account_payments
	WHERE account_id = ap.account_id AND paid_date IS NOT NULL
	ORDER BY paid_date DESC LIMIT 1
) lp ON true
WHERE ap.id = ANY($1)
ORDER BY ap.id`

// GetAccountDetails joins borrower, application and loan attributes for the
// given account payments. Payments whose joins are incomplete are omitted.
func (s *PostgresStore) GetAccountDetails(ctx context.Context, accountPaymentIDs []int64) ([]model.AccountDetail, error) {
	if len(accountPaymentIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, accountDetailsQuery, accountPaymentIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get account details")
	}
	defer rows.Close()

	var details []model.AccountDetail
	for rows.Next() {
		var d model.AccountDetail
		if err := rows.Scan(
			&d.AccountPaymentID, &d.AccountID, &d.CustomerID, &d.ApplicationID, &d.LoanID, &d.LoanXID,
			&d.FullName, &d.Gender, &d.DateOfBirth, &d.MobilePhone1, &d.MobilePhone2, &d.CompanyPhone,
			&d.SpouseName, &d.SpousePhone, &d.KinName, &d.KinPhone, &d.KinRelation,
			&d.Address, &d.City,
			&d.PartnerName, &d.ProductType, &d.LoanPurpose, &d.VirtualAcct,
			&d.DPD, &d.DueDate,
			&d.DueAmount, &d.InstallmentAmount, &d.LateFee,
			&d.Outstanding,
			&d.InstallmentNumber,
			&d.LastPayDate, &d.LastPayAmount,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan account detail")
		}
		details = append(details, d)
	}
	return details, eris.Wrap(rows.Err(), "postgres: get account details iterate")
}
