package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is an overdue account payment eligible for dialing.
type Account struct {
	AccountPaymentID int64           `json:"account_payment_id"`
	CustomerID       int64           `json:"customer_id"`
	DPD              int             `json:"dpd"`
	Outstanding      decimal.Decimal `json:"outstanding"`
}

// AccountDetail is an eligible account joined with borrower, application and
// loan attributes. It is the input to record construction.
type AccountDetail struct {
	AccountPaymentID int64
	AccountID        int64
	CustomerID       int64
	ApplicationID    int64
	LoanID           int64
	LoanXID          int64

	FullName      string
	Gender        string
	DateOfBirth   *time.Time
	MobilePhone1  string
	MobilePhone2  string
	CompanyPhone  string
	SpouseName    string
	SpousePhone   string
	KinName       string
	KinPhone      string
	KinRelation   string
	Address       string
	City          string
	PartnerName   string
	ProductType   string
	LoanPurpose   string
	VirtualAcct   string

	DPD               int
	DueDate           time.Time
	DueAmount         decimal.Decimal
	InstallmentAmount decimal.Decimal
	LateFee           decimal.Decimal
	Outstanding       decimal.Decimal
	InstallmentNumber int
	LastPayDate       *time.Time
	LastPayAmount     decimal.Decimal
}
