package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConstructedRecord is one borrower row in the vendor's flat schema, staged
// in the constructed table until it is sent. A borrower appears at most once
// per task date; SortOrder holds the winning rank.
type ConstructedRecord struct {
	ID               int64     `json:"id"`
	TaskDate         time.Time `json:"task_date"`
	DialerTaskID     string    `json:"dialer_task_id"`
	SortOrder        int       `json:"sort_order"`
	BatchNumber      int       `json:"batch_number"`
	CustomerID       int64     `json:"customer_id"`
	AccountPaymentID int64     `json:"account_payment_id"`
	ApplicationID    int64     `json:"application_id"`
	LoanID           int64     `json:"loan_id"`

	FullName     string `json:"nama_customer"`
	Gender       string `json:"jenis_kelamin"`
	DateOfBirth  string `json:"tgl_lahir"`
	PhoneNumber  string `json:"phonenumber"`
	MobilePhone2 string `json:"mobile_phone_2"`
	CompanyPhone string `json:"telp_perusahaan"`
	SpouseName   string `json:"nama_pasangan"`
	SpousePhone  string `json:"no_telp_pasangan"`
	KinName      string `json:"nama_kerabat"`
	KinPhone     string `json:"no_telp_kerabat"`
	KinRelation  string `json:"hubungan_kerabat"`
	Address      string `json:"alamat"`
	City         string `json:"kota"`
	PartnerName  string `json:"partner_name"`
	ProductType  string `json:"tipe_produk"`
	LoanPurpose  string `json:"tujuan_pinjaman"`
	VirtualAcct  string `json:"va_number"`

	DPD               int             `json:"dpd"`
	DueDate           string          `json:"tanggal_jatuh_tempo"`
	DueAmount         decimal.Decimal `json:"total_due_amount"`
	InstallmentAmount decimal.Decimal `json:"angsuran"`
	LateFee           decimal.Decimal `json:"denda"`
	Outstanding       decimal.Decimal `json:"outstanding"`
	InstallmentNumber int             `json:"angsuran_ke"`
	LastPayDate       string          `json:"last_pay_date"`
	LastPayAmount     decimal.Decimal `json:"last_pay_amount"`
}
