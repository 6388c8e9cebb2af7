package dialer

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/pkg/airudder"
)

const dateLayout = "2006-01-02"

var nameCaser = cases.Title(language.Indonesian)

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// NormalizePhone converts an Indonesian number in any common local form
// (0812..., 62812..., +62 812-..., 812...) to E.164 (+62812...). The second
// return is false when the input cannot be a valid number.
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "62"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0"):
		digits = digits[1:]
	}
	digits = strings.TrimLeft(digits, "0")

	// National significant number: 7-13 digits.
	if len(digits) < 7 || len(digits) > 13 {
		return "", false
	}
	return "+62" + digits, true
}

// NormalizeName trims, collapses whitespace and title-cases a borrower name.
func NormalizeName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return nameCaser.String(strings.ToLower(s))
}

// BuildRecord serializes an enriched account into the vendor's flat record
// schema. DPD is recomputed against the task date so records constructed
// late in the day still match the batch that selected them.
func BuildRecord(d model.AccountDetail, ref model.BatchRef) model.ConstructedRecord {
	rec := model.ConstructedRecord{
		TaskDate:         ref.TaskDate,
		DialerTaskID:     ref.DialerTaskID,
		SortOrder:        ref.Rank,
		BatchNumber:      ref.BatchNumber,
		CustomerID:       d.CustomerID,
		AccountPaymentID: d.AccountPaymentID,
		ApplicationID:    d.ApplicationID,
		LoanID:           d.LoanID,

		FullName:     NormalizeName(d.FullName),
		Gender:       d.Gender,
		DateOfBirth:  formatDate(d.DateOfBirth),
		PhoneNumber:  d.MobilePhone1,
		MobilePhone2: d.MobilePhone2,
		CompanyPhone: d.CompanyPhone,
		SpouseName:   NormalizeName(d.SpouseName),
		SpousePhone:  d.SpousePhone,
		KinName:      NormalizeName(d.KinName),
		KinPhone:     d.KinPhone,
		KinRelation:  d.KinRelation,
		Address:      strings.TrimSpace(d.Address),
		City:         d.City,
		PartnerName:  d.PartnerName,
		ProductType:  d.ProductType,
		LoanPurpose:  d.LoanPurpose,
		VirtualAcct:  d.VirtualAcct,

		DPD:               d.DPD,
		DueAmount:         d.DueAmount,
		InstallmentAmount: d.InstallmentAmount,
		LateFee:           d.LateFee,
		Outstanding:       d.Outstanding,
		InstallmentNumber: d.InstallmentNumber,
		LastPayDate:       formatDate(d.LastPayDate),
		LastPayAmount:     d.LastPayAmount,
	}
	if !d.DueDate.IsZero() {
		rec.DueDate = d.DueDate.Format(dateLayout)
		rec.DPD = daysBetween(d.DueDate, ref.TaskDate)
	}
	return rec
}

// DedupeRecords keeps one record per customer, preferring the highest DPD
// and then the lowest account payment id. Input order is otherwise kept.
func DedupeRecords(records []model.ConstructedRecord) []model.ConstructedRecord {
	idx := make(map[int64]int, len(records))
	out := make([]model.ConstructedRecord, 0, len(records))
	for _, r := range records {
		i, ok := idx[r.CustomerID]
		if !ok {
			idx[r.CustomerID] = len(out)
			out = append(out, r)
			continue
		}
		cur := out[i]
		if r.DPD > cur.DPD || (r.DPD == cur.DPD && r.AccountPaymentID < cur.AccountPaymentID) {
			out[i] = r
		}
	}
	return out
}

// ToContact converts a constructed record into a vendor contact. The first
// valid phone among the borrower's own numbers is dialed; every other field
// travels as a string variable. ok is false when no number is dialable.
func ToContact(r model.ConstructedRecord) (airudder.Contact, bool) {
	phone, ok := NormalizePhone(r.PhoneNumber)
	if !ok {
		phone, ok = NormalizePhone(r.MobilePhone2)
	}
	if !ok {
		return airudder.Contact{}, false
	}

	vars := map[string]string{
		"account_payment_id":  strconv.FormatInt(r.AccountPaymentID, 10),
		"customer_id":         strconv.FormatInt(r.CustomerID, 10),
		"application_id":      strconv.FormatInt(r.ApplicationID, 10),
		"loan_id":             strconv.FormatInt(r.LoanID, 10),
		"nama_customer":       r.FullName,
		"jenis_kelamin":       r.Gender,
		"tgl_lahir":           r.DateOfBirth,
		"mobile_phone_2":      phoneOrEmpty(r.MobilePhone2),
		"telp_perusahaan":     phoneOrEmpty(r.CompanyPhone),
		"nama_pasangan":       r.SpouseName,
		"no_telp_pasangan":    phoneOrEmpty(r.SpousePhone),
		"nama_kerabat":        r.KinName,
		"no_telp_kerabat":     phoneOrEmpty(r.KinPhone),
		"hubungan_kerabat":    r.KinRelation,
		"alamat":              r.Address,
		"kota":                r.City,
		"partner_name":        r.PartnerName,
		"tipe_produk":         r.ProductType,
		"tujuan_pinjaman":     r.LoanPurpose,
		"va_number":           r.VirtualAcct,
		"dpd":                 strconv.Itoa(r.DPD),
		"tanggal_jatuh_tempo": r.DueDate,
		"total_due_amount":    money(r.DueAmount),
		"angsuran":            money(r.InstallmentAmount),
		"denda":               money(r.LateFee),
		"outstanding":         money(r.Outstanding),
		"angsuran_ke":         strconv.Itoa(r.InstallmentNumber),
		"last_pay_date":       r.LastPayDate,
		"last_pay_amount":     money(r.LastPayAmount),
		"sort_order":          strconv.Itoa(r.SortOrder),
	}
	return airudder.Contact{PhoneNumber: phone, CustomizeVariables: vars}, true
}

func phoneOrEmpty(raw string) string {
	p, _ := NormalizePhone(raw)
	return p
}

// money renders rupiah amounts without a fractional part.
func money(d decimal.Decimal) string {
	return d.Round(0).StringFixed(0)
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}
