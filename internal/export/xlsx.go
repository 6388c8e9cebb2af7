// Package export writes constructed dialer records to spreadsheets for
// manual review or manual upload to the vendor console.
package export

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/dialer-cli/internal/dialer"
	"github.com/sells-group/dialer-cli/internal/model"
)

// Columns is the sheet header, in the vendor's upload order. Every column
// after phonenumber is a contact variable.
var Columns = []string{
	"phonenumber",
	"account_payment_id",
	"customer_id",
	"application_id",
	"loan_id",
	"nama_customer",
	"jenis_kelamin",
	"tgl_lahir",
	"mobile_phone_2",
	"telp_perusahaan",
	"nama_pasangan",
	"no_telp_pasangan",
	"nama_kerabat",
	"no_telp_kerabat",
	"hubungan_kerabat",
	"alamat",
	"kota",
	"partner_name",
	"tipe_produk",
	"tujuan_pinjaman",
	"va_number",
	"dpd",
	"tanggal_jatuh_tempo",
	"total_due_amount",
	"angsuran",
	"denda",
	"outstanding",
	"angsuran_ke",
	"last_pay_date",
	"last_pay_amount",
	"sort_order",
}

// Options configures WriteXLSX.
type Options struct {
	// SkipUndialable leaves out records without a valid phone number.
	SkipUndialable bool
	// SheetName maps a rank to its sheet title. Defaults to "rank_<id>".
	SheetName func(rank int) string
}

// Summary counts what WriteXLSX wrote.
type Summary struct {
	Sheets  int
	Rows    int
	Skipped int
}

// WriteXLSX writes records to w, one sheet per rank in the order ranks
// first appear. Callers pass records already sorted by rank and DPD.
func WriteXLSX(w io.Writer, records []model.ConstructedRecord, opts Options) (*Summary, error) {
	sheetName := opts.SheetName
	if sheetName == nil {
		sheetName = func(rank int) string { return fmt.Sprintf("rank_%d", rank) }
	}

	f := xlsx.NewFile()
	sheets := make(map[int]*xlsx.Sheet)
	sum := &Summary{}

	for _, rec := range records {
		contact, ok := dialer.ToContact(rec)
		if !ok && opts.SkipUndialable {
			sum.Skipped++
			continue
		}

		sheet, exists := sheets[rec.SortOrder]
		if !exists {
			var err error
			sheet, err = f.AddSheet(sheetName(rec.SortOrder))
			if err != nil {
				return nil, eris.Wrapf(err, "export: add sheet rank %d", rec.SortOrder)
			}
			writeRow(sheet, Columns)
			sheets[rec.SortOrder] = sheet
			sum.Sheets++
		}

		row := make([]string, len(Columns))
		row[0] = contact.PhoneNumber
		for i, col := range Columns[1:] {
			row[i+1] = contact.CustomizeVariables[col]
		}
		if !ok {
			row = recordRow(rec)
		}
		writeRow(sheet, row)
		sum.Rows++
	}

	if len(sheets) == 0 {
		sheet, err := f.AddSheet(sheetName(0))
		if err != nil {
			return nil, eris.Wrap(err, "export: add empty sheet")
		}
		writeRow(sheet, Columns)
	}

	if err := f.Write(w); err != nil {
		return nil, eris.Wrap(err, "export: write xlsx")
	}
	return sum, nil
}

// recordRow renders an undialable record: identifiers only, no phone.
func recordRow(rec model.ConstructedRecord) []string {
	row := make([]string, len(Columns))
	row[1] = fmt.Sprint(rec.AccountPaymentID)
	row[2] = fmt.Sprint(rec.CustomerID)
	row[5] = rec.FullName
	row[21] = fmt.Sprint(rec.DPD)
	row[len(row)-1] = fmt.Sprint(rec.SortOrder)
	return row
}

func writeRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, v := range cells {
		row.AddCell().SetString(v)
	}
}
