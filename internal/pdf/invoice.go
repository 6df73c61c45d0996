package pdf

import (
	"time"

	"github.com/batisoft/batifact/internal/models"
)

// InvoiceData is the normalized view model for an invoice document.
type InvoiceData struct {
	Number       string
	Date         time.Time
	DueDate      time.Time
	Company      Company
	Client       Party
	Items        []models.LineItem
	Totals       Totals
	PaymentTerms string
	Lang         string
}

// InvoicePDF serializes an invoice into a PDF byte stream. Same fixed
// geometry as the quote renderer, with the due date and the payment-terms
// box instead of the signature area.
func InvoicePDF(data InvoiceData) ([]byte, error) {
	d := newDoc(data.Lang)
	theme := ParseThemeColor(data.Company.ThemeColor)

	y := d.header("invoice", data.Number, data.Date, "date", data.Company)
	d.clientBlock(y, data.Client)

	d.pdf.SetFont("Helvetica", "", 9)
	d.pdf.SetXY(marginLeft, 72)
	d.pdf.CellFormat(contentW, 5, d.label("due_date")+" : "+data.DueDate.Format("02/01/2006"), "", 1, "L", false, 0, "")

	rows, _ := d.layoutRows(data.Items)
	endY := d.table(80, rows)
	d.totalsBox(endY+totalsGap, data.Totals, theme)
	d.termsBox(endY+totalsGap, "payment_terms", data.PaymentTerms)

	if data.Company.IBAN != "" {
		d.pdf.SetFont("Helvetica", "", 8)
		d.pdf.SetXY(marginLeft, endY+totalsGap+termsBoxH+4)
		d.pdf.CellFormat(contentW, 4, d.tr("IBAN : "+data.Company.IBAN), "", 0, "L", false, 0, "")
	}

	d.footer(data.Company.MentionsLegales)
	return d.bytes()
}
