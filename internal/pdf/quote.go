package pdf

import (
	"time"

	"github.com/batisoft/batifact/internal/models"
)

// QuoteData is the normalized view model for a quote document.
type QuoteData struct {
	Number     string
	Date       time.Time
	ValidUntil time.Time
	Company    Company
	Client     Party
	Items      []models.LineItem
	Totals     Totals
	Notes      string
	Lang       string
}

// QuotePDF serializes a quote into a PDF byte stream: theme header, issuer
// and client blocks, item table, totals anchored below the table's real end,
// and the sign-here box at the embedder's default rectangle.
func QuotePDF(data QuoteData) ([]byte, error) {
	d := newDoc(data.Lang)
	theme := ParseThemeColor(data.Company.ThemeColor)

	y := d.header("quote", data.Number, data.Date, "date", data.Company)
	d.clientBlock(y, data.Client)

	d.pdf.SetFont("Helvetica", "", 9)
	d.pdf.SetXY(marginLeft, 72)
	d.pdf.CellFormat(contentW, 5, d.label("valid_until")+" : "+data.ValidUntil.Format("02/01/2006"), "", 1, "L", false, 0, "")

	rows, _ := d.layoutRows(data.Items)
	endY := d.table(80, rows)
	d.totalsBox(endY+totalsGap, data.Totals, theme)
	d.termsBox(endY+totalsGap, "payment_terms", data.Notes)

	d.signBox()
	d.footer(data.Company.MentionsLegales)
	return d.bytes()
}

// QuoteValidUntil resolves the display expiry date from the validity window.
func QuoteValidUntil(createdAt time.Time, validityDays int) time.Time {
	if validityDays <= 0 {
		validityDays = 30
	}
	return createdAt.Add(time.Duration(validityDays) * 24 * time.Hour)
}
