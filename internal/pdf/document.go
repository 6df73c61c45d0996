package pdf

import (
	"bytes"
	"os"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/batisoft/batifact/internal/i18n"
	"github.com/batisoft/batifact/internal/models"
)

// Company is the issuer block printed in the header.
type Company struct {
	Name            string
	Address         string
	SIRET           string
	TVAIntra        string
	Phone           string
	Email           string
	IBAN            string
	LogoPath        string
	ThemeColor      string
	MentionsLegales string
}

// Party is the client block, snapshotted from the document.
type Party struct {
	Name    string
	Address string
	Email   string
	Phone   string
}

// Totals is the computed money block.
type Totals struct {
	HT  float64
	TVA float64
	TTC float64
}

type doc struct {
	pdf  *gofpdf.Fpdf
	tr   func(string) string
	lang string
}

func newDoc(lang string) *doc {
	p := gofpdf.New("P", "mm", "A4", "")
	p.SetMargins(marginLeft, marginTop, marginRight)
	// Single fixed page: long tables overrun instead of paginating (known
	// limitation, reproduced deliberately).
	p.SetAutoPageBreak(false, 0)
	p.AddPage()
	return &doc{pdf: p, tr: p.UnicodeTranslatorFromDescriptor(""), lang: lang}
}

func (d *doc) label(code string) string { return d.tr(i18n.T(d.lang, code)) }

// header draws the theme-colored band, the clamped logo, the document title
// and the issuer identity block. Returns the Y where body content starts.
func (d *doc) header(titleCode, number string, date time.Time, dateLabelCode string, c Company) float64 {
	theme := ParseThemeColor(c.ThemeColor)
	d.pdf.SetFillColor(theme.R, theme.G, theme.B)
	d.pdf.Rect(0, 0, PageWidthMM, headerBandH, "F")

	if c.LogoPath != "" {
		if _, err := os.Stat(c.LogoPath); err == nil {
			d.logo(c.LogoPath)
		}
	}

	tr, tg, tb := theme.HeaderTextColor()
	d.pdf.SetTextColor(tr, tg, tb)
	d.pdf.SetFont("Helvetica", "B", 20)
	d.pdf.SetXY(marginLeft, 6)
	d.pdf.CellFormat(contentW, 10, d.label(titleCode)+" "+d.tr(number), "", 0, "R", false, 0, "")
	d.pdf.SetFont("Helvetica", "", 10)
	d.pdf.SetXY(marginLeft, 17)
	d.pdf.CellFormat(contentW, 6, d.label(dateLabelCode)+" : "+date.Format("02/01/2006"), "", 0, "R", false, 0, "")

	d.pdf.SetTextColor(0, 0, 0)
	y := headerBandH + 8
	d.pdf.SetFont("Helvetica", "B", 10)
	d.pdf.SetXY(marginLeft, y)
	d.pdf.CellFormat(contentW/2, 5, d.tr(c.Name), "", 2, "L", false, 0, "")
	d.pdf.SetFont("Helvetica", "", 9)
	for _, line := range []string{c.Address, "SIRET " + c.SIRET, c.TVAIntra, c.Phone, c.Email} {
		if line == "" || line == "SIRET " {
			continue
		}
		d.pdf.CellFormat(contentW/2, 4.5, d.tr(line), "", 2, "L", false, 0, "")
	}
	return y
}

// logo scales aspect-ratio-preserving, clamped to logoMaxW so a very wide
// source cannot overflow the header band.
func (d *doc) logo(path string) {
	info := d.pdf.RegisterImageOptions(path, gofpdf.ImageOptions{ReadDpi: true})
	if info == nil || info.Height() <= 0 {
		return
	}
	aspect := info.Width() / info.Height()
	h := logoMaxH
	w := h * aspect
	if w > logoMaxW {
		w = logoMaxW
		h = w / aspect
	}
	d.pdf.ImageOptions(path, marginLeft, logoPad, w, h, false, gofpdf.ImageOptions{ReadDpi: true}, 0, "")
}

// clientBlock draws the snapshotted client identity on the right.
func (d *doc) clientBlock(y float64, p Party) {
	x := marginLeft + contentW/2
	d.pdf.SetFont("Helvetica", "B", 9)
	d.pdf.SetXY(x, y)
	d.pdf.CellFormat(contentW/2, 5, d.label("client"), "", 2, "L", false, 0, "")
	d.pdf.SetFont("Helvetica", "B", 10)
	d.pdf.CellFormat(contentW/2, 5, d.tr(p.Name), "", 2, "L", false, 0, "")
	d.pdf.SetFont("Helvetica", "", 9)
	for _, line := range []string{p.Address, p.Email, p.Phone} {
		if line == "" {
			continue
		}
		d.pdf.CellFormat(contentW/2, 4.5, d.tr(line), "", 2, "L", false, 0, "")
	}
}

// rowSpec is the outcome of the table layout pass.
type rowSpec struct {
	item   models.LineItem
	parent bool // aggregate row
	child  bool
	height float64
}

// layoutRows is the first pass: flatten items into display rows and measure
// each row's height. The table is laid out before anything is drawn so the
// blocks below can anchor on the real end-of-content position.
func (d *doc) layoutRows(items []models.LineItem) ([]rowSpec, float64) {
	d.pdf.SetFont("Helvetica", "", 9)
	var rows []rowSpec
	total := 0.0
	measure := func(desc string, indent float64) float64 {
		lines := d.pdf.SplitLines([]byte(d.tr(desc)), colDescW-indent-3)
		h := float64(len(lines))*4.5 + 2
		if h < rowH {
			h = rowH
		}
		return h
	}
	for _, it := range items {
		if it.IsAggregate() {
			r := rowSpec{item: it, parent: true, height: measure(it.Description, 0)}
			rows = append(rows, r)
			total += r.height
			for _, sub := range it.SubItems {
				c := rowSpec{item: sub, child: true, height: measure(sub.Description, subIndent)}
				rows = append(rows, c)
				total += c.height
			}
			continue
		}
		r := rowSpec{item: it, height: measure(it.Description, 0)}
		rows = append(rows, r)
		total += r.height
	}
	return rows, total
}

// table is the second pass: draw the header and the measured rows. Returns
// the Y below the table's actual end of content.
func (d *doc) table(y float64, rows []rowSpec) float64 {
	d.pdf.SetDrawColor(200, 200, 200)
	d.pdf.SetFillColor(238, 238, 238)
	d.pdf.SetTextColor(0, 0, 0)
	d.pdf.SetFont("Helvetica", "B", 9)
	d.pdf.SetXY(marginLeft, y)
	d.pdf.CellFormat(colDescW, rowH, d.label("description"), "1", 0, "L", true, 0, "")
	d.pdf.CellFormat(colQtyW, rowH, d.label("quantity"), "1", 0, "C", true, 0, "")
	d.pdf.CellFormat(colPriceW, rowH, d.label("unit_price"), "1", 0, "R", true, 0, "")
	d.pdf.CellFormat(colTotalW, rowH, d.label("total"), "1", 1, "R", true, 0, "")
	y += rowH

	for _, r := range rows {
		y = d.tableRow(y, r)
	}
	return y
}

func (d *doc) tableRow(y float64, r rowSpec) float64 {
	indent := 0.0
	style := ""
	if r.parent {
		style = "B"
	}
	if r.child {
		indent = subIndent
	}
	d.pdf.SetFont("Helvetica", style, 9)

	qty := Quantity(r.item.Quantity)
	price := Currency(r.item.UnitPrice)
	if r.parent {
		// Aggregate rows show an explicit placeholder, not a blank: the
		// dash reads as "not applicable" where blank reads as missing.
		qty = EmDash
		price = EmDash
	}

	d.pdf.SetXY(marginLeft, y)
	d.pdf.CellFormat(colDescW, r.height, "", "1", 0, "L", false, 0, "")
	d.pdf.SetXY(marginLeft+indent+1.5, y+1)
	d.pdf.MultiCell(colDescW-indent-3, 4.5, d.tr(r.item.Description), "", "L", false)

	d.pdf.SetXY(marginLeft+colDescW, y)
	d.pdf.CellFormat(colQtyW, r.height, d.tr(qty), "1", 0, "C", false, 0, "")
	d.pdf.CellFormat(colPriceW, r.height, d.tr(price), "1", 0, "R", false, 0, "")
	d.pdf.CellFormat(colTotalW, r.height, d.tr(Currency(r.item.Total)), "1", 1, "R", false, 0, "")
	return y + r.height
}

// totalsBox draws the fixed-height bordered money block immediately below
// the table's end-of-content position.
func (d *doc) totalsBox(y float64, t Totals, theme ThemeColor) float64 {
	x := PageWidthMM - marginRight - totalsBoxW
	d.pdf.SetDrawColor(120, 120, 120)
	d.pdf.Rect(x, y, totalsBoxW, totalsBoxH, "D")

	rowY := y + 2
	line := func(labelCode string, v float64, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		d.pdf.SetFont("Helvetica", style, 10)
		d.pdf.SetXY(x+2, rowY)
		d.pdf.CellFormat(totalsBoxW/2, 6, d.label(labelCode), "", 0, "L", false, 0, "")
		d.pdf.CellFormat(totalsBoxW/2-4, 6, d.tr(Currency(v)), "", 0, "R", false, 0, "")
		rowY += 6
	}
	line("total_ht", t.HT, false)
	line("vat", t.TVA, false)
	d.pdf.SetTextColor(theme.R, theme.G, theme.B)
	line("total_ttc", t.TTC, true)
	d.pdf.SetTextColor(0, 0, 0)
	return y + totalsBoxH
}

// termsBox draws the fixed-height payment-terms/legal box. Overflowing text
// is truncated to the first termsMaxLines lines instead of growing the box.
func (d *doc) termsBox(y float64, titleCode, text string) {
	if text == "" {
		return
	}
	d.pdf.SetDrawColor(120, 120, 120)
	d.pdf.Rect(marginLeft, y, termsBoxW, termsBoxH, "D")
	d.pdf.SetFont("Helvetica", "B", 8)
	d.pdf.SetXY(marginLeft+2, y+2)
	d.pdf.CellFormat(termsBoxW-4, 4, d.label(titleCode), "", 2, "L", false, 0, "")
	d.pdf.SetFont("Helvetica", "", 8)
	lines := d.pdf.SplitLines([]byte(d.tr(text)), termsBoxW-4)
	if len(lines) > termsMaxLines {
		lines = lines[:termsMaxLines]
	}
	for _, line := range lines {
		d.pdf.CellFormat(termsBoxW-4, termsLineH, string(line), "", 2, "L", false, 0, "")
	}
}

// signBox draws the "sign here" frame on quotes at the exact rectangle the
// signature embedder targets by default.
func (d *doc) signBox() {
	r := DefaultSignatureRect
	d.pdf.SetDrawColor(120, 120, 120)
	d.pdf.Rect(r.X, r.Y, r.Width, r.Height, "D")
	d.pdf.SetFont("Helvetica", "I", 8)
	d.pdf.SetXY(r.X+2, r.Y+1.5)
	d.pdf.CellFormat(r.Width-4, 4, d.label("sign_here"), "", 0, "L", false, 0, "")
}

// footer prints the legal mentions line at the bottom of the page.
func (d *doc) footer(mentions string) {
	if mentions == "" {
		return
	}
	d.pdf.SetFont("Helvetica", "", 7)
	d.pdf.SetTextColor(110, 110, 110)
	d.pdf.SetXY(marginLeft, PageHeightMM-12)
	d.pdf.CellFormat(contentW, 4, d.tr(mentions), "", 0, "C", false, 0, "")
	d.pdf.SetTextColor(0, 0, 0)
}

func (d *doc) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
