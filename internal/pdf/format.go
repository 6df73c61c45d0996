package pdf

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// EmDash marks a not-applicable numeric cell. Blank would read as missing
// data; the dash reads as intentionally absent.
const EmDash = "—"

var frPrinter = message.NewPrinter(language.French)

// Currency renders a French-locale amount with a trailing euro symbol,
// e.g. "1 234,56 €". The printer's non-breaking separators are normalized
// to plain spaces so the cp1252 core fonts can draw them.
func Currency(v float64) string {
	s := frPrinter.Sprintf("%.2f", v)
	s = strings.Map(func(r rune) rune {
		if r == '\u00a0' || r == '\u202f' {
			return ' '
		}
		return r
	}, s)
	return s + " €"
}

// Quantity renders a quantity with a French decimal comma, or an em-dash
// when absent (never "0").
func Quantity(v float64) string {
	if v == 0 {
		return EmDash
	}
	return strings.ReplaceAll(strconv.FormatFloat(v, 'f', -1, 64), ".", ",")
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	filenameRe   = regexp.MustCompile(`[^A-Za-z0-9-]`)
)

// SanitizeName collapses whitespace to hyphens and strips everything
// outside [A-Za-z0-9-].
func SanitizeName(s string) string {
	s = whitespaceRe.ReplaceAllString(strings.TrimSpace(s), "-")
	return filenameRe.ReplaceAllString(s, "")
}

// Filename builds "{document-type}-{number}-{sanitized-client}-{YYYY-MM-DD}.pdf".
func Filename(docType, number, clientName string, date time.Time) string {
	parts := []string{docType, number, SanitizeName(clientName), date.Format("2006-01-02")}
	return strings.Join(parts, "-") + ".pdf"
}

// DataURI is the client-facing variant of the PDF output: a base64 data-URI
// string the caller splits at the comma.
func DataURI(pdf []byte) string {
	return "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf)
}
