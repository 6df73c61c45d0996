// Package i18n holds the small fr/en label table used by handlers and the
// PDF renderer. French is the default and fallback language.
package i18n

import "strings"

var translations = map[string]map[string]string{
	"fr": {
		"required":        "Requis",
		"quote":           "Devis",
		"invoice":         "Facture",
		"description":     "Description",
		"quantity":        "Qté",
		"unit_price":      "P.U. HT",
		"total":           "Total HT",
		"total_ht":        "Total HT",
		"vat":             "TVA 20 %",
		"total_ttc":       "Total TTC",
		"date":            "Date",
		"due_date":        "Échéance",
		"valid_until":     "Valable jusqu'au",
		"client":          "Client",
		"payment_terms":   "Conditions de règlement",
		"sign_here":       "Bon pour accord — signature :",
		"signed":          "Signé",
		"signed_by":       "Signé par",
		"page_of":         "Page",
	},
	"en": {
		"required":        "Required",
		"quote":           "Quote",
		"invoice":         "Invoice",
		"description":     "Description",
		"quantity":        "Qty",
		"unit_price":      "Unit price",
		"total":           "Total",
		"total_ht":        "Subtotal",
		"vat":             "VAT 20%",
		"total_ttc":       "Total incl. VAT",
		"date":            "Date",
		"due_date":        "Due date",
		"valid_until":     "Valid until",
		"client":          "Client",
		"payment_terms":   "Payment terms",
		"sign_here":       "Approved — signature:",
		"signed":          "Signed",
		"signed_by":       "Signed by",
		"page_of":         "Page",
	},
}

// T translates code for lang, falling back to French, then to the code itself.
func T(lang, code string) string {
	if m, ok := translations[lang]; ok {
		if v, ok := m[code]; ok {
			return v
		}
	}
	if v, ok := translations["fr"][code]; ok {
		return v
	}
	return code
}

// DetectLanguage picks a supported language from an Accept-Language header.
// Default is French.
func DetectLanguage(acceptLanguage string) string {
	s := strings.ToLower(strings.TrimSpace(acceptLanguage))
	if strings.HasPrefix(s, "en") {
		return "en"
	}
	return "fr"
}
