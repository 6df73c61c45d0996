package pdf

import (
	"math"
	"strconv"
	"strings"
)

// Fixed A4 layout, in millimeters from the page's top-left corner.
const (
	marginLeft  = 15.0
	marginRight = 15.0
	marginTop   = 15.0
	contentW    = PageWidthMM - marginLeft - marginRight

	headerBandH  = 30.0
	logoMaxW     = 45.0
	logoMaxH     = 22.0
	logoPad      = 4.0

	// Items table columns: description, quantity, unit price, line total.
	colDescW  = 95.0
	colQtyW   = 20.0
	colPriceW = 30.0
	colTotalW = 35.0
	rowH      = 7.0
	subIndent = 5.0

	totalsBoxW = 80.0
	totalsBoxH = 26.0
	totalsGap  = 6.0

	// The payment-terms/legal box never grows: overflowing text is cut to
	// termsMaxLines so it cannot overlap the adjacent totals box.
	termsBoxW     = 94.0
	termsBoxH     = 26.0
	termsMaxLines = 5
	termsLineH    = 4.5
)

// DefaultSignatureRect is where the renderer draws its "sign here" box on
// quotes, and where the embedder places the signature image when no
// explicit rectangle is supplied.
var DefaultSignatureRect = RectMM{X: 125, Y: 240, Width: 70, Height: 32}

// ThemeColor is an sRGB color parsed from "#RRGGBB".
type ThemeColor struct {
	R, G, B int
}

// ParseThemeColor falls back to the default blue on malformed input.
func ParseThemeColor(hex string) ThemeColor {
	s := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(s) != 6 {
		return ThemeColor{R: 0x1d, G: 0x4e, B: 0xd8}
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return ThemeColor{R: 0x1d, G: 0x4e, B: 0xd8}
	}
	return ThemeColor{R: int(v >> 16 & 0xff), G: int(v >> 8 & 0xff), B: int(v & 0xff)}
}

// RelativeLuminance is the linearized sRGB (WCAG) formula, used for both
// document types.
func (c ThemeColor) RelativeLuminance() float64 {
	lin := func(v int) float64 {
		f := float64(v) / 255.0
		if f <= 0.03928 {
			return f / 12.92
		}
		return math.Pow((f+0.055)/1.055, 2.4)
	}
	return 0.2126*lin(c.R) + 0.7152*lin(c.G) + 0.0722*lin(c.B)
}

// luminanceFlip is the black/white boundary for header text contrast.
const luminanceFlip = 0.45

// HeaderTextColor flips between black and white so header text stays
// readable on any theme color. Accessibility rule, not a stylistic choice.
func (c ThemeColor) HeaderTextColor() (r, g, b int) {
	if c.RelativeLuminance() > luminanceFlip {
		return 0, 0, 0
	}
	return 255, 255, 255
}
