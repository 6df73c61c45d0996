package pdf

// The layout logic works in the design space: millimeters, origin at the
// page's top-left, Y increasing downward. The underlying PDF drawing calls
// work in the rendering space: points, origin at the page's bottom-left,
// Y increasing upward. Everything crossing that boundary goes through the
// helpers below.

// MMToPoints converts millimeters to PDF points.
const MMToPoints = 2.834645669

// A4 page size.
const (
	PageWidthMM   = 210.0
	PageHeightMM  = 297.0
	PageHeightPts = PageHeightMM * MMToPoints
)

// RectMM is a rectangle in the design space (mm, top-left origin).
type RectMM struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// MMToPt converts a design-space length to rendering-space points.
func MMToPt(mm float64) float64 { return mm * MMToPoints }

// PtToMM converts points back to millimeters.
func PtToMM(pt float64) float64 { return pt / MMToPoints }

// FlipY maps a design-space rectangle top edge to the rendering-space Y of
// its bottom edge: yBottomOrigin = pageHeight − (y + height), all in points.
// Getting this wrong silently places content outside the visible rectangle
// or mirrored vertically.
func FlipY(pageHeightPts, yTopPts, heightPts float64) float64 {
	return pageHeightPts - (yTopPts + heightPts)
}

// UnflipY is the inverse of FlipY; FlipY and UnflipY compose to identity.
func UnflipY(pageHeightPts, yBottomPts, heightPts float64) float64 {
	return pageHeightPts - yBottomPts - heightPts
}

// RenderOrigin resolves a design-space rectangle to the rendering-space
// origin (bottom-left corner of the rectangle) in points.
func RenderOrigin(pageHeightPts float64, r RectMM) (x, y float64) {
	return MMToPt(r.X), FlipY(pageHeightPts, MMToPt(r.Y), MMToPt(r.Height))
}
