package pdf

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"
)

// signaturePadMM keeps the image off the rectangle's border.
const signaturePadMM = 2.0

// signatureTextReserveMM is the strip under the image kept for the signer
// name and date line.
const signatureTextReserveMM = 7.0

// SignatureRequest carries everything needed to stamp a rendered quote.
type SignatureRequest struct {
	// ImageBase64 is PNG bytes, base64 encoded, optionally prefixed with a
	// data-URI header which is stripped before decoding.
	ImageBase64  string
	SignerPrenom string
	SignerNom    string
	SignedAt     time.Time
	// Rect overrides the placement, in design-space millimeters. Nil means
	// the renderer's sign-here box.
	Rect *RectMM
}

// Embedder post-processes an already rendered quote PDF, overlaying the
// raster signature at a geometric rectangle. It fails open: a document with
// a degraded signature marker always beats a failed send.
type Embedder struct {
	Log *zap.Logger
}

func NewEmbedder(log *zap.Logger) *Embedder { return &Embedder{Log: log} }

// Embed returns the signed document. It never returns an error: on any
// embedding failure it falls back to a plain text marker inside the
// rectangle, and if even that fails it returns the original bytes.
func (e *Embedder) Embed(docPDF []byte, req SignatureRequest) []byte {
	rect := DefaultSignatureRect
	if req.Rect != nil {
		rect = *req.Rect
	}
	pageH := pageHeightPoints(docPDF)

	img, err := decodeSignaturePNG(req.ImageBase64)
	if err != nil {
		e.Log.Warn("signature image unusable, falling back to text marker", zap.Error(err))
		return e.fallbackMarker(docPDF, rect, pageH)
	}
	out, err := stampImage(docPDF, img, rect, pageH)
	if err != nil {
		e.Log.Warn("signature embedding failed, falling back to text marker", zap.Error(err))
		return e.fallbackMarker(docPDF, rect, pageH)
	}
	out = e.stampSignerLine(out, req, rect, pageH)
	return out
}

// decodeSignaturePNG strips an optional data-URI header, decodes base64 and
// verifies the payload really is a PNG.
func decodeSignaturePNG(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty signature payload")
	}
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, fmt.Errorf("malformed data URI")
		}
		s = s[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if _, err := png.DecodeConfig(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	return raw, nil
}

// pageHeightPoints reads the first page height from the document, falling
// back to A4 when the document cannot be parsed.
func pageHeightPoints(docPDF []byte) float64 {
	ctx, err := api.ReadContext(bytes.NewReader(docPDF), model.NewDefaultConfiguration())
	if err != nil {
		return PageHeightPts
	}
	dims, err := ctx.PageDims()
	if err != nil || len(dims) == 0 || dims[0].Height <= 0 {
		return PageHeightPts
	}
	return dims[0].Height
}

// stampImage places the PNG inside the rectangle, inset by the fixed
// padding, reserving a strip at the bottom for the signer line.
func stampImage(docPDF, img []byte, rect RectMM, pageH float64) ([]byte, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, err
	}
	inner := RectMM{
		X:      rect.X + signaturePadMM,
		Y:      rect.Y + signaturePadMM,
		Width:  rect.Width - 2*signaturePadMM,
		Height: rect.Height - 2*signaturePadMM - signatureTextReserveMM,
	}
	if inner.Width <= 0 || inner.Height <= 0 {
		return nil, fmt.Errorf("signature rectangle too small: %.1fx%.1f mm", rect.Width, rect.Height)
	}
	// pdfcpu renders images at one point per pixel before scaling, so the
	// absolute scale factor maps pixels onto the target box.
	scale := MMToPt(inner.Width) / float64(cfg.Width)
	if hScale := MMToPt(inner.Height) / float64(cfg.Height); hScale < scale {
		scale = hScale
	}
	imgHPts := float64(cfg.Height) * scale
	x := MMToPt(inner.X)
	// Flip into the bottom-left-origin rendering space.
	y := FlipY(pageH, MMToPt(inner.Y), imgHPts)

	desc := fmt.Sprintf("pos:bl, off:%.2f %.2f, scale:%.4f abs, rot:0, op:1", x, y, scale)
	wm, err := api.ImageWatermarkForReader(bytes.NewReader(img), desc, true, false, types.POINTS)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(docPDF), &buf, []string{"1"}, wm, model.NewDefaultConfiguration()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// stampSignerLine draws "Prénom Nom - YYYY-MM-DD" in the reserved strip.
// Failures leave the already-signed document untouched.
func (e *Embedder) stampSignerLine(docPDF []byte, req SignatureRequest, rect RectMM, pageH float64) []byte {
	name := strings.TrimSpace(req.SignerPrenom + " " + req.SignerNom)
	if name == "" {
		return docPDF
	}
	when := req.SignedAt
	if when.IsZero() {
		when = time.Now()
	}
	text := fmt.Sprintf("%s - %s", name, when.Format("2006-01-02"))
	x := MMToPt(rect.X + signaturePadMM)
	y := FlipY(pageH, MMToPt(rect.Y), MMToPt(rect.Height)) + 4
	desc := fmt.Sprintf("fontname:Helvetica, points:8, scale:1 abs, pos:bl, off:%.2f %.2f, rot:0, op:1, fillc:#404040", x, y)
	wm, err := api.TextWatermark(text, desc, true, false, types.POINTS)
	if err != nil {
		e.Log.Warn("signer line watermark failed", zap.Error(err))
		return docPDF
	}
	var buf bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(docPDF), &buf, []string{"1"}, wm, model.NewDefaultConfiguration()); err != nil {
		e.Log.Warn("signer line stamping failed", zap.Error(err))
		return docPDF
	}
	return buf.Bytes()
}

// fallbackMarker writes a plain "Signé" text inside the rectangle. If even
// the marker cannot be stamped the original document is returned unchanged.
func (e *Embedder) fallbackMarker(docPDF []byte, rect RectMM, pageH float64) []byte {
	x := MMToPt(rect.X + signaturePadMM)
	y := FlipY(pageH, MMToPt(rect.Y), MMToPt(rect.Height)/2)
	desc := fmt.Sprintf("fontname:Helvetica, points:12, scale:1 abs, pos:bl, off:%.2f %.2f, rot:0, op:1", x, y)
	wm, err := api.TextWatermark("Signé", desc, true, false, types.POINTS)
	if err != nil {
		e.Log.Warn("fallback marker watermark failed, returning original document", zap.Error(err))
		return docPDF
	}
	var buf bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(docPDF), &buf, []string{"1"}, wm, model.NewDefaultConfiguration()); err != nil {
		e.Log.Warn("fallback marker stamping failed, returning original document", zap.Error(err))
		return docPDF
	}
	return buf.Bytes()
}
