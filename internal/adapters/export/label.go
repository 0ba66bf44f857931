package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"

	"krakefactory/internal/blob"
	"krakefactory/pkg/domain"
)

// Label geometry, in points unless noted.
const (
	DefaultLabelWidthMM  = 50.0
	DefaultLabelHeightMM = 30.0
	labelMargin          = 4.0
	labelQRShare         = 0.7
	labelCaptionGap      = 4.0
	labelCaptionSize     = 8.0
	pointsPerMM          = 72 / 25.4
)

// LabelRequest describes one printable board label built from a QR image the
// station already produced.
type LabelRequest struct {
	Serial   string
	Caption  string
	WidthMM  float64
	HeightMM float64
	Image    []byte
}

// LabelRenderer draws labels with configured default dimensions.
type LabelRenderer struct {
	DefaultWidthMM  float64
	DefaultHeightMM float64
}

// NewLabelRenderer returns a renderer; non-positive defaults fall back to 50x30 mm.
func NewLabelRenderer(widthMM, heightMM float64) *LabelRenderer {
	if widthMM <= 0 {
		widthMM = DefaultLabelWidthMM
	}
	if heightMM <= 0 {
		heightMM = DefaultLabelHeightMM
	}
	return &LabelRenderer{DefaultWidthMM: widthMM, DefaultHeightMM: heightMM}
}

// ParseDimension reads a millimetre value; blank, unparsable or non-positive
// input yields def.
func ParseDimension(raw string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return def
	}
	return v
}

// Validate checks the fields a label cannot be drawn without.
func (r LabelRequest) Validate() error {
	if len(r.Image) == 0 {
		return domain.ValidationError{Field: "qr_image", Message: "qr_image file is required"}
	}
	if strings.TrimSpace(r.Serial) == "" {
		return domain.ValidationError{Field: "serial", Message: "serial is required"}
	}
	if imageType(r.Image) == "" {
		return domain.ValidationError{Field: "qr_image", Message: "qr_image must be a PNG, JPEG or GIF image"}
	}
	return nil
}

// CaptionText returns the trimmed caption, or "Serial: <serial>" when blank.
func (r LabelRequest) CaptionText() string {
	if c := strings.TrimSpace(r.Caption); c != "" {
		return c
	}
	return "Serial: " + strings.TrimSpace(r.Serial)
}

// Filename is the inline download name of the rendered label.
func (r LabelRequest) Filename() string {
	return "label-" + strings.TrimSpace(r.Serial) + ".pdf"
}

func imageType(b []byte) string {
	switch http.DetectContentType(b) {
	case "image/png":
		return "PNG"
	case "image/jpeg":
		return "JPG"
	case "image/gif":
		return "GIF"
	}
	return ""
}

// Render writes a one-page PDF sized to the label: the QR image as a centred
// square in the upper 70% of the printable area, caption centred below it.
func (lr *LabelRenderer) Render(w io.Writer, req LabelRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	widthMM, heightMM := req.WidthMM, req.HeightMM
	if widthMM <= 0 {
		widthMM = lr.DefaultWidthMM
	}
	if heightMM <= 0 {
		heightMM = lr.DefaultHeightMM
	}
	widthPt, heightPt := widthMM*pointsPerMM, heightMM*pointsPerMM

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: widthPt, Ht: heightPt},
	})
	pdf.SetMargins(labelMargin, labelMargin, labelMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(req.Filename(), true)
	pdf.AddPage()

	labelWidth := widthPt - 2*labelMargin
	labelHeight := heightPt - 2*labelMargin
	qrSize := math.Min(labelWidth, labelHeight*labelQRShare)
	qrX := labelMargin + (labelWidth-qrSize)/2
	qrY := labelMargin

	opts := fpdf.ImageOptions{ImageType: imageType(req.Image)}
	name := "qr-" + uuid.NewString()
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(req.Image))
	pdf.ImageOptions(name, qrX, qrY, qrSize, qrSize, false, opts, 0, "")

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Helvetica", "", labelCaptionSize)
	pdf.SetXY(labelMargin, qrY+qrSize+labelCaptionGap)
	pdf.MultiCell(labelWidth, labelCaptionSize*1.2, tr(req.CaptionText()), "", "C", false)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render label: %w", err)
	}
	return pdf.Output(w)
}

var keySegment = strings.NewReplacer("/", "_", "\\", "_", "..", "_")

// LabelKey returns a fresh blob key for an archived label of serial.
func LabelKey(serial string) string {
	return "labels/" + keySegment.Replace(strings.TrimSpace(serial)) + "/" + uuid.NewString() + ".pdf"
}

// ArchiveLabel stores a rendered label PDF and returns its blob info.
func ArchiveLabel(ctx context.Context, store blob.Store, serial string, pdf []byte) (blob.Info, error) {
	return store.Put(ctx, LabelKey(serial), bytes.NewReader(pdf), blob.PutOptions{
		ContentType: "application/pdf",
		Metadata:    map[string]string{"serial": strings.TrimSpace(serial)},
	})
}
