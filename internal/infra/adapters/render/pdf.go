// File: internal/infra/adapters/render/pdf.go
package render

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"

	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/ports/adapter"
)

var _ adapter.DocumentRenderer = (*PDFRenderer)(nil)

// PDFRenderer places one image on a single A4 page, scaled to fit and centred.
type PDFRenderer struct{}

func NewPDFRenderer() *PDFRenderer { return &PDFRenderer{} }

func imageType(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "PNG", nil
	case ".jpg", ".jpeg":
		return "JPG", nil
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedFile, path)
	}
}

func (r *PDFRenderer) ImageToPDF(ctx context.Context, imagePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	typ, err := imageType(imagePath)
	if err != nil {
		return "", err
	}

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opts := fpdf.ImageOptions{ImageType: typ, ReadDpi: false}
	info := pdf.RegisterImageOptions(imagePath, opts)
	if err := pdf.Error(); err != nil {
		return "", fmt.Errorf("register image: %w", err)
	}

	pageW, pageH := pdf.GetPageSize()
	w, h := fit(info.Width(), info.Height(), pageW, pageH)
	pdf.ImageOptions(imagePath, (pageW-w)/2, (pageH-h)/2, w, h, false, opts, 0, "")

	out := strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".pdf"
	if err := pdf.OutputFileAndClose(out); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	return out, nil
}

// fit scales (w, h) to the largest size inside (maxW, maxH) keeping the aspect ratio.
func fit(w, h, maxW, maxH float64) (float64, float64) {
	if w <= 0 || h <= 0 {
		return maxW, maxH
	}
	scale := maxW / w
	if s := maxH / h; s < scale {
		scale = s
	}
	return w * scale, h * scale
}
