package output

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-pdf/fpdf"

	"github.com/mzyy94/kvscan/internal/session"
)

// PDFSink collects JPEG page sides into a single PDF. Page geometry
// comes from the device-reported pixel dimensions and the scan DPI, so
// the image bytes themselves are never decoded.
type PDFSink struct {
	path string
	dpi  int
	pdf  *fpdf.Fpdf
}

// NewPDFSink creates a sink that writes the assembled document to path
// on Close. dpi must be the resolution the pages were scanned at.
func NewPDFSink(path string, dpi int) *PDFSink {
	if dpi <= 0 {
		dpi = 300
	}
	pdf := fpdf.New("P", "mm", "", "")
	pdf.SetAutoPageBreak(false, 0)
	return &PDFSink{path: path, dpi: dpi, pdf: pdf}
}

func (s *PDFSink) Write(p session.Page) error {
	if p.Width == 0 || p.Height == 0 {
		return fmt.Errorf("page %d side %s has no dimensions", p.Number, p.Side.Letter())
	}
	widthMM := float64(p.Width) / float64(s.dpi) * 25.4
	heightMM := float64(p.Height) / float64(s.dpi) * 25.4

	s.pdf.AddPageFormat("P", fpdf.SizeType{Wd: widthMM, Ht: heightMM})
	name := fmt.Sprintf("page-%d-%s", p.Number, p.Side.Letter())
	s.pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "JPEG"}, bytes.NewReader(p.Data))
	s.pdf.ImageOptions(name, 0, 0, widthMM, heightMM, false, fpdf.ImageOptions{}, 0, "")
	return s.pdf.Error()
}

func (s *PDFSink) Close() error {
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", s.path, err)
	}
	if err := s.pdf.Output(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return f.Close()
}
