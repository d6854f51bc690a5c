// Package pdfdoc validates and assembles PDF documents with pdfcpu.
package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ErrCorrupt marks input that cannot be read as a PDF. It is a terminal
// failure for the job that hit it.
var ErrCorrupt = errors.New("pdfdoc: corrupted or unreadable pdf")

func relaxedConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Validate checks that data parses as a PDF.
func Validate(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty input", ErrCorrupt)
	}
	if err := api.Validate(bytes.NewReader(data), relaxedConfig()); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// PageCount returns the number of pages in data.
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), relaxedConfig())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return n, nil
}

// FromImages builds a PDF with one page per image (PNG, JPEG or TIFF).
func FromImages(images ...[]byte) ([]byte, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("pdfdoc: no images")
	}
	readers := make([]io.Reader, len(images))
	for i, img := range images {
		readers[i] = bytes.NewReader(img)
	}
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, readers, pdfcpu.DefaultImportConfig(), relaxedConfig()); err != nil {
		return nil, fmt.Errorf("pdfdoc: import images: %w", err)
	}
	return out.Bytes(), nil
}

// Placeholder renders a single letter-size page stating that the upload for
// title could not be found.
func Placeholder(title string) ([]byte, error) {
	const width, height = 612, 792
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	lines := []string{"Uploaded file not found", "Placeholder for: " + title}
	for i, line := range lines {
		d.Dot = fixed.P(72, 100+i*20)
		d.DrawString(line)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("pdfdoc: encode placeholder: %w", err)
	}
	return FromImages(buf.Bytes())
}
