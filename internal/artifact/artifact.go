// Package artifact names the object keys produced and consumed by the
// processing pipeline.
package artifact

import (
	"fmt"
	"path"
	"strings"
)

// IsPDF reports whether a document title names a PDF.
func IsPDF(title string) bool {
	return strings.EqualFold(path.Ext(title), ".pdf")
}

// PDFName returns title with its extension replaced by .pdf.
func PDFName(title string) string {
	base := path.Base(strings.ReplaceAll(title, `\`, "/"))
	if base == "." || base == "/" {
		base = "document"
	}
	return strings.TrimSuffix(base, path.Ext(base)) + ".pdf"
}

// Original is the key of the uploaded source in the originals bucket.
func Original(title string) string {
	return "uploads/" + title
}

// ConvertedPDF is the key of the converted PDF in the originals bucket.
func ConvertedPDF(docID uint, title string) string {
	return fmt.Sprintf("documents/%d/%s", docID, PDFName(title))
}

// PageImage is the key of a normalized full-page image in the tiles bucket.
// Pages are numbered from 1.
func PageImage(docID uint, page int) string {
	return fmt.Sprintf("pages/%d/page_%d.png", docID, page)
}

// Tile is the key of one tile of a page in the tiles bucket.
func Tile(docID uint, page, x, y int) string {
	return fmt.Sprintf("tiles/%d/page_%d/%d_%d.png", docID, page, x, y)
}

// Thumbnail is the key of a page thumbnail in the thumbnails bucket.
func Thumbnail(docID uint, page int) string {
	return fmt.Sprintf("thumbnails/%d/page_%d.jpg", docID, page)
}

// OCRText is the key of the extracted text document in the ocr bucket.
func OCRText(docID uint) string {
	return fmt.Sprintf("ocr/%d/text.json", docID)
}
