// Package ocr extracts text from page images with tesseract.
package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zulandar/docyard/internal/runner"
)

// Engine runs tesseract through a Runner.
type Engine struct {
	Runner    runner.Runner
	Tesseract string
}

// New returns an Engine using the given tesseract binary.
func New(r runner.Runner, tesseract string) *Engine {
	if tesseract == "" {
		tesseract = "tesseract"
	}
	return &Engine{Runner: r, Tesseract: tesseract}
}

// ImageToText recognizes the text in img. An empty lang means "eng".
func (e *Engine) ImageToText(ctx context.Context, img []byte, lang string) (string, error) {
	if len(img) == 0 {
		return "", fmt.Errorf("ocr: empty image")
	}
	if lang == "" {
		lang = "eng"
	}

	dir, err := os.MkdirTemp("", "dy-ocr-*")
	if err != nil {
		return "", fmt.Errorf("ocr: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "page.png")
	if err := os.WriteFile(in, img, 0600); err != nil {
		return "", fmt.Errorf("ocr: write input: %w", err)
	}

	stdout, stderr, err := e.Runner.Run(ctx, e.Tesseract, in, "stdout", "-l", lang)
	if err != nil {
		return "", fmt.Errorf("ocr: tesseract: %w: %s", err, runner.Truncate(string(stderr), 512))
	}
	return strings.TrimSpace(string(stdout)), nil
}
