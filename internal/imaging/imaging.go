// Package imaging normalizes, tiles and thumbnails rendered page images.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// Canvas and tile geometry for the zoomable viewer.
const (
	CanvasWidth  = 2550
	CanvasHeight = 3300
	TileSize     = 256

	ThumbWidth  = 200
	ThumbHeight = 300
)

// ErrDecode is returned for image bytes that cannot be decoded.
var ErrDecode = errors.New("imaging: cannot decode image")

// Decode reads a PNG, JPEG or TIFF image.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// FitCanvas scales src to fit inside a w×h white canvas, preserving aspect
// ratio, and centers it.
func FitCanvas(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	r := fit(src.Bounds(), w, h)
	off := image.Pt((w-r.Dx())/2, (h-r.Dy())/2)
	draw.CatmullRom.Scale(dst, r.Add(off), src, src.Bounds(), draw.Over, nil)
	return dst
}

// Thumbnail scales src down to fit within w×h. Images already smaller are
// returned at their own size.
func Thumbnail(src image.Image, w, h int) *image.RGBA {
	r := fit(src.Bounds(), w, h)
	b := src.Bounds()
	if b.Dx() <= w && b.Dy() <= h {
		r = image.Rect(0, 0, b.Dx(), b.Dy())
	}
	dst := image.NewRGBA(r)
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.ApproxBiLinear.Scale(dst, r, src, b, draw.Over, nil)
	return dst
}

// Tile is one size×size (or smaller, at the edges) piece of an image.
type Tile struct {
	X, Y  int
	Image image.Image
}

// Tiles cuts src into a grid of size-pixel tiles, row by row.
func Tiles(src image.Image, size int) []Tile {
	b := src.Bounds()
	var tiles []Tile
	for y := 0; y*size < b.Dy(); y++ {
		for x := 0; x*size < b.Dx(); x++ {
			r := image.Rect(x*size, y*size, (x+1)*size, (y+1)*size).Add(b.Min).Intersect(b)
			tile := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
			draw.Copy(tile, image.Point{}, src, r, draw.Src, nil)
			tiles = append(tiles, Tile{X: x, Y: y, Image: tile})
		}
	}
	return tiles
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imaging: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes img as JPEG at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("imaging: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fit returns the largest rectangle at the origin with src's aspect ratio
// that fits in w×h.
func fit(src image.Rectangle, w, h int) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw == 0 || sh == 0 {
		return image.Rect(0, 0, 0, 0)
	}
	dw, dh := w, sh*w/sw
	if dh > h {
		dw, dh = sw*h/sh, h
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	return image.Rect(0, 0, dw, dh)
}
