package designcheck

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
)

// solidImage returns a w×h image filled with c.
func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

// splitImage returns a w×h image, left half black and right half white.
func splitImage(w, h int) *image.RGBA {
	img := solidImage(w, h, color.White)
	for y := range h {
		for x := range w / 2 {
			img.Set(x, y, color.Black)
		}
	}
	return img
}

// quadrantImage returns a w×h image with a black top-left quadrant on white.
func quadrantImage(w, h int) *image.RGBA {
	img := solidImage(w, h, color.White)
	for y := range h / 2 {
		for x := range w / 2 {
			img.Set(x, y, color.Black)
		}
	}
	return img
}

// rotate90 rotates img clockwise by 90 degrees.
func rotate90(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := range b.Dy() {
		for x := range b.Dx() {
			out.Set(b.Dy()-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// encodePNG returns img as PNG bytes.
func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic("encodePNG: " + err.Error())
	}
	return buf.Bytes()
}

// memStore is an in-memory FileStore.
type memStore map[string][]byte

func (m memStore) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
	}
	return data, nil
}

// fakeRenderer returns a fixed raster, a fixed error, or blocks until the
// context is done.
type fakeRenderer struct {
	raster []byte
	err    error
	block  bool

	mu    sync.Mutex
	calls int
}

func (r *fakeRenderer) Name() string { return "fake" }

func (r *fakeRenderer) RenderFirstPage(ctx context.Context, _ []byte, _ int) ([]byte, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.raster, r.err
}

// fp builds a median fingerprint from raw bits.
func fp(bits uint64) Fingerprint {
	return NewFingerprint(bits, AlgorithmMedian)
}

// fpPtr is fp returning a pointer, for Descriptor.Fingerprint.
func fpPtr(bits uint64) *Fingerprint {
	f := fp(bits)
	return &f
}

// minimalPDF is enough of a PDF header for the extractor to hand the bytes
// to a renderer.
var minimalPDF = []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n")
