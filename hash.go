package designcheck

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sort"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// gridSize is the side of the downscaled grid; gridSize² == FingerprintBits.
const gridSize = 8

// HashImage decodes data and returns its median fingerprint.
// Unreadable bytes fail with *DecodeError.
func HashImage(data []byte) (Fingerprint, error) {
	img, err := decodeImage(data)
	if err != nil {
		return Fingerprint{}, err
	}
	return HashDecoded(img, AlgorithmMedian)
}

// HashImage decodes data and fingerprints it with cfg.Algorithm, applying
// EXIF orientation first when cfg.ApplyOrientation is set.
func (cfg *Config) HashImage(data []byte) (Fingerprint, error) {
	cfg = cfg.WithDefaults()
	return cfg.hashBytes(data)
}

// hashBytes is HashImage for a Config already passed through WithDefaults.
func (cfg *Config) hashBytes(data []byte) (Fingerprint, error) {
	img, err := decodeImage(data)
	if err != nil {
		return Fingerprint{}, err
	}
	if cfg.ApplyOrientation {
		img = ApplyOrientation(img, ReadOrientation(data))
	}
	return HashDecoded(img, cfg.Algorithm)
}

// HashDecoded fingerprints an already decoded raster. Transparent areas are
// composited onto white so that rasterised vector art and flattened previews
// agree.
func HashDecoded(img image.Image, algo Algorithm) (Fingerprint, error) {
	if img == nil {
		return Fingerprint{}, &DecodeError{Subject: "image", Err: errors.New("nil image")}
	}
	if img.Bounds().Empty() {
		return Fingerprint{}, &DecodeError{Subject: "image", Err: errors.New("empty bounds")}
	}

	if algo == AlgorithmMedian || algo == AlgorithmUnspecified {
		return Fingerprint{bits: medianBits(img), algo: AlgorithmMedian}, nil
	}

	flat := flattenOnWhite(img)
	var (
		h   *goimagehash.ImageHash
		err error
	)
	switch algo {
	case AlgorithmAverage:
		h, err = goimagehash.AverageHash(flat)
	case AlgorithmDifference:
		h, err = goimagehash.DifferenceHash(flat)
	case AlgorithmPerception:
		h, err = goimagehash.PerceptionHash(flat)
	default:
		return Fingerprint{}, errors.New("designcheck: unknown hash algorithm " + algo.String())
	}
	if err != nil {
		return Fingerprint{}, &DecodeError{Subject: "image", Err: err}
	}
	return Fingerprint{bits: h.GetHash(), algo: algo}, nil
}

// medianBits downscales img to an 8x8 grid, converts each cell to luminance
// and emits 1 for cells strictly brighter than the grid median, row-major,
// first cell in the highest bit.
func medianBits(img image.Image) uint64 {
	grid := image.NewRGBA(image.Rect(0, 0, gridSize, gridSize))
	draw.BiLinear.Scale(grid, grid.Bounds(), img, img.Bounds(), draw.Src, nil)

	cells := make([]float64, 0, gridSize*gridSize)
	for y := range gridSize {
		for x := range gridSize {
			cells = append(cells, luminanceOnWhite(grid.RGBAAt(x, y)))
		}
	}

	median := medianOf(cells)

	var bits uint64
	for _, v := range cells {
		bits <<= 1
		if v > median {
			bits |= 1
		}
	}
	return bits
}

// luminanceOnWhite returns the 16-bit luma of a premultiplied pixel
// composited over opaque white.
func luminanceOnWhite(c color.RGBA) float64 {
	r, g, b, a := c.RGBA()
	bg := 0xffff - a
	r, g, b = r+bg, g+bg, b+bg
	return (19595*float64(r) + 38470*float64(g) + 7471*float64(b)) / 65536
}

// medianOf returns the median of values without modifying them.
func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n%2 == 0:
		return (sorted[n/2-1] + sorted[n/2]) / 2
	default:
		return sorted[n/2]
	}
}

// flattenOnWhite returns img unchanged when it is opaque, otherwise a copy
// drawn over a white background.
func flattenOnWhite(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// decodeImage decodes any registered raster format.
func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Subject: "image", Err: errors.New("empty input")}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Subject: "image", Err: err}
	}
	return img, nil
}
