package designcheck

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
)

// dosEPSMagic opens a DOS-binary EPS file (PostScript + optional TIFF/WMF preview).
var dosEPSMagic = []byte{0xC5, 0xD0, 0xD3, 0xC6}

// dosEPSHeaderLen is the fixed size of the DOS-binary EPS header.
const dosEPSHeaderLen = 30

var errNoEPSPreview = errors.New("no embedded raster preview")

// decodeEPSPreview returns the raster preview embedded in an EPS file. It
// tries, in order: the TIFF section of a DOS-binary EPS, an EPSI
// %%BeginPreview hex bitmap, and a direct raster decode of the bytes.
func decodeEPSPreview(data []byte) (image.Image, error) {
	ps := data

	if bytes.HasPrefix(data, dosEPSMagic) && len(data) >= dosEPSHeaderLen {
		psSec, tiffSec := dosEPSSections(data)
		if len(tiffSec) > 0 {
			img, err := tiff.Decode(bytes.NewReader(tiffSec))
			if err == nil {
				return img, nil
			}
		}
		if len(psSec) > 0 {
			ps = psSec
		}
	}

	if img, err := decodeEPSI(ps); err == nil {
		return img, nil
	} else if !errors.Is(err, errNoEPSPreview) {
		return nil, &DecodeError{Subject: "eps", Err: err}
	}

	if img, err := decodeImage(data); err == nil {
		return img, nil
	}

	return nil, &DecodeError{Subject: "eps", Err: errNoEPSPreview}
}

// dosEPSSections slices the PostScript and TIFF sections out of a DOS-binary
// EPS file. Out-of-range sections come back empty.
func dosEPSSections(data []byte) (ps, tiffSec []byte) {
	section := func(offAt, lenAt int) []byte {
		off := binary.LittleEndian.Uint32(data[offAt:])
		n := binary.LittleEndian.Uint32(data[lenAt:])
		end := uint64(off) + uint64(n)
		if n == 0 || end > uint64(len(data)) {
			return nil
		}
		return data[off:end]
	}
	return section(4, 8), section(20, 24)
}

// decodeEPSI parses an EPSI "%%BeginPreview: w h depth lines" block. Sample
// value 0 is white and the maximum value is black.
func decodeEPSI(ps []byte) (image.Image, error) {
	start := bytes.Index(ps, []byte("%%BeginPreview:"))
	if start < 0 {
		return nil, errNoEPSPreview
	}

	sc := bufio.NewScanner(bytes.NewReader(ps[start:]))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !sc.Scan() {
		return nil, errNoEPSPreview
	}

	fields := strings.Fields(strings.TrimPrefix(sc.Text(), "%%BeginPreview:"))
	if len(fields) < 3 {
		return nil, fmt.Errorf("malformed preview header %q", sc.Text())
	}
	w, errW := strconv.Atoi(fields[0])
	h, errH := strconv.Atoi(fields[1])
	depth, errD := strconv.Atoi(fields[2])
	if errW != nil || errH != nil || errD != nil || w <= 0 || h <= 0 {
		return nil, fmt.Errorf("malformed preview header %q", sc.Text())
	}
	switch depth {
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("unsupported preview depth %d", depth)
	}

	var raw []byte
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "%%EndPreview") {
			break
		}
		chunk, err := hex.DecodeString(strings.TrimSpace(strings.TrimPrefix(line, "%")))
		if err != nil {
			return nil, fmt.Errorf("preview hex data: %w", err)
		}
		raw = append(raw, chunk...)
	}

	rowBytes := (w*depth + 7) / 8
	if len(raw) < rowBytes*h {
		return nil, fmt.Errorf("preview data truncated: %d bytes, want %d", len(raw), rowBytes*h)
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	maxVal := (1 << depth) - 1
	for y := range h {
		row := raw[y*rowBytes : (y+1)*rowBytes]
		for x := range w {
			bit := x * depth
			v := int(row[bit/8]>>(8-depth-bit%8)) & maxVal
			img.Pix[y*img.Stride+x] = uint8(255 - v*255/maxVal)
		}
	}
	return img, nil
}
