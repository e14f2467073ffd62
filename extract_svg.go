package designcheck

import (
	"bytes"
	"encoding/xml"
	"errors"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// rasterizeSVG draws an SVG document into an RGBA image whose longest side is
// at most maxSize, preserving aspect ratio and never upscaling past the
// document's intrinsic size.
func rasterizeSVG(data []byte, maxSize int) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.WarnErrorMode)
	if err != nil {
		return nil, &DecodeError{Subject: "svg", Err: err}
	}

	vw, vh := icon.ViewBox.W, icon.ViewBox.H
	rw, rh := svgRootSize(data)
	w, h := intrinsicSVGSize(vw, vh, rw, rh)
	if vw <= 0 || vh <= 0 {
		icon.ViewBox.W, icon.ViewBox.H = w, h
	}
	if w <= 0 || h <= 0 {
		return nil, &DecodeError{Subject: "svg", Err: errors.New("document has no usable size")}
	}

	scale := math.Min(1, math.Min(float64(maxSize)/w, float64(maxSize)/h))
	tw := max(1, int(math.Round(w*scale)))
	th := max(1, int(math.Round(h*scale)))

	icon.SetTarget(0, 0, float64(tw), float64(th))
	rgba := image.NewRGBA(image.Rect(0, 0, tw, th))
	scanner := rasterx.NewScannerGV(tw, th, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(tw, th, scanner), 1)

	return rgba, nil
}

// intrinsicSVGSize picks the document size: root width/height when set, a
// missing one derived from the viewBox aspect ratio, else the viewBox itself.
func intrinsicSVGSize(vw, vh, rw, rh float64) (float64, float64) {
	hasViewBox := vw > 0 && vh > 0
	switch {
	case rw > 0 && rh > 0:
		return rw, rh
	case rw > 0 && hasViewBox:
		return rw, rw * vh / vw
	case rh > 0 && hasViewBox:
		return rh * vw / vh, rh
	}
	return vw, vh
}

// svgRootSize reads width/height from the root <svg> element. Unit suffixes
// are dropped; percentages and missing values yield 0.
func svgRootSize(data []byte) (float64, float64) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, 0
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "svg" {
			continue
		}
		var w, h float64
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "width":
				w = parseSVGLength(a.Value)
			case "height":
				h = parseSVGLength(a.Value)
			}
		}
		return w, h
	}
}

func parseSVGLength(s string) float64 {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		return 0
	}
	s = strings.TrimRight(s, "abcdefghijklmnopqrstuvwxyz")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
