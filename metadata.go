package designcheck

import (
	"bytes"
	"image"

	"github.com/bep/imagemeta"
)

// RasterInfo describes an encoded raster without fully decoding it.
type RasterInfo struct {
	Format      string // decoder name: "png", "jpeg", "webp", ...
	Width       int
	Height      int
	Orientation int    // EXIF orientation 1..8 (1 when absent)
	Software    string // EXIF Software or XMP CreatorTool, when present
}

// wantedTags maps (source, tag-name) → true for every tag we care about.
var wantedTags = map[imagemeta.Source]map[string]bool{
	imagemeta.EXIF: {
		"Orientation": true,
		"Software":    true,
	},
	imagemeta.XMP: {
		"CreatorTool": true,
	},
}

// InspectImage reads dimensions, format and orientation from raw image bytes.
// Graceful degradation: unknown fields stay zero, never returns an error.
func InspectImage(data []byte) RasterInfo {
	info := RasterInfo{Orientation: 1}
	if len(data) == 0 {
		return info
	}

	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		info.Format = format
		info.Width = cfg.Width
		info.Height = cfg.Height
	}

	_, _ = imagemeta.Decode(imagemeta.Options{
		R:       bytes.NewReader(data),
		Sources: imagemeta.EXIF | imagemeta.XMP,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			if tags, ok := wantedTags[ti.Source]; ok {
				return tags[ti.Tag]
			}
			return false
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			switch ti.Tag {
			case "Orientation":
				if o := tagValueInt(ti.Value); o >= 1 && o <= 8 {
					info.Orientation = o
				}
			case "Software", "CreatorTool":
				if s := tagValueString(ti.Value); s != "" && info.Software == "" {
					info.Software = s
				}
			}
			return nil
		},
	})

	return info
}

// ReadOrientation returns the EXIF orientation of data, 1 when unknown.
func ReadOrientation(data []byte) int {
	return InspectImage(data).Orientation
}

// ApplyOrientation returns img transformed so that EXIF orientation o
// becomes the identity (orientation 1).
func ApplyOrientation(img image.Image, o int) image.Image {
	if o <= 1 || o > 8 {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dw, dh := w, h
	if o >= 5 {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for y := range h {
		for x := range w {
			var dx, dy int
			switch o {
			case 2: // mirrored horizontally
				dx, dy = w-1-x, y
			case 3: // rotated 180
				dx, dy = w-1-x, h-1-y
			case 4: // mirrored vertically
				dx, dy = x, h-1-y
			case 5: // transposed
				dx, dy = y, x
			case 6: // rotated 90 CW to display
				dx, dy = h-1-y, x
			case 7: // transversed
				dx, dy = h-1-y, w-1-x
			case 8: // rotated 90 CCW to display
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// tagValueString extracts a string from a tag value.
// XMP values may be string or []string (from altList/seqList).
func tagValueString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		if len(val) > 0 {
			return val[0]
		}
	case []any:
		if len(val) > 0 {
			if s, ok := val[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// tagValueInt extracts an integer from the numeric types EXIF decoding yields.
func tagValueInt(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case uint8:
		return int(val)
	case uint16:
		return int(val)
	case uint32:
		return int(val)
	case float64:
		return int(val)
	case []uint16:
		if len(val) > 0 {
			return int(val[0])
		}
	}
	return 0
}
