package designcheck

import (
	"encoding/base64"
	"fmt"
)

// EncodeDataURL creates a data: URI from bytes and MIME type.
func EncodeDataURL(data []byte, mimeType string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// DataURL returns the extracted raster as a PNG data: URI, or "" when no
// raster was produced.
func (r ExtractionResult) DataURL() string {
	if !r.OK() || len(r.Data) == 0 {
		return ""
	}
	return EncodeDataURL(r.Data, "image/png")
}
