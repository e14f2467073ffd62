package designcheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
)

// ExtractionStatus separates "content extracted" from the two ways it is not.
type ExtractionStatus int

const (
	ExtractionOK      ExtractionStatus = iota // Image and Data are set
	ExtractionFailed                          // the format is supported but this file could not be rendered
	ExtractionSkipped                         // the format has no supported extraction path
)

func (s ExtractionStatus) String() string {
	switch s {
	case ExtractionOK:
		return "ok"
	case ExtractionFailed:
		return "failed"
	case ExtractionSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ExtractionResult is the raster proxy of a raw design file. A skipped
// result is a third outcome: it is neither a match nor a mismatch.
type ExtractionResult struct {
	Status ExtractionStatus
	Format Format
	Image  image.Image // present iff Status == ExtractionOK
	Data   []byte      // Image encoded as PNG, present iff Status == ExtractionOK
	Reason string      // human-readable explanation for failed/skipped results
	Err    error       // cause of a failed result; ErrUnsupportedFormat when skipped
}

// OK reports whether a raster was produced.
func (r ExtractionResult) OK() bool { return r.Status == ExtractionOK }

// ExtractRawContent is Config.ExtractRawContent with a zero Config.
func ExtractRawContent(ctx context.Context, data []byte, format Format) ExtractionResult {
	var cfg Config
	return cfg.ExtractRawContent(ctx, data, format)
}

// ExtractRawContent renders a representative raster ("first page") from a
// raw design file. It never panics and never blocks past cfg.ExtractTimeout:
// every branch returns a typed result.
func (cfg *Config) ExtractRawContent(ctx context.Context, data []byte, format Format) ExtractionResult {
	cfg = cfg.WithDefaults()
	return cfg.extract(ctx, data, format)
}

// extract is ExtractRawContent for a Config already passed through WithDefaults.
func (cfg *Config) extract(ctx context.Context, data []byte, format Format) (res ExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			if cfg.OnPanic != nil {
				cfg.OnPanic("extract", r)
			}
			res = failed(format, fmt.Errorf("panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, cfg.ExtractTimeout)
	defer cancel()

	if format == FormatCDR {
		return ExtractionResult{
			Status: ExtractionSkipped,
			Format: format,
			Reason: "CDR has no open-source decode path; content must be reviewed manually",
			Err:    ErrUnsupportedFormat,
		}
	}
	if len(data) == 0 {
		return failed(format, &DecodeError{Subject: string(format), Err: errors.New("empty input")})
	}

	var (
		img image.Image
		err error
	)
	switch format {
	case FormatPDF, FormatAI:
		img, err = cfg.extractPDF(ctx, data)
	case FormatSVG:
		img, err = runDecode(ctx, func() (image.Image, error) {
			return rasterizeSVG(data, cfg.SVGMaxSize)
		})
	case FormatEPS:
		img, err = runDecode(ctx, func() (image.Image, error) {
			return decodeEPSPreview(data)
		})
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			slog.Warn("designcheck: eps preview unavailable", "error", err.Error())
			res := failed(format, err)
			res.Reason = "EPS has no usable embedded preview: " + err.Error()
			return res
		}
	case FormatCDR:
		// handled above
	default:
		return failed(format, fmt.Errorf("%w: %q", ErrUnknownFormat, string(format)))
	}
	if err != nil {
		return failed(format, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return failed(format, fmt.Errorf("encode raster: %w", err))
	}

	return ExtractionResult{
		Status: ExtractionOK,
		Format: format,
		Image:  img,
		Data:   buf.Bytes(),
	}
}

func failed(format Format, err error) ExtractionResult {
	return ExtractionResult{
		Status: ExtractionFailed,
		Format: format,
		Reason: fmt.Sprintf("%s extraction failed: %v", format, err),
		Err:    err,
	}
}

type decodeOutcome struct {
	img image.Image
	err error
}

// runDecode runs a pure-Go decoder and stops waiting for it once ctx is done.
// The decoder goroutine is left to finish on its own; its result is dropped.
func runDecode(ctx context.Context, decode func() (image.Image, error)) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := make(chan decodeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- decodeOutcome{err: fmt.Errorf("decoder panic: %v", r)}
			}
		}()
		img, err := decode()
		ch <- decodeOutcome{img: img, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-ch:
		return out.img, out.err
	}
}
