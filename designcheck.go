// Package designcheck fingerprints raster images, detects near-duplicate
// submissions within a batch and against a stored corpus, and cross-checks
// raw design files (PDF, AI, SVG, EPS, CDR) against their declared previews.
package designcheck

import (
	"runtime"
	"time"
)

// Policy defaults. Thresholds are Hamming distances out of FingerprintBits.
const (
	DefaultThreshold          = 5  // ~92% similarity: "same image"
	DefaultReferenceThreshold = 15 // looser bound used for reference suggestions

	DefaultExtractTimeout = 30 * time.Second
	DefaultSVGMaxSize     = 800
	DefaultRenderDPI      = 72
)

// FailOpenUnsupported is the business policy for raw files whose content
// cannot be checked automatically (skipped formats, failed extraction,
// unreadable previews): the verdict passes automatic gating and is left
// for a human reviewer. Config.StrictUnsupported turns it off.
const FailOpenUnsupported = true

// Config holds all dependencies injected by the consumer.
// The zero value is usable; missing fields are filled by WithDefaults.
// Methods never write to the receiver, so one Config may be shared by
// concurrent callers.
type Config struct {
	Files    FileStore    // used by ValidateRawAgainstPreviews (nil = DirStore{}, paths as given)
	Renderer PageRenderer // optional: PDF/AI first-page renderer (nil = detect pdftoppm, then gs)

	Algorithm      Algorithm     // default: AlgorithmMedian
	ExtractTimeout time.Duration // per-extraction deadline (default: 30s)
	MaxConcurrency int           // worker limit for batch operations (default: 3/4 of CPUs)
	SVGMaxSize     int           // longest SVG raster side (default: 800)
	RenderDPI      int           // PDF render resolution (default: 72)

	// ApplyOrientation rotates/flips preview rasters according to their EXIF
	// orientation before hashing.
	ApplyOrientation bool

	// StrictUnsupported reports unchecked raw files as IsMatch=false instead
	// of the FailOpenUnsupported default. Skipped stays true either way.
	StrictUnsupported bool

	// Optional callbacks for metrics/logging.
	OnPanic   func(tag string, r any)
	OnVerdict func(Verdict) // audit hook, called once per produced verdict
}

// WithDefaults returns a copy of c with zero-value fields filled in.
// A nil receiver yields the all-defaults Config.
func (c *Config) WithDefaults() *Config {
	var d Config
	if c != nil {
		d = *c
	}
	d.defaults()
	return &d
}

func (c *Config) defaults() {
	if c.Algorithm == AlgorithmUnspecified {
		c.Algorithm = AlgorithmMedian
	}
	if c.Files == nil {
		c.Files = DirStore{}
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = DefaultExtractTimeout
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = OptimalWorkers()
	}
	if c.SVGMaxSize <= 0 {
		c.SVGMaxSize = DefaultSVGMaxSize
	}
	if c.RenderDPI <= 0 {
		c.RenderDPI = DefaultRenderDPI
	}
}

// failOpen reports the IsMatch value used for verdicts that could not be computed.
func (c *Config) failOpen() bool {
	return FailOpenUnsupported && !c.StrictUnsupported
}

// recoverTo converts a panic in a pool goroutine into an OnPanic callback.
func (c *Config) recoverTo(tag string) {
	if r := recover(); r != nil {
		if c.OnPanic != nil {
			c.OnPanic(tag, r)
		}
	}
}

// OptimalWorkers returns the worker count for CPU-bound hashing and
// rasterisation: three quarters of the available CPUs, at least one.
func OptimalWorkers() int {
	n := (runtime.NumCPU() * 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}
