package designcheck

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// VerdictStatus tells how a verdict was reached. Only VerdictMatched and
// VerdictMismatch come from an actual comparison.
type VerdictStatus int

const (
	VerdictMatched          VerdictStatus = iota // a preview is within threshold
	VerdictMismatch                              // previews were compared, none within threshold
	VerdictSkipped                               // format has no extraction path (CDR)
	VerdictExtractionFailed                      // raw file unreadable or not renderable
	VerdictIncomplete                            // no preview could be read or hashed
)

func (s VerdictStatus) String() string {
	switch s {
	case VerdictMatched:
		return "matched"
	case VerdictMismatch:
		return "mismatch"
	case VerdictSkipped:
		return "skipped"
	case VerdictExtractionFailed:
		return "extraction_failed"
	case VerdictIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// Verdict is the result of cross-validating one raw file against its
// previews. It is built once and not mutated afterwards.
type Verdict struct {
	Status              VerdictStatus
	IsMatch             bool
	Skipped             bool // no comparison ran; route to manual review
	Similarity          float64
	Distance            int
	Threshold           int
	MatchedPreviewIndex *int     // set iff Status == VerdictMatched
	ClosestPreviewIndex int      // best preview seen, -1 when none compared
	Details             string   // explanation for a human reviewer
	Warnings            []string // previews skipped because they could not be read
}

// ValidationRequest is one submission for ValidateBatch.
type ValidationRequest struct {
	RawPath      string
	Format       Format
	PreviewPaths []string
	Threshold    int
}

// ValidateRawAgainstPreviews is Config.ValidateRawAgainstPreviews with a zero Config.
func ValidateRawAgainstPreviews(ctx context.Context, rawPath string, format Format, previewPaths []string, threshold int) (Verdict, error) {
	var cfg Config
	return cfg.ValidateRawAgainstPreviews(ctx, rawPath, format, previewPaths, threshold)
}

// ValidateRawAgainstPreviews extracts a raster proxy from the raw file,
// fingerprints it and compares it with each preview in declared order,
// returning on the first preview within threshold. Files that cannot be
// checked produce a Skipped verdict whose IsMatch follows
// FailOpenUnsupported. The only error is an invalid threshold.
func (cfg *Config) ValidateRawAgainstPreviews(ctx context.Context, rawPath string, format Format, previewPaths []string, threshold int) (Verdict, error) {
	if threshold < 0 {
		return Verdict{}, fmt.Errorf("%w: got %d", ErrInvalidThreshold, threshold)
	}
	cfg = cfg.WithDefaults()

	v := cfg.validate(ctx, rawPath, format, previewPaths, threshold)
	if cfg.OnVerdict != nil {
		cfg.OnVerdict(v)
	}
	return v, nil
}

// ValidateBatch validates many submissions concurrently. Verdicts are
// returned in request order.
func (cfg *Config) ValidateBatch(ctx context.Context, reqs []ValidationRequest) ([]Verdict, error) {
	for i, r := range reqs {
		if r.Threshold < 0 {
			return nil, fmt.Errorf("request %d: %w: got %d", i, ErrInvalidThreshold, r.Threshold)
		}
	}
	cfg = cfg.WithDefaults()

	verdicts := make([]Verdict, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)

	for i, r := range reqs {
		g.Go(func() error {
			defer cfg.recoverTo("validateBatch")
			if err := gctx.Err(); err != nil {
				return err
			}
			verdicts[i] = cfg.validate(gctx, r.RawPath, r.Format, r.PreviewPaths, r.Threshold)
			if cfg.OnVerdict != nil {
				cfg.OnVerdict(verdicts[i])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return verdicts, nil
}

func (cfg *Config) validate(ctx context.Context, rawPath string, format Format, previewPaths []string, threshold int) Verdict {
	raw, err := cfg.Files.ReadFile(ctx, rawPath)
	if err != nil {
		slog.Warn("designcheck: raw file unreadable", "path", rawPath, "error", err.Error())
		return cfg.unchecked(VerdictExtractionFailed, threshold, "raw file unreadable: "+err.Error())
	}

	res := cfg.extract(ctx, raw, format)
	switch res.Status {
	case ExtractionOK:
	case ExtractionSkipped:
		return cfg.unchecked(VerdictSkipped, threshold, res.Reason)
	case ExtractionFailed:
		return cfg.unchecked(VerdictExtractionFailed, threshold, res.Reason)
	}

	rawFP, err := HashDecoded(res.Image, cfg.Algorithm)
	if err != nil {
		return cfg.unchecked(VerdictExtractionFailed, threshold, "extracted raster not hashable: "+err.Error())
	}

	var (
		warnings []string
		compared int
		best     = Comparison{Distance: FingerprintBits + 1}
		bestIdx  = -1
	)

	for i, p := range previewPaths {
		data, err := cfg.Files.ReadFile(ctx, p)
		if err != nil {
			slog.Warn("designcheck: preview unreadable", "index", i, "path", p, "error", err.Error())
			warnings = append(warnings, fmt.Sprintf("preview %d (%s) unreadable: %v", i, p, err))
			continue
		}
		fp, err := cfg.hashBytes(data)
		if err != nil {
			slog.Warn("designcheck: preview not hashable", "index", i, "path", p, "error", err.Error())
			warnings = append(warnings, fmt.Sprintf("preview %d (%s) not hashable: %v", i, p, err))
			continue
		}

		c, err := Compare(rawFP, fp, threshold)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("preview %d (%s): %v", i, p, err))
			continue
		}
		compared++
		if c.Distance < best.Distance {
			best, bestIdx = c, i
		}

		if c.IsMatch {
			idx := i
			slog.Debug("designcheck: raw matches preview", "raw", rawPath, "preview", p, "distance", c.Distance)
			return Verdict{
				Status:              VerdictMatched,
				IsMatch:             true,
				Similarity:          c.Similarity,
				Distance:            c.Distance,
				Threshold:           threshold,
				MatchedPreviewIndex: &idx,
				ClosestPreviewIndex: idx,
				Details: fmt.Sprintf("raw %s content matches preview %d (%.0f%% similar, distance %d)",
					format, idx, c.Similarity, c.Distance),
				Warnings: warnings,
			}
		}
	}

	if compared == 0 {
		v := cfg.unchecked(VerdictIncomplete, threshold,
			fmt.Sprintf("%v: none of %d previews could be compared", ErrNoPreviewRead, len(previewPaths)))
		v.Warnings = warnings
		return v
	}

	slog.Debug("designcheck: raw matches no preview", "raw", rawPath, "best_distance", best.Distance)
	return Verdict{
		Status:              VerdictMismatch,
		IsMatch:             false,
		Similarity:          best.Similarity,
		Distance:            best.Distance,
		Threshold:           threshold,
		ClosestPreviewIndex: bestIdx,
		Details: fmt.Sprintf("raw %s content matches no preview: closest is preview %d at %.0f%% (distance %d); "+
			"threshold is %d bits (%.0f%%), review manually if borderline",
			format, bestIdx, best.Similarity, best.Distance, threshold, Similarity(threshold)),
		Warnings: warnings,
	}
}

// unchecked builds a verdict for a validation that could not run.
func (cfg *Config) unchecked(status VerdictStatus, threshold int, details string) Verdict {
	return Verdict{
		Status:              status,
		IsMatch:             cfg.failOpen(),
		Skipped:             true,
		Threshold:           threshold,
		ClosestPreviewIndex: -1,
		Details:             details,
	}
}
