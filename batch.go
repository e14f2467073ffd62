package designcheck

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// DescriptorID locates an image within its owning submission.
type DescriptorID struct {
	Design int    // position of the design within a multi-design upload
	Image  int    // position of the image within the design
	Name   string // optional original file name
}

func (id DescriptorID) String() string {
	if id.Name != "" {
		return fmt.Sprintf("design %d image %d (%s)", id.Design, id.Image, id.Name)
	}
	return fmt.Sprintf("design %d image %d", id.Design, id.Image)
}

// Descriptor is one freshly uploaded image. It lives for a single request.
type Descriptor struct {
	ID   DescriptorID
	Data []byte

	// Fingerprint is reused when set and filled in once computed.
	Fingerprint *Fingerprint
}

// HashResult is the per-item outcome of hashing a Descriptor. Err is set when
// the item could not be hashed; such items take no part in matching.
type HashResult struct {
	ID          DescriptorID
	Fingerprint Fingerprint
	Err         error
}

// MatchPair is a duplicate found within one batch. Original is the earlier,
// accepted item; Duplicate is the later, rejected one.
type MatchPair struct {
	Original   DescriptorID
	Duplicate  DescriptorID
	Distance   int
	Similarity float64
}

// BatchReport holds all duplicate pairs plus every item's hash outcome in
// input order.
type BatchReport struct {
	Pairs  []MatchPair
	Hashes []HashResult

	// Incomparable counts comparisons skipped because the two fingerprints
	// use different algorithms. Those items were not checked against each
	// other, so a non-zero count means the pairing is incomplete.
	Incomparable int
}

// Failures returns the items that could not be hashed.
func (r BatchReport) Failures() []HashResult {
	var out []HashResult
	for _, h := range r.Hashes {
		if h.Err != nil {
			out = append(out, h)
		}
	}
	return out
}

// FindBatchDuplicates is Config.FindBatchDuplicates with a zero Config.
func FindBatchDuplicates(ctx context.Context, images []*Descriptor, threshold int) (BatchReport, error) {
	var cfg Config
	return cfg.FindBatchDuplicates(ctx, images, threshold)
}

// FindBatchDuplicates reports every image in images that is within threshold
// of an earlier unique image. Hashing runs concurrently; matching always
// follows input order, so the first-seen item is the original. Items that
// fail to hash are reported in BatchReport.Hashes and skipped.
func (cfg *Config) FindBatchDuplicates(ctx context.Context, images []*Descriptor, threshold int) (BatchReport, error) {
	if threshold < 0 {
		return BatchReport{}, fmt.Errorf("%w: got %d", ErrInvalidThreshold, threshold)
	}
	cfg = cfg.WithDefaults()

	hashes, err := cfg.hashAll(ctx, images)
	if err != nil {
		return BatchReport{}, err
	}

	report := BatchReport{Hashes: hashes}
	var accepted []int

	for i, h := range hashes {
		if h.Err != nil {
			slog.Debug("designcheck: batch item not hashed", "item", h.ID.String(), "error", h.Err.Error())
			continue
		}

		duplicate := false
		for _, j := range accepted {
			c, err := Compare(hashes[j].Fingerprint, h.Fingerprint, threshold)
			if err != nil {
				report.Incomparable++
				slog.Warn("designcheck: batch items not comparable",
					"original", hashes[j].ID.String(), "item", h.ID.String(), "error", err.Error())
				continue
			}
			if !c.IsMatch {
				continue
			}
			report.Pairs = append(report.Pairs, MatchPair{
				Original:   hashes[j].ID,
				Duplicate:  h.ID,
				Distance:   c.Distance,
				Similarity: c.Similarity,
			})
			slog.Debug("designcheck: batch duplicate",
				"original", hashes[j].ID.String(), "duplicate", h.ID.String(), "distance", c.Distance)
			duplicate = true
			break
		}

		if !duplicate {
			accepted = append(accepted, i)
		}
	}

	return report, nil
}

// hashAll fingerprints every descriptor with at most cfg.MaxConcurrency
// workers. Results are indexed by input position. Only context cancellation
// is returned as an error; per-item failures land in HashResult.Err.
func (cfg *Config) hashAll(ctx context.Context, images []*Descriptor) ([]HashResult, error) {
	results := make([]HashResult, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)

	for i, d := range images {
		if d == nil {
			results[i] = HashResult{Err: &DecodeError{Subject: "image", Err: fmt.Errorf("nil descriptor at %d", i)}}
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = cfg.hashDescriptor(d)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// hashDescriptor returns the cached fingerprint or computes and caches it.
func (cfg *Config) hashDescriptor(d *Descriptor) (res HashResult) {
	res.ID = d.ID
	defer func() {
		if r := recover(); r != nil {
			res.Err = &DecodeError{Subject: "image", Err: fmt.Errorf("panic: %v", r)}
			if cfg.OnPanic != nil {
				cfg.OnPanic("hashDescriptor", r)
			}
		}
	}()

	if d.Fingerprint != nil {
		res.Fingerprint = *d.Fingerprint
		return res
	}

	fp, err := cfg.hashBytes(d.Data)
	if err != nil {
		res.Err = err
		return res
	}
	d.Fingerprint = &fp
	res.Fingerprint = fp
	return res
}
