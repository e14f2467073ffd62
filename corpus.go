package designcheck

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// CorpusEntry is one previously stored submission. It is owned by the record
// store and read-only for the duration of a comparison.
type CorpusEntry struct {
	RecordID  string
	Primary   Fingerprint
	Secondary []Fingerprint // fingerprints of further images of the same submission
}

// fingerprints returns the primary followed by the secondary fingerprints.
func (e CorpusEntry) fingerprints() []Fingerprint {
	out := make([]Fingerprint, 0, 1+len(e.Secondary))
	out = append(out, e.Primary)
	return append(out, e.Secondary...)
}

// ParseCorpusEntry builds an entry from stored fingerprint strings.
func ParseCorpusEntry(recordID, primary string, secondary ...string) (CorpusEntry, error) {
	p, err := ParseFingerprint(primary)
	if err != nil {
		return CorpusEntry{}, fmt.Errorf("record %s primary: %w", recordID, err)
	}
	e := CorpusEntry{RecordID: recordID, Primary: p}
	for i, s := range secondary {
		fp, err := ParseFingerprint(s)
		if err != nil {
			return CorpusEntry{}, fmt.Errorf("record %s secondary %d: %w", recordID, i, err)
		}
		e.Secondary = append(e.Secondary, fp)
	}
	return e, nil
}

// CorpusFilter narrows the corpus before comparison. Applying it is the
// record store's job.
type CorpusFilter struct {
	OwnerID         string   // only entries of this owner; empty = all owners
	Statuses        []string // only entries in these statuses; empty = any
	ExcludeRecordID string   // skip the record being re-checked
}

// CorpusSource is the record-store collaborator.
type CorpusSource interface {
	CorpusEntries(ctx context.Context, filter CorpusFilter) ([]CorpusEntry, error)
}

// CorpusMatch pairs a fresh image with the stored record it resembles.
type CorpusMatch struct {
	Fresh      DescriptorID
	RecordID   string
	Slot       int // 0 = primary fingerprint, n = Secondary[n-1]
	Distance   int
	Similarity float64
}

// CorpusReport is the outcome of a corpus duplicate check.
type CorpusReport struct {
	Matches []CorpusMatch
	Hashes  []HashResult

	// Incomplete is set when the corpus could not be fetched or some stored
	// fingerprints could not be compared; Reason says why.
	Incomplete bool
	Reason     string

	// Incomparable counts fresh-vs-stored comparisons skipped because the
	// fingerprints use different algorithms.
	Incomparable int
}

// FindCorpusDuplicates is Config.FindCorpusDuplicates with a zero Config.
func FindCorpusDuplicates(ctx context.Context, fresh []*Descriptor, corpus []CorpusEntry, threshold int) (CorpusReport, error) {
	var cfg Config
	return cfg.FindCorpusDuplicates(ctx, fresh, corpus, threshold)
}

// FindCorpusDuplicates compares every fresh image against every corpus
// fingerprint (primary first, then secondary) and reports, per fresh image,
// the closest entry within threshold. Ties go to the earlier entry.
// This is a linear scan; the corpus must be pre-filtered upstream.
func (cfg *Config) FindCorpusDuplicates(ctx context.Context, fresh []*Descriptor, corpus []CorpusEntry, threshold int) (CorpusReport, error) {
	if threshold < 0 {
		return CorpusReport{}, fmt.Errorf("%w: got %d", ErrInvalidThreshold, threshold)
	}
	cfg = cfg.WithDefaults()

	hashes, err := cfg.hashAll(ctx, fresh)
	if err != nil {
		return CorpusReport{}, err
	}

	report := CorpusReport{Hashes: hashes}
	for _, h := range hashes {
		if h.Err != nil {
			slog.Debug("designcheck: corpus item not hashed", "item", h.ID.String(), "error", h.Err.Error())
			continue
		}
		m, ok, skipped := closestEntry(h, corpus, threshold)
		if skipped > 0 {
			slog.Warn("designcheck: corpus fingerprints not comparable",
				"item", h.ID.String(), "skipped", skipped, "algorithm", h.Fingerprint.Algorithm().String())
			report.Incomparable += skipped
		}
		if ok {
			slog.Debug("designcheck: corpus duplicate",
				"item", h.ID.String(), "record", m.RecordID, "distance", m.Distance)
			report.Matches = append(report.Matches, m)
		}
	}
	if report.Incomparable > 0 {
		report.Incomplete = true
		report.Reason = fmt.Sprintf("%d corpus comparisons skipped: %v", report.Incomparable, ErrAlgorithmMismatch)
	}
	return report, nil
}

// CheckCorpus fetches a snapshot from src and runs FindCorpusDuplicates.
// A failing source yields an Incomplete report, not an error.
func (cfg *Config) CheckCorpus(ctx context.Context, src CorpusSource, filter CorpusFilter, fresh []*Descriptor, threshold int) (CorpusReport, error) {
	corpus, err := src.CorpusEntries(ctx, filter)
	if err != nil {
		if ctx.Err() != nil {
			return CorpusReport{}, ctx.Err()
		}
		slog.Warn("designcheck: corpus fetch failed", "owner", filter.OwnerID, "error", err.Error())
		return CorpusReport{Incomplete: true, Reason: "corpus unavailable: " + err.Error()}, nil
	}
	return cfg.FindCorpusDuplicates(ctx, fresh, corpus, threshold)
}

// closestEntry returns the lowest-distance corpus fingerprint within
// threshold, plus the number of fingerprints that could not be compared.
func closestEntry(h HashResult, corpus []CorpusEntry, threshold int) (CorpusMatch, bool, int) {
	best := CorpusMatch{Distance: FingerprintBits + 1}
	found := false
	skipped := 0

	for _, e := range corpus {
		for slot, fp := range e.fingerprints() {
			c, err := Compare(h.Fingerprint, fp, threshold)
			if err != nil {
				skipped++
				continue
			}
			if !c.IsMatch || c.Distance >= best.Distance {
				continue
			}
			best = CorpusMatch{
				Fresh:      h.ID,
				RecordID:   e.RecordID,
				Slot:       slot,
				Distance:   c.Distance,
				Similarity: c.Similarity,
			}
			found = true
		}
	}
	return best, found, skipped
}

// SuggestReferences returns up to limit corpus records within threshold of
// fp, closest first, one match per record (its closest slot). It backs the
// looser "similar to an earlier upload" hints; see DefaultReferenceThreshold.
// A limit <= 0 means no limit. When some stored fingerprints use a different
// algorithm than fp, the matches found among the rest are returned together
// with an error wrapping ErrAlgorithmMismatch.
func SuggestReferences(fp Fingerprint, corpus []CorpusEntry, threshold, limit int) ([]CorpusMatch, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidThreshold, threshold)
	}

	var out []CorpusMatch
	skipped := 0
	for _, e := range corpus {
		bestSlot, bestDist := -1, FingerprintBits+1
		for slot, other := range e.fingerprints() {
			c, err := Compare(fp, other, threshold)
			if err != nil {
				skipped++
				continue
			}
			if !c.IsMatch || c.Distance >= bestDist {
				continue
			}
			bestSlot, bestDist = slot, c.Distance
		}
		if bestSlot < 0 {
			continue
		}
		out = append(out, CorpusMatch{
			RecordID:   e.RecordID,
			Slot:       bestSlot,
			Distance:   bestDist,
			Similarity: Similarity(bestDist),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Distance < out[j].Distance
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if skipped > 0 {
		return out, fmt.Errorf("%d reference comparisons skipped: %w", skipped, ErrAlgorithmMismatch)
	}
	return out, nil
}
