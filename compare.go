package designcheck

import (
	"fmt"
	"math"
)

// Comparison is the outcome of comparing two fingerprints under a threshold.
type Comparison struct {
	Distance   int     // differing bits, 0..FingerprintBits
	Similarity float64 // round((1 - Distance/FingerprintBits) * 100)
	IsMatch    bool    // Distance <= threshold
}

// Distance returns the Hamming distance between a and b. It is symmetric and
// zero iff the fingerprints are bit-identical. Algorithms are not checked;
// use Compare for that.
func Distance(a, b Fingerprint) int {
	// Both sides carry the same goimagehash kind, so Distance cannot fail.
	d, _ := a.imageHash().Distance(b.imageHash())
	return d
}

// Similarity converts a distance into a whole percentage:
// 0 → 100, FingerprintBits → 0, strictly decreasing in between.
func Similarity(distance int) float64 {
	if distance < 0 {
		distance = 0
	}
	if distance > FingerprintBits {
		distance = FingerprintBits
	}
	return math.Round((1 - float64(distance)/FingerprintBits) * 100)
}

// Compare computes the distance between a and b and applies threshold.
// It fails on negative thresholds and on fingerprints from different algorithms.
func Compare(a, b Fingerprint, threshold int) (Comparison, error) {
	if threshold < 0 {
		return Comparison{}, fmt.Errorf("%w: got %d", ErrInvalidThreshold, threshold)
	}
	if !a.comparable(b) {
		return Comparison{}, fmt.Errorf("%w: %s vs %s", ErrAlgorithmMismatch, a.algo, b.algo)
	}
	d := Distance(a, b)
	return Comparison{
		Distance:   d,
		Similarity: Similarity(d),
		IsMatch:    d <= threshold,
	}, nil
}

// IsSimilar reports whether a and b are within threshold bits of each other.
// Incomparable fingerprints and negative thresholds are never similar.
func IsSimilar(a, b Fingerprint, threshold int) bool {
	c, err := Compare(a, b, threshold)
	return err == nil && c.IsMatch
}
