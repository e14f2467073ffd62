package designcheck

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/corona10/goimagehash"
)

// FingerprintBits is the bit length of every fingerprint.
const FingerprintBits = 64

// fingerprintHexLen is the fixed storage width of a fingerprint string.
const fingerprintHexLen = FingerprintBits / 4

// Algorithm selects how a raster is reduced to a fingerprint.
type Algorithm int

const (
	AlgorithmUnspecified Algorithm = iota // parsed from storage; comparable with any algorithm
	AlgorithmMedian                       // 8x8 grayscale grid vs. its median (default)
	AlgorithmAverage                      // 8x8 grayscale grid vs. its mean
	AlgorithmDifference                   // horizontal gradient (dHash)
	AlgorithmPerception                   // DCT low frequencies (pHash)
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmMedian:
		return "median"
	case AlgorithmAverage:
		return "average"
	case AlgorithmDifference:
		return "difference"
	case AlgorithmPerception:
		return "perception"
	default:
		return "unspecified"
	}
}

// ParseAlgorithm maps a config name to an Algorithm. Empty means median.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "median":
		return AlgorithmMedian, nil
	case "average", "ahash":
		return AlgorithmAverage, nil
	case "difference", "dhash":
		return AlgorithmDifference, nil
	case "perception", "phash":
		return AlgorithmPerception, nil
	}
	return AlgorithmUnspecified, fmt.Errorf("designcheck: unknown hash algorithm %q", name)
}

// goimagehashKinds maps the kind prefix of goimagehash.ImageHash.ToString.
var goimagehashKinds = map[string]Algorithm{
	"a": AlgorithmAverage,
	"d": AlgorithmDifference,
	"p": AlgorithmPerception,
}

// Fingerprint is a 64-bit structural fingerprint of one raster image.
// It is a similarity fingerprint, not a secure identifier.
type Fingerprint struct {
	bits uint64
	algo Algorithm
}

// NewFingerprint wraps raw bits produced by algo.
func NewFingerprint(bits uint64, algo Algorithm) Fingerprint {
	return Fingerprint{bits: bits, algo: algo}
}

// Bits returns the fingerprint as an integer, first grid cell in the highest bit.
func (f Fingerprint) Bits() uint64 { return f.bits }

// Algorithm returns the algorithm that produced f.
func (f Fingerprint) Algorithm() Algorithm { return f.algo }

// String returns the fixed-width storage form: 16 lowercase hex characters.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%0*x", fingerprintHexLen, f.bits)
}

// Binary returns the fingerprint as a 64-character string of '0'/'1'.
func (f Fingerprint) Binary() string {
	return fmt.Sprintf("%0*b", FingerprintBits, f.bits)
}

// comparable reports whether f and g were produced by compatible algorithms.
func (f Fingerprint) comparable(g Fingerprint) bool {
	return f.algo == g.algo || f.algo == AlgorithmUnspecified || g.algo == AlgorithmUnspecified
}

// imageHash adapts f to goimagehash for distance computation.
func (f Fingerprint) imageHash() *goimagehash.ImageHash {
	return goimagehash.NewImageHash(f.bits, goimagehash.AHash)
}

// ParseFingerprint normalises a stored fingerprint string. Accepted forms:
//   - up to 16 hex characters, left-padded with '0' to 16
//   - exactly 64 '0'/'1' characters
//   - goimagehash "kind:hex" strings ("a:…", "d:…", "p:…")
//
// Longer input is rejected with ErrMalformedFingerprint, never truncated.
func ParseFingerprint(s string) (Fingerprint, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	algo := AlgorithmUnspecified

	if kind, rest, ok := strings.Cut(s, ":"); ok {
		a, known := goimagehashKinds[kind]
		if !known {
			return Fingerprint{}, fmt.Errorf("%w: unknown kind prefix %q", ErrMalformedFingerprint, kind)
		}
		algo, s = a, rest
	}

	if s == "" {
		return Fingerprint{}, fmt.Errorf("%w: empty", ErrMalformedFingerprint)
	}

	if len(s) == FingerprintBits && strings.Trim(s, "01") == "" {
		bits, err := strconv.ParseUint(s, 2, FingerprintBits)
		if err != nil {
			return Fingerprint{}, fmt.Errorf("%w: %v", ErrMalformedFingerprint, err)
		}
		return Fingerprint{bits: bits, algo: algo}, nil
	}

	if len(s) > fingerprintHexLen {
		return Fingerprint{}, fmt.Errorf("%w: %d characters, want at most %d",
			ErrMalformedFingerprint, len(s), fingerprintHexLen)
	}

	padded := strings.Repeat("0", fingerprintHexLen-len(s)) + s
	bits, err := strconv.ParseUint(padded, 16, FingerprintBits)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %q is not hex", ErrMalformedFingerprint, s)
	}
	return Fingerprint{bits: bits, algo: algo}, nil
}
