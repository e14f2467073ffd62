// Package store defines the stored-submission record shared by the record
// store implementations in its subpackages.
package store

import (
	"context"
	"errors"
	"fmt"

	designcheck "github.com/anatolykoptev/go-designcheck"
)

// Record is one stored submission: its owner, review status and the
// fingerprints of its images, primary first.
type Record struct {
	RecordID     string
	OwnerID      string
	Status       string
	Fingerprints []designcheck.Fingerprint
}

// Store persists records and serves corpus snapshots to the duplicate matcher.
type Store interface {
	designcheck.CorpusSource
	Put(ctx context.Context, rec Record) error
	Close(ctx context.Context) error
}

// ErrEmptyRecord is returned by Validate for records missing an id or fingerprints.
var ErrEmptyRecord = errors.New("store: record needs an id and at least one fingerprint")

// Validate checks the fields every store requires.
func (r Record) Validate() error {
	if r.RecordID == "" || len(r.Fingerprints) == 0 {
		return fmt.Errorf("%w (record %q)", ErrEmptyRecord, r.RecordID)
	}
	return nil
}

// Entry converts the record to the matcher's corpus entry.
func (r Record) Entry() designcheck.CorpusEntry {
	e := designcheck.CorpusEntry{RecordID: r.RecordID}
	if len(r.Fingerprints) > 0 {
		e.Primary = r.Fingerprints[0]
		e.Secondary = append([]designcheck.Fingerprint(nil), r.Fingerprints[1:]...)
	}
	return e
}

// DecodeFingerprint restores a fingerprint from its stored hex value and
// algorithm name. An empty or unknown algorithm yields an algorithm-free
// fingerprint.
func DecodeFingerprint(value, algorithm string) (designcheck.Fingerprint, error) {
	f, err := designcheck.ParseFingerprint(value)
	if err != nil {
		return designcheck.Fingerprint{}, err
	}
	if algorithm == "" {
		return f, nil
	}
	algo, err := designcheck.ParseAlgorithm(algorithm)
	if err != nil {
		return f, nil
	}
	return designcheck.NewFingerprint(f.Bits(), algo), nil
}
