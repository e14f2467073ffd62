package server

import (
	designcheck "github.com/anatolykoptev/go-designcheck"
)

type HealthResponse struct {
	Status string `json:"status"`
	Corpus bool   `json:"corpus"`
}

type FingerprintResponse struct {
	Name        string `json:"name,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Binary      string `json:"binary,omitempty"`
	Algorithm   string `json:"algorithm,omitempty"`
	Format      string `json:"format,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Error       string `json:"error,omitempty"`
}

type CompareRequest struct {
	A         string `json:"a"`
	B         string `json:"b"`
	Threshold *int   `json:"threshold,omitempty"`
}

type CompareResponse struct {
	Distance   int     `json:"distance"`
	Similarity float64 `json:"similarity"`
	IsMatch    bool    `json:"is_match"`
	Threshold  int     `json:"threshold"`
}

type ImageRef struct {
	Design int    `json:"design"`
	Image  int    `json:"image"`
	Name   string `json:"name,omitempty"`
}

// NewImageRef converts a descriptor id to its JSON form.
func NewImageRef(id designcheck.DescriptorID) ImageRef {
	return ImageRef{Design: id.Design, Image: id.Image, Name: id.Name}
}

type PairResponse struct {
	Original   ImageRef `json:"original"`
	Duplicate  ImageRef `json:"duplicate"`
	Distance   int      `json:"distance"`
	Similarity float64  `json:"similarity"`
}

type CorpusMatchResponse struct {
	Image      ImageRef `json:"image"`
	RecordID   string   `json:"record_id"`
	Slot       int      `json:"slot"`
	Distance   int      `json:"distance"`
	Similarity float64  `json:"similarity"`
}

type FailureResponse struct {
	Image ImageRef `json:"image"`
	Error string   `json:"error"`
}

type DuplicatesResponse struct {
	Fingerprints     []FingerprintResponse `json:"fingerprints"`
	Pairs            []PairResponse        `json:"pairs"`
	CorpusMatches    []CorpusMatchResponse `json:"corpus_matches"`
	References       []CorpusMatchResponse `json:"references,omitempty"`
	Failures         []FailureResponse     `json:"failures,omitempty"`
	Incomparable     int                   `json:"incomparable,omitempty"`
	CorpusChecked    bool                  `json:"corpus_checked"`
	CorpusIncomplete bool                  `json:"corpus_incomplete,omitempty"`
	CorpusReason     string                `json:"corpus_reason,omitempty"`
}

type ExtractResponse struct {
	Status  string `json:"status"`
	Format  string `json:"format"`
	Reason  string `json:"reason,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	DataURL string `json:"data_url,omitempty"`
}

type ValidateRequest struct {
	RawPath      string   `json:"raw_path"`
	Format       string   `json:"format,omitempty"` // derived from raw_path when empty
	PreviewPaths []string `json:"preview_paths"`
	Threshold    *int     `json:"threshold,omitempty"`
}

type ValidateBatchRequest struct {
	Requests []ValidateRequest `json:"requests"`
}

type VerdictResponse struct {
	Status              string   `json:"status"`
	IsMatch             bool     `json:"is_match"`
	Skipped             bool     `json:"skipped"`
	Similarity          float64  `json:"similarity"`
	Distance            int      `json:"distance"`
	Threshold           int      `json:"threshold"`
	MatchedPreviewIndex *int     `json:"matched_preview_index"`
	ClosestPreviewIndex int      `json:"closest_preview_index"`
	Details             string   `json:"details"`
	Warnings            []string `json:"warnings,omitempty"`
}

// NewVerdictResponse converts an engine verdict to its JSON form.
func NewVerdictResponse(v designcheck.Verdict) VerdictResponse {
	return VerdictResponse{
		Status:              v.Status.String(),
		IsMatch:             v.IsMatch,
		Skipped:             v.Skipped,
		Similarity:          v.Similarity,
		Distance:            v.Distance,
		Threshold:           v.Threshold,
		MatchedPreviewIndex: v.MatchedPreviewIndex,
		ClosestPreviewIndex: v.ClosestPreviewIndex,
		Details:             v.Details,
		Warnings:            v.Warnings,
	}
}

type RecordRequest struct {
	RecordID     string   `json:"record_id"`
	OwnerID      string   `json:"owner_id"`
	Status       string   `json:"status"`
	Fingerprints []string `json:"fingerprints"`
}
