package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	designcheck "github.com/anatolykoptev/go-designcheck"
	"github.com/anatolykoptev/go-designcheck/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const halfBlackSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 160 80"><rect width="80" height="80" fill="#000"/></svg>`

func splitPNG(t *testing.T, w, h int, rotate bool) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			dark := x < w/2
			if rotate {
				dark = y < h/2
			}
			if dark {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type memFiles map[string][]byte

func (m memFiles) ReadFile(_ context.Context, path string) ([]byte, error) {
	if data, ok := m[path]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
}

type memStore struct {
	mu      sync.Mutex
	records []store.Record
	err     error
}

func (m *memStore) CorpusEntries(_ context.Context, f designcheck.CorpusFilter) ([]designcheck.CorpusEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []designcheck.CorpusEntry
	for _, r := range m.records {
		if f.OwnerID != "" && r.OwnerID != f.OwnerID {
			continue
		}
		out = append(out, r.Entry())
	}
	return out, nil
}

func (m *memStore) Put(_ context.Context, rec store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) Close(context.Context) error { return nil }

func newTestServer(t *testing.T, st store.Store, files memFiles) *httptest.Server {
	t.Helper()
	srv := New(Options{
		Engine: &designcheck.Config{Files: files},
		Store:  st,
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

type part struct {
	name string
	data []byte
}

func postMultipart(t *testing.T, url string, parts []part, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		fw, err := mw.CreateFormFile("file", p.name)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth_RequestID(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
	body := decode[HealthResponse](t, resp)
	assert.Equal(t, "healthy", body.Status)
	assert.False(t, body.Corpus)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "req-42", resp2.Header.Get(RequestIDHeader))
}

func TestHash(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)

	resp := postMultipart(t, ts.URL+"/v1/hash", []part{
		{name: "a.png", data: splitPNG(t, 64, 64, false)},
		{name: "broken.png", data: []byte("nope")},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[[]FingerprintResponse](t, resp)
	require.Len(t, out, 2)
	assert.Equal(t, "0f0f0f0f0f0f0f0f", out[0].Fingerprint)
	assert.Equal(t, "median", out[0].Algorithm)
	assert.Equal(t, "png", out[0].Format)
	assert.Equal(t, 64, out[0].Width)
	assert.NotEmpty(t, out[1].Error)
}

func TestHash_NoFiles(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)

	resp := postMultipart(t, ts.URL+"/v1/hash", nil, map[string]string{"x": "y"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	e := decode[AppError](t, resp)
	assert.Equal(t, ErrValidation, e.Type)
	assert.NotEmpty(t, e.RequestID)
}

func TestCompare(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)

	resp := postJSON(t, ts.URL+"/v1/compare", CompareRequest{A: "0000000000000000", B: "3"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c := decode[CompareResponse](t, resp)
	assert.Equal(t, 2, c.Distance)
	assert.True(t, c.IsMatch)
	assert.Equal(t, designcheck.DefaultThreshold, c.Threshold)

	zero := 0
	resp = postJSON(t, ts.URL+"/v1/compare", CompareRequest{A: "0", B: "3", Threshold: &zero})
	c = decode[CompareResponse](t, resp)
	assert.False(t, c.IsMatch)
}

func TestCompare_ConfiguredZeroThreshold(t *testing.T) {
	t.Parallel()

	zero := 0
	srv := New(Options{Threshold: &zero, ReferenceThreshold: &zero})
	assert.Equal(t, 0, srv.threshold)
	assert.Equal(t, 0, srv.refThreshold)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	resp := postJSON(t, ts.URL+"/v1/compare", CompareRequest{A: "0", B: "3"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c := decode[CompareResponse](t, resp)
	assert.Equal(t, 0, c.Threshold)
	assert.False(t, c.IsMatch, "an exact-match policy rejects distance 2")

	resp = postJSON(t, ts.URL+"/v1/compare", CompareRequest{A: "3", B: "3"})
	assert.True(t, decode[CompareResponse](t, resp).IsMatch)
}

func TestNew_EngineCopiedWithDefaults(t *testing.T) {
	t.Parallel()

	engine := &designcheck.Config{}
	srv := New(Options{Engine: engine})
	assert.Equal(t, designcheck.Config{}, *engine, "caller's config is left untouched")
	assert.Equal(t, designcheck.DefaultSVGMaxSize, srv.engine.SVGMaxSize)
	assert.Equal(t, designcheck.DefaultThreshold, srv.threshold)
	assert.Equal(t, designcheck.DefaultReferenceThreshold, srv.refThreshold)
}

func TestCompare_Errors(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)

	resp := postJSON(t, ts.URL+"/v1/compare", CompareRequest{A: "xyz", B: "0"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrValidation, decode[AppError](t, resp).Type)

	neg := -1
	resp = postJSON(t, ts.URL+"/v1/compare", CompareRequest{A: "0", B: "0", Threshold: &neg})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	raw, err := http.Post(ts.URL+"/v1/compare", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestDuplicates_BatchOnly(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)

	split := splitPNG(t, 64, 64, false)
	resp := postMultipart(t, ts.URL+"/v1/duplicates", []part{
		{name: "a.png", data: split},
		{name: "b.png", data: splitPNG(t, 64, 64, true)},
		{name: "c.png", data: split},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[DuplicatesResponse](t, resp)
	require.Len(t, out.Pairs, 1)
	assert.Equal(t, 1, out.Pairs[0].Original.Design)
	assert.Equal(t, 3, out.Pairs[0].Duplicate.Design)
	assert.Equal(t, "c.png", out.Pairs[0].Duplicate.Name)
	assert.False(t, out.CorpusChecked)
	assert.Len(t, out.Fingerprints, 3)
}

func TestDuplicates_WithCorpus(t *testing.T) {
	t.Parallel()

	split := splitPNG(t, 64, 64, false)
	fp, err := designcheck.HashImage(split)
	require.NoError(t, err)
	near := designcheck.NewFingerprint(fp.Bits()^0x3ff, designcheck.AlgorithmMedian) // distance 10

	st := &memStore{records: []store.Record{
		{RecordID: "old-1", OwnerID: "u1", Fingerprints: []designcheck.Fingerprint{fp}},
		{RecordID: "old-2", OwnerID: "u1", Fingerprints: []designcheck.Fingerprint{near}},
		{RecordID: "other", OwnerID: "u2", Fingerprints: []designcheck.Fingerprint{fp}},
	}}
	ts := newTestServer(t, st, nil)

	resp := postMultipart(t, ts.URL+"/v1/duplicates", []part{{name: "new.png", data: split}},
		map[string]string{"owner_id": "u1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[DuplicatesResponse](t, resp)
	assert.True(t, out.CorpusChecked)
	require.Len(t, out.CorpusMatches, 1)
	assert.Equal(t, "old-1", out.CorpusMatches[0].RecordID)
	assert.Equal(t, 0, out.CorpusMatches[0].Distance)

	require.Len(t, out.References, 2)
	assert.Equal(t, "old-1", out.References[0].RecordID)
	assert.Equal(t, "old-2", out.References[1].RecordID)
	assert.Equal(t, 10, out.References[1].Distance)
}

func TestDuplicates_CorpusUnavailable(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &memStore{err: errors.New("connection reset")}, nil)

	resp := postMultipart(t, ts.URL+"/v1/duplicates", []part{{name: "a.png", data: splitPNG(t, 32, 32, false)}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[DuplicatesResponse](t, resp)
	assert.True(t, out.CorpusIncomplete)
	assert.Contains(t, out.CorpusReason, "connection reset")
}

func TestDuplicates_CorpusOfOtherAlgorithm(t *testing.T) {
	t.Parallel()
	st := &memStore{records: []store.Record{{
		RecordID:     "legacy",
		Fingerprints: []designcheck.Fingerprint{designcheck.NewFingerprint(0, designcheck.AlgorithmDifference)},
	}}}
	ts := newTestServer(t, st, nil)

	resp := postMultipart(t, ts.URL+"/v1/duplicates", []part{{name: "a.png", data: splitPNG(t, 32, 32, false)}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[DuplicatesResponse](t, resp)
	assert.True(t, out.CorpusChecked)
	assert.Empty(t, out.CorpusMatches)
	assert.Empty(t, out.References)
	assert.True(t, out.CorpusIncomplete)
	assert.Contains(t, out.CorpusReason, "skipped")
}

func TestExtract(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, nil)

	resp := postMultipart(t, ts.URL+"/v1/extract", []part{{name: "logo.svg", data: []byte(halfBlackSVG)}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[ExtractResponse](t, resp)
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "svg", out.Format)
	assert.Equal(t, 160, out.Width)
	assert.Equal(t, 80, out.Height)
	assert.True(t, strings.HasPrefix(out.DataURL, "data:image/png;base64,"))

	resp = postMultipart(t, ts.URL+"/v1/extract", []part{{name: "art.bin", data: []byte("CDR")}},
		map[string]string{"format": "cdr"})
	out = decode[ExtractResponse](t, resp)
	assert.Equal(t, "skipped", out.Status)
	assert.Empty(t, out.DataURL)

	resp = postMultipart(t, ts.URL+"/v1/extract", []part{{name: "art.psd", data: []byte("8BPS")}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	files := memFiles{
		"raw/logo.svg":    []byte(halfBlackSVG),
		"raw/logo.cdr":    []byte("CDR"),
		"prev/right.png":  splitPNG(t, 64, 64, false),
		"prev/wrong.png":  splitPNG(t, 64, 64, true),
		"prev/broken.png": []byte("nope"),
	}
	ts := newTestServer(t, nil, files)

	resp := postJSON(t, ts.URL+"/v1/validate", ValidateRequest{
		RawPath:      "raw/logo.svg",
		PreviewPaths: []string{"prev/wrong.png", "prev/broken.png", "prev/right.png"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode[VerdictResponse](t, resp)
	assert.Equal(t, "matched", v.Status)
	assert.True(t, v.IsMatch)
	require.NotNil(t, v.MatchedPreviewIndex)
	assert.Equal(t, 2, *v.MatchedPreviewIndex)
	assert.Len(t, v.Warnings, 1)

	resp = postJSON(t, ts.URL+"/v1/validate", ValidateRequest{RawPath: "raw/logo.cdr", PreviewPaths: []string{"prev/right.png"}})
	v = decode[VerdictResponse](t, resp)
	assert.Equal(t, "skipped", v.Status)
	assert.True(t, v.Skipped)
	assert.True(t, v.IsMatch)
	assert.Nil(t, v.MatchedPreviewIndex)

	resp = postJSON(t, ts.URL+"/v1/validate", ValidateRequest{PreviewPaths: []string{"prev/right.png"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidateBatch(t *testing.T) {
	t.Parallel()

	files := memFiles{
		"raw/logo.svg":   []byte(halfBlackSVG),
		"prev/right.png": splitPNG(t, 64, 64, false),
		"prev/wrong.png": splitPNG(t, 64, 64, true),
	}
	ts := newTestServer(t, nil, files)

	resp := postJSON(t, ts.URL+"/v1/validate/batch", ValidateBatchRequest{Requests: []ValidateRequest{
		{RawPath: "raw/logo.svg", PreviewPaths: []string{"prev/right.png"}},
		{RawPath: "raw/logo.svg", PreviewPaths: []string{"prev/wrong.png"}},
		{RawPath: "raw/missing.svg", PreviewPaths: []string{"prev/right.png"}},
	}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[[]VerdictResponse](t, resp)
	require.Len(t, out, 3)
	assert.Equal(t, "matched", out[0].Status)
	assert.Equal(t, "mismatch", out[1].Status)
	assert.Equal(t, "extraction_failed", out[2].Status)
}

func TestPutRecord(t *testing.T) {
	t.Parallel()

	resp := postJSON(t, newTestServer(t, nil, nil).URL+"/v1/records", RecordRequest{RecordID: "r1", Fingerprints: []string{"ff"}})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	st := &memStore{}
	ts := newTestServer(t, st, nil)

	resp = postJSON(t, ts.URL+"/v1/records", RecordRequest{RecordID: "r1", OwnerID: "u1", Fingerprints: []string{"ff", "0f"}})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, st.records, 1)
	assert.Len(t, st.records[0].Fingerprints, 2)

	resp = postJSON(t, ts.URL+"/v1/records", RecordRequest{RecordID: "r2", Fingerprints: []string{"zz"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/records", RecordRequest{RecordID: "r3"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFromError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code int
	}{
		{designcheck.ErrInvalidThreshold, http.StatusBadRequest},
		{fmt.Errorf("a: %w", designcheck.ErrMalformedFingerprint), http.StatusBadRequest},
		{&designcheck.DecodeError{Subject: "image", Err: errors.New("bad")}, http.StatusUnprocessableEntity},
		{designcheck.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{NewAppError(ErrNotConfigured, http.StatusNotImplemented, "x"), http.StatusNotImplemented},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.code, fromError(tc.err).StatusCode, tc.err.Error())
	}
}
