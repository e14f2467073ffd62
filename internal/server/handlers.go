package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	designcheck "github.com/anatolykoptev/go-designcheck"
	"github.com/anatolykoptev/go-designcheck/store"
	"github.com/go-chi/render"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{Status: "healthy", Corpus: s.store != nil})
}

// hash fingerprints every uploaded "file" part.
func (s *Server) hash(w http.ResponseWriter, r *http.Request) {
	files, err := s.readUploads(w, r)
	if err != nil {
		sendError(w, r, err)
		return
	}

	out := make([]FingerprintResponse, 0, len(files))
	for _, f := range files {
		resp := FingerprintResponse{Name: f.name}
		info := designcheck.InspectImage(f.data)
		resp.Format, resp.Width, resp.Height = info.Format, info.Width, info.Height

		fp, err := s.engine.HashImage(f.data)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Fingerprint = fp.String()
			resp.Binary = fp.Binary()
			resp.Algorithm = fp.Algorithm().String()
		}
		out = append(out, resp)
	}
	render.JSON(w, r, out)
}

func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		sendError(w, r, NewAppError(ErrBadRequest, http.StatusBadRequest, "invalid JSON body", err.Error()))
		return
	}

	a, err := designcheck.ParseFingerprint(req.A)
	if err != nil {
		sendError(w, r, fmt.Errorf("a: %w", err))
		return
	}
	b, err := designcheck.ParseFingerprint(req.B)
	if err != nil {
		sendError(w, r, fmt.Errorf("b: %w", err))
		return
	}

	threshold := s.thresholdOr(req.Threshold)
	c, err := designcheck.Compare(a, b, threshold)
	if err != nil {
		sendError(w, r, err)
		return
	}
	render.JSON(w, r, CompareResponse{
		Distance:   c.Distance,
		Similarity: c.Similarity,
		IsMatch:    c.IsMatch,
		Threshold:  threshold,
	})
}

// duplicates runs the batch matcher over the uploaded files and, when a
// store is configured, the corpus matcher plus reference suggestions.
// Form fields: owner_id, statuses (comma separated), exclude_record_id,
// threshold.
func (s *Server) duplicates(w http.ResponseWriter, r *http.Request) {
	files, err := s.readUploads(w, r)
	if err != nil {
		sendError(w, r, err)
		return
	}
	threshold, err := formThreshold(r, s.threshold)
	if err != nil {
		sendError(w, r, err)
		return
	}

	descs := make([]*designcheck.Descriptor, len(files))
	for i, f := range files {
		descs[i] = &designcheck.Descriptor{
			ID:   designcheck.DescriptorID{Design: i + 1, Image: 1, Name: f.name},
			Data: f.data,
		}
	}

	ctx := r.Context()
	batch, err := s.engine.FindBatchDuplicates(ctx, descs, threshold)
	if err != nil {
		sendError(w, r, err)
		return
	}

	resp := DuplicatesResponse{
		Pairs:         []PairResponse{},
		CorpusMatches: []CorpusMatchResponse{},
		Incomparable:  batch.Incomparable,
	}
	for _, h := range batch.Hashes {
		fr := FingerprintResponse{Name: h.ID.Name}
		if h.Err != nil {
			fr.Error = h.Err.Error()
			resp.Failures = append(resp.Failures, FailureResponse{Image: NewImageRef(h.ID), Error: h.Err.Error()})
		} else {
			fr.Fingerprint = h.Fingerprint.String()
			fr.Algorithm = h.Fingerprint.Algorithm().String()
		}
		resp.Fingerprints = append(resp.Fingerprints, fr)
	}
	for _, p := range batch.Pairs {
		resp.Pairs = append(resp.Pairs, PairResponse{
			Original:   NewImageRef(p.Original),
			Duplicate:  NewImageRef(p.Duplicate),
			Distance:   p.Distance,
			Similarity: p.Similarity,
		})
	}

	if s.store == nil {
		render.JSON(w, r, resp)
		return
	}

	resp.CorpusChecked = true
	filter := designcheck.CorpusFilter{
		OwnerID:         r.FormValue("owner_id"),
		ExcludeRecordID: r.FormValue("exclude_record_id"),
	}
	if st := strings.TrimSpace(r.FormValue("statuses")); st != "" {
		filter.Statuses = strings.Split(st, ",")
	}

	corpus, err := s.store.CorpusEntries(ctx, filter)
	if err != nil {
		if ctx.Err() != nil {
			sendError(w, r, ctx.Err())
			return
		}
		resp.CorpusIncomplete = true
		resp.CorpusReason = "corpus unavailable: " + err.Error()
		render.JSON(w, r, resp)
		return
	}

	// Descriptors carry their fingerprints now; no image is hashed twice.
	report, err := s.engine.FindCorpusDuplicates(ctx, descs, corpus, threshold)
	if err != nil {
		sendError(w, r, err)
		return
	}
	resp.CorpusIncomplete = report.Incomplete
	resp.CorpusReason = report.Reason
	for _, m := range report.Matches {
		resp.CorpusMatches = append(resp.CorpusMatches, CorpusMatchResponse{
			Image:      NewImageRef(m.Fresh),
			RecordID:   m.RecordID,
			Slot:       m.Slot,
			Distance:   m.Distance,
			Similarity: m.Similarity,
		})
	}

	for _, h := range batch.Hashes {
		if h.Err != nil {
			continue
		}
		refs, err := designcheck.SuggestReferences(h.Fingerprint, corpus, s.refThreshold, defaultSuggestions)
		if err != nil && !errors.Is(err, designcheck.ErrAlgorithmMismatch) {
			sendError(w, r, err)
			return
		}
		for _, m := range refs {
			resp.References = append(resp.References, CorpusMatchResponse{
				Image:      NewImageRef(h.ID),
				RecordID:   m.RecordID,
				Slot:       m.Slot,
				Distance:   m.Distance,
				Similarity: m.Similarity,
			})
		}
	}

	render.JSON(w, r, resp)
}

// extract renders the uploaded raw design file. The format comes from the
// "format" form field or the file name.
func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	files, err := s.readUploads(w, r)
	if err != nil {
		sendError(w, r, err)
		return
	}
	f := files[0]

	format, err := formatOf(r.FormValue("format"), f.name)
	if err != nil {
		sendError(w, r, err)
		return
	}

	res := s.engine.ExtractRawContent(r.Context(), f.data, format)
	resp := ExtractResponse{
		Status:  res.Status.String(),
		Format:  string(res.Format),
		Reason:  res.Reason,
		DataURL: res.DataURL(),
	}
	if res.OK() {
		b := res.Image.Bounds()
		resp.Width, resp.Height = b.Dx(), b.Dy()
	}
	render.JSON(w, r, resp)
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		sendError(w, r, NewAppError(ErrBadRequest, http.StatusBadRequest, "invalid JSON body", err.Error()))
		return
	}
	vr, err := s.validationRequest(req)
	if err != nil {
		sendError(w, r, err)
		return
	}

	v, err := s.engine.ValidateRawAgainstPreviews(r.Context(), vr.RawPath, vr.Format, vr.PreviewPaths, vr.Threshold)
	if err != nil {
		sendError(w, r, err)
		return
	}
	render.JSON(w, r, NewVerdictResponse(v))
}

func (s *Server) validateBatch(w http.ResponseWriter, r *http.Request) {
	var req ValidateBatchRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		sendError(w, r, NewAppError(ErrBadRequest, http.StatusBadRequest, "invalid JSON body", err.Error()))
		return
	}

	reqs := make([]designcheck.ValidationRequest, len(req.Requests))
	for i, one := range req.Requests {
		vr, err := s.validationRequest(one)
		if err != nil {
			sendError(w, r, fmt.Errorf("request %d: %w", i, err))
			return
		}
		reqs[i] = vr
	}

	verdicts, err := s.engine.ValidateBatch(r.Context(), reqs)
	if err != nil {
		sendError(w, r, err)
		return
	}
	out := make([]VerdictResponse, len(verdicts))
	for i, v := range verdicts {
		out[i] = NewVerdictResponse(v)
	}
	render.JSON(w, r, out)
}

func (s *Server) putRecord(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		sendError(w, r, NewAppError(ErrNotConfigured, http.StatusNotImplemented, "no record store configured"))
		return
	}

	var req RecordRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		sendError(w, r, NewAppError(ErrBadRequest, http.StatusBadRequest, "invalid JSON body", err.Error()))
		return
	}

	rec := store.Record{RecordID: req.RecordID, OwnerID: req.OwnerID, Status: req.Status}
	for i, v := range req.Fingerprints {
		fp, err := designcheck.ParseFingerprint(v)
		if err != nil {
			sendError(w, r, fmt.Errorf("fingerprint %d: %w", i, err))
			return
		}
		rec.Fingerprints = append(rec.Fingerprints, fp)
	}
	if err := rec.Validate(); err != nil {
		sendError(w, r, NewAppError(ErrValidation, http.StatusBadRequest, "validation failed", err.Error()))
		return
	}

	if err := s.store.Put(r.Context(), rec); err != nil {
		sendError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]string{"record_id": rec.RecordID})
}

func (s *Server) validationRequest(req ValidateRequest) (designcheck.ValidationRequest, error) {
	if req.RawPath == "" {
		return designcheck.ValidationRequest{}, NewAppError(ErrValidation, http.StatusBadRequest, "raw_path is required")
	}
	format, err := formatOf(req.Format, req.RawPath)
	if err != nil {
		return designcheck.ValidationRequest{}, err
	}
	return designcheck.ValidationRequest{
		RawPath:      req.RawPath,
		Format:       format,
		PreviewPaths: req.PreviewPaths,
		Threshold:    s.thresholdOr(req.Threshold),
	}, nil
}

func (s *Server) thresholdOr(t *int) int {
	if t == nil {
		return s.threshold
	}
	return *t
}

type upload struct {
	name string
	data []byte
}

// readUploads returns every "file" part of a multipart request in form order.
func (s *Server) readUploads(w http.ResponseWriter, r *http.Request) ([]upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return nil, NewAppError(ErrBadRequest, http.StatusBadRequest, "expected a multipart form", err.Error())
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return nil, NewAppError(ErrValidation, http.StatusBadRequest, "no \"file\" parts in request")
	}

	out := make([]upload, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, NewAppError(ErrBadRequest, http.StatusBadRequest, "cannot read upload "+fh.Filename, err.Error())
		}
		out = append(out, upload{name: fh.Filename, data: data})
	}
	return out, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func formThreshold(r *http.Request, def int) (int, error) {
	v := strings.TrimSpace(r.FormValue("threshold"))
	if v == "" {
		return def, nil
	}
	t, err := strconv.Atoi(v)
	if err != nil {
		return 0, NewAppError(ErrValidation, http.StatusBadRequest, "threshold must be an integer", err.Error())
	}
	return t, nil
}

func formatOf(tag, path string) (designcheck.Format, error) {
	if tag != "" {
		return designcheck.ParseFormat(tag)
	}
	return designcheck.FormatFromPath(path)
}
