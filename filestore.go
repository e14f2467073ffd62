package designcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore is the file-store collaborator: it returns bytes given a path.
type FileStore interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

const (
	defaultMaxFileBytes = 64 << 20 // 64MB
	defaultHTTPTimeout  = 30 * time.Second
)

// ErrFileTooLarge is returned when a file exceeds the store's MaxBytes.
var ErrFileTooLarge = errors.New("designcheck: file exceeds size limit")

// DirStore reads files from the local filesystem. With a Root, every path is
// resolved inside it and cannot escape; without one, paths are used as given.
type DirStore struct {
	Root     string
	MaxBytes int64 // default: 64MB
}

// ReadFile implements FileStore.
func (s DirStore) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full := path
	if s.Root != "" {
		full = filepath.Join(s.Root, filepath.Clean(string(filepath.Separator)+path))
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readLimited(f, s.MaxBytes, path)
}

// HTTPStore fetches files over HTTP, e.g. previews kept on a CDN. Client is
// tried first and FallbackClient second, so a caller can put a
// TLS-fingerprinted client in front of a plain one.
type HTTPStore struct {
	BaseURL        string       // prefix for relative paths; absolute URLs are used as is
	Client         *http.Client // default: http.DefaultClient
	FallbackClient *http.Client // optional
	MaxBytes       int64        // default: 64MB
	Timeout        time.Duration
	UserAgent      string
}

// ReadFile implements FileStore.
func (s HTTPStore) ReadFile(ctx context.Context, path string) ([]byte, error) {
	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	data, err := s.fetch(ctx, client, url)
	if err == nil || s.FallbackClient == nil || ctx.Err() != nil {
		return data, err
	}
	return s.fetch(ctx, s.FallbackClient, url)
}

func (s HTTPStore) fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	resp, err := client.Do(req) //nolint:gosec // URL is caller-supplied by design
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	// Strip MIME parameters: "image/jpeg; charset=utf-8" → "image/jpeg"
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if !acceptedContentType(ct) {
		return nil, fmt.Errorf("fetch %s: unexpected content type %q", url, ct)
	}

	return readLimited(resp.Body, s.MaxBytes, url)
}

// acceptedContentType reports whether ct can carry a preview or raw design file.
func acceptedContentType(ct string) bool {
	if ct == "" || strings.HasPrefix(ct, "image/") {
		return true
	}
	for _, f := range Formats {
		if ct == f.MIMEType() {
			return true
		}
	}
	return ct == "application/octet-stream"
}

// readLimited reads r fully, failing with ErrFileTooLarge past max bytes.
func readLimited(r io.Reader, max int64, name string) ([]byte, error) {
	if max <= 0 {
		max = defaultMaxFileBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: %s is over %d bytes", ErrFileTooLarge, name, max)
	}
	return data, nil
}
