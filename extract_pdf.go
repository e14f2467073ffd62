package designcheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// pdfHeaderWindow is how far into the file the %PDF- marker may appear.
const pdfHeaderWindow = 1024

// PageRenderer renders the first page of a PDF document to encoded raster
// bytes (any format image.Decode understands).
type PageRenderer interface {
	Name() string
	RenderFirstPage(ctx context.Context, pdf []byte, dpi int) ([]byte, error)
}

// PdftoppmRenderer shells out to poppler's pdftoppm.
type PdftoppmRenderer struct {
	Path string // binary path (default: "pdftoppm")
}

func (PdftoppmRenderer) Name() string { return "pdftoppm" }

// RenderFirstPage implements PageRenderer.
func (r PdftoppmRenderer) RenderFirstPage(ctx context.Context, pdf []byte, dpi int) ([]byte, error) {
	bin := r.Path
	if bin == "" {
		bin = "pdftoppm"
	}
	return renderWithCommand(ctx, pdf, func(in, dir string) (*exec.Cmd, string) {
		prefix := filepath.Join(dir, "page")
		cmd := exec.CommandContext(ctx, bin,
			"-f", "1", "-l", "1", "-singlefile", "-png",
			"-r", strconv.Itoa(dpi), in, prefix)
		return cmd, prefix + ".png"
	})
}

// GhostscriptRenderer shells out to ghostscript.
type GhostscriptRenderer struct {
	Path string // binary path (default: "gs")
}

func (GhostscriptRenderer) Name() string { return "ghostscript" }

// RenderFirstPage implements PageRenderer.
func (r GhostscriptRenderer) RenderFirstPage(ctx context.Context, pdf []byte, dpi int) ([]byte, error) {
	bin := r.Path
	if bin == "" {
		bin = "gs"
	}
	return renderWithCommand(ctx, pdf, func(in, dir string) (*exec.Cmd, string) {
		out := filepath.Join(dir, "page.png")
		cmd := exec.CommandContext(ctx, bin,
			"-q", "-dSAFER", "-dBATCH", "-dNOPAUSE",
			"-sDEVICE=png16m", "-dFirstPage=1", "-dLastPage=1",
			"-r"+strconv.Itoa(dpi), "-sOutputFile="+out, in)
		return cmd, out
	})
}

// renderWithCommand writes pdf to a temp dir, runs the command built by
// build and returns the bytes of the output file it names.
func renderWithCommand(ctx context.Context, pdf []byte, build func(in, dir string) (*exec.Cmd, string)) ([]byte, error) {
	dir, err := os.MkdirTemp("", "designcheck-render-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write temp input: %w", err)
	}

	cmd, out := build(in, dir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(cmd.Path), err, msg)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("renderer produced no page (zero pages?): %w", err)
	}
	return data, nil
}

var (
	detectOnce     sync.Once
	detectedRender PageRenderer
)

// detectRenderer returns the first renderer found on PATH, or nil.
func detectRenderer() PageRenderer {
	detectOnce.Do(func() {
		if p, err := exec.LookPath("pdftoppm"); err == nil {
			detectedRender = PdftoppmRenderer{Path: p}
			return
		}
		if p, err := exec.LookPath("gs"); err == nil {
			detectedRender = GhostscriptRenderer{Path: p}
		}
	})
	return detectedRender
}

// extractPDF renders the first page of a PDF or PDF-compatible AI file.
func (cfg *Config) extractPDF(ctx context.Context, data []byte) (image.Image, error) {
	head := data
	if len(head) > pdfHeaderWindow {
		head = head[:pdfHeaderWindow]
	}
	if !bytes.Contains(head, []byte("%PDF-")) {
		return nil, &DecodeError{Subject: "pdf", Err: errors.New("no %PDF- header; not a PDF-compatible document")}
	}

	renderer := cfg.Renderer
	if renderer == nil {
		renderer = detectRenderer()
	}
	if renderer == nil {
		return nil, ErrRendererUnavailable
	}

	raster, err := renderer.RenderFirstPage(ctx, data, cfg.RenderDPI)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &DecodeError{Subject: "pdf", Err: fmt.Errorf("%s: %w", renderer.Name(), err)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decodeImage(raster)
}
