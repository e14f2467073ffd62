package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go-designcheck/internal/server"
)

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), err
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

// halves is black on the left (or top, when vertical) and white elsewhere.
func halves(size int, vertical bool) image.Image {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			c := color.Gray{Y: 255}
			if (!vertical && x < size/2) || (vertical && y < size/2) {
				c = color.Gray{}
			}
			img.SetGray(x, y, c)
		}
	}
	return img
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "designcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestHashCommand(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", halves(64, false))
	junk := filepath.Join(dir, "junk.png")
	require.NoError(t, os.WriteFile(junk, []byte("junk"), 0o600))

	out, err := run(t, "hash", a, junk)
	require.NoError(t, err)

	var got []server.FingerprintResponse
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].Fingerprint)
	assert.Len(t, got[0].Binary, 64)
	assert.Equal(t, "png", got[0].Format)
	assert.Equal(t, 64, got[0].Width)
	assert.Empty(t, got[1].Fingerprint)
	assert.NotEmpty(t, got[1].Error)
}

func TestCompareCommand(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", halves(64, false))
	b := writePNG(t, dir, "b.png", halves(128, false))
	c := writePNG(t, dir, "c.png", halves(64, true))

	out, err := run(t, "compare", a, b)
	require.NoError(t, err)
	var same server.CompareResponse
	require.NoError(t, json.Unmarshal([]byte(out), &same))
	assert.Equal(t, 0, same.Distance)
	assert.True(t, same.IsMatch)

	out, err = run(t, "compare", "--threshold", "3", a, c)
	require.NoError(t, err)
	var diff server.CompareResponse
	require.NoError(t, json.Unmarshal([]byte(out), &diff))
	assert.False(t, diff.IsMatch)
	assert.Equal(t, 3, diff.Threshold)

	_, err = run(t, "compare", a, "not-a-fingerprint")
	assert.Error(t, err)
}

func TestDupesCommand(t *testing.T) {
	dir := t.TempDir()
	first := writePNG(t, dir, "first.png", halves(64, false))
	other := writePNG(t, dir, "other.png", halves(64, true))
	again := writePNG(t, dir, "again.png", halves(96, false))

	out, err := run(t, "dupes", first, other, again)
	require.NoError(t, err)

	var got server.DuplicatesResponse
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Pairs, 1)
	assert.Equal(t, 1, got.Pairs[0].Original.Design)
	assert.Equal(t, 3, got.Pairs[0].Duplicate.Design)
	assert.Equal(t, "again.png", got.Pairs[0].Duplicate.Name)
	assert.Len(t, got.Fingerprints, 3)
	assert.Empty(t, got.Failures)
}

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 100">
<rect x="0" y="0" width="100" height="100" fill="#000"/>
</svg>`

func TestExtractCommand(t *testing.T) {
	dir := t.TempDir()
	svg := filepath.Join(dir, "logo.svg")
	require.NoError(t, os.WriteFile(svg, []byte(testSVG), 0o600))
	pngOut := filepath.Join(dir, "logo.png")

	out, err := run(t, "extract", svg, "--out", pngOut)
	require.NoError(t, err)

	var got server.ExtractResponse
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "svg", got.Format)
	assert.Equal(t, 200, got.Width)
	assert.Equal(t, 100, got.Height)

	f, err := os.Open(pngOut)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)

	_, err = run(t, "extract", filepath.Join(dir, "logo.psd"))
	assert.Error(t, err)
}

func TestValidateCommand_CDRSkipped(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "design.cdr")
	require.NoError(t, os.WriteFile(raw, []byte("RIFF....CDRvrsn"), 0o600))
	preview := writePNG(t, dir, "preview.png", halves(64, false))

	out, err := run(t, "validate", raw, preview)
	require.NoError(t, err)

	var got server.VerdictResponse
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "skipped", got.Status)
	assert.True(t, got.Skipped)
	assert.True(t, got.IsMatch)
}

func TestCorpusCommands(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "store:\n  driver: sqlite\n  path: "+filepath.Join(dir, "corpus.db")+"\n")
	accepted := writePNG(t, dir, "accepted.png", halves(64, false))
	fresh := writePNG(t, dir, "fresh.png", halves(80, false))
	unrelated := writePNG(t, dir, "unrelated.png", halves(64, true))

	out, err := run(t, "--config", cfg, "corpus", "add", "--id", "rec-1", "--owner", "u1", "--status", "accepted", accepted)
	require.NoError(t, err)
	assert.Contains(t, out, "stored rec-1")

	out, err = run(t, "--config", cfg, "corpus", "check", "--status", "accepted", fresh, unrelated)
	require.NoError(t, err)
	var got server.DuplicatesResponse
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.CorpusChecked)
	assert.False(t, got.CorpusIncomplete)
	require.Len(t, got.CorpusMatches, 1)
	assert.Equal(t, "rec-1", got.CorpusMatches[0].RecordID)
	assert.Equal(t, 1, got.CorpusMatches[0].Image.Design)
	assert.Equal(t, 0, got.CorpusMatches[0].Slot)

	out, err = run(t, "--config", cfg, "corpus", "check", "--exclude", "rec-1", fresh)
	require.NoError(t, err)
	got = server.DuplicatesResponse{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Empty(t, got.CorpusMatches)
}

func TestCorpusCommands_NoStore(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", halves(64, false))

	_, err := run(t, "corpus", "check", a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no record store configured")

	_, err = run(t, "corpus", "add", a)
	assert.Error(t, err, "--id is required")
}

func TestInvalidThresholdFlag(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", halves(64, false))

	_, err := run(t, "--threshold", "-2", "compare", a, a)
	assert.Error(t, err)
}

func TestServeCommand_RequiresFilesRoot(t *testing.T) {
	_, err := run(t, "serve", "--addr", "127.0.0.1:0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "files.root")
}
