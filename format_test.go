package designcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Format{
		"pdf":  FormatPDF,
		".AI":  FormatAI,
		" svg": FormatSVG,
		"EPS":  FormatEPS,
		".cdr": FormatCDR,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("psd")
	assert.ErrorIs(t, err, ErrUnknownFormat)
	_, err = ParseFormat("")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	f, err := FormatFromPath("uploads/42/Logo Final.AI")
	require.NoError(t, err)
	assert.Equal(t, FormatAI, f)

	_, err = FormatFromPath("uploads/42/README")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestFormat_MIMEType(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, f := range Formats {
		mt := f.MIMEType()
		assert.NotEqual(t, "application/octet-stream", mt, f)
		assert.False(t, seen[mt], "duplicate MIME type %s", mt)
		seen[mt] = true
	}
	assert.Equal(t, "application/octet-stream", Format("psd").MIMEType())
}
