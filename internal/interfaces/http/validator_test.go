package http

import (
	"strings"
	"testing"

	"convertapi/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanFilename(t *testing.T) {
	long := strings.Repeat("a", 300) + ".pdf"

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"unix path", "../../etc/report.pdf", "report.pdf"},
		{"windows path", `C:\Users\me\report.pdf`, "report.pdf"},
		{"control chars", "rep\x00ort\n.pdf", "report.pdf"},
		{"empty", "", ""},
		{"dot", ".", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanFilename(tt.in))
		})
	}

	t.Run("long name keeps extension", func(t *testing.T) {
		got := CleanFilename(long)
		assert.Len(t, got, MaxFilenameLength)
		assert.True(t, strings.HasSuffix(got, ".pdf"))
	})
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions(`{"quality":"high","pages":3,"ocr":true}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"quality": "high", "pages": "3", "ocr": "true"}, opts)

	opts, err = ParseOptions("  ")
	require.NoError(t, err)
	assert.Nil(t, opts)

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "quality=high"},
		{"array", `["a"]`},
		{"nested", `{"a":{"b":1}}`},
		{"bad key", `{"a b":"c"}`},
		{"long value", `{"a":"` + strings.Repeat("x", MaxOptionValueLength+1) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOptions(tt.raw)
			var verr *entities.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "options", verr.Field)
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", TruncateString("abc", 10))
	assert.Equal(t, "ab", TruncateString("abc", 2))
	assert.Equal(t, "", TruncateString("é", 1))
}

func TestValidSlug(t *testing.T) {
	assert.True(t, ValidSlug("pdf_to_word"))
	assert.True(t, ValidSlug("convert-from-pdf"))
	assert.False(t, ValidSlug(""))
	assert.False(t, ValidSlug("../etc"))
	assert.False(t, ValidSlug(strings.Repeat("a", MaxSlugLength+1)))
}
