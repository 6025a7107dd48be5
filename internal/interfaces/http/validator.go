package http

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"convertapi/internal/entities"
)

// Input validation constants
const (
	MaxSlugLength        = 64
	MaxFilenameLength    = 255
	MaxOptions           = 20
	MaxOptionKeyLength   = 64
	MaxOptionValueLength = 256
)

var (
	slugPattern      = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	optionKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// ValidSlug checks if a path segment is safe (alphanumeric + underscore + hyphen)
func ValidSlug(s string) bool {
	return s != "" && len(s) <= MaxSlugLength && slugPattern.MatchString(s)
}

// ValidOptionKey checks a conversion option name
func ValidOptionKey(s string) bool {
	return s != "" && len(s) <= MaxOptionKeyLength && optionKeyPattern.MatchString(s)
}

// SanitizeString removes null bytes, control characters and invalid UTF-8
func SanitizeString(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// TruncateString truncates to at most maxLen bytes without splitting a rune
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	s = s[:maxLen]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// CleanFilename keeps only the base name of an uploaded file. The extension
// survives truncation.
func CleanFilename(name string) string {
	name = SanitizeString(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(filepath.Base(name))
	if name == "." || name == "/" {
		return ""
	}
	if len(name) > MaxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = TruncateString(strings.TrimSuffix(name, filepath.Ext(name)), MaxFilenameLength-len(ext)) + ext
	}
	return name
}

// ParseOptions decodes the optional "options" form field: a flat JSON object
// of string values.
func ParseOptions(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, &entities.ValidationError{Field: "options", Message: "must be a JSON object"}
	}
	if len(decoded) > MaxOptions {
		return nil, &entities.ValidationError{Field: "options", Message: fmt.Sprintf("at most %d options allowed", MaxOptions)}
	}
	out := make(map[string]string, len(decoded))
	for k, v := range decoded {
		if !ValidOptionKey(k) {
			return nil, &entities.ValidationError{Field: "options", Message: fmt.Sprintf("invalid option name %q", k)}
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case bool, float64:
			s = fmt.Sprint(val)
		default:
			return nil, &entities.ValidationError{Field: "options", Message: fmt.Sprintf("option %q must be a string, number or boolean", k)}
		}
		s = SanitizeString(s)
		if len(s) > MaxOptionValueLength {
			return nil, &entities.ValidationError{Field: "options", Message: fmt.Sprintf("option %q is too long", k)}
		}
		out[k] = s
	}
	return out, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}
