package sync

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

type fileType struct {
	mime string
	text bool
}

// syncableTypes lists every extension eligible for sync. Anything else is
// excluded.
var syncableTypes = map[string]fileType{
	".md":   {"text/markdown", true},
	".txt":  {"text/plain", true},
	".json": {"application/json", true},
	".csv":  {"text/csv", true},
	".html": {"text/html", true},
	".css":  {"text/css", true},
	".js":   {"text/javascript", true},
	".pdf":  {"application/pdf", false},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", false},
	".pptx": {"application/vnd.openxmlformats-officedocument.presentationml.presentation", false},
	".xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", false},
	".png":  {"image/png", false},
	".jpg":  {"image/jpeg", false},
	".jpeg": {"image/jpeg", false},
	".gif":  {"image/gif", false},
	".webp": {"image/webp", false},
}

// Temporary and editor artifacts are never synced.
var excludedSuffixes = []string{".tmp", ".bak", ".lock"}

// Filter decides which vault paths take part in sync.
type Filter struct {
	skip []string
}

// NewFilter returns a Filter that additionally excludes paths matching any
// of the doublestar patterns in skip.
func NewFilter(skip []string) (*Filter, error) {
	for _, p := range skip {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("sync: invalid skip pattern %q", p)
		}
	}

	return &Filter{skip: append([]string(nil), skip...)}, nil
}

// DefaultFilter returns a Filter with no user patterns.
func DefaultFilter() *Filter {
	return &Filter{}
}

// Eligible reports whether the vault-relative file path p should be synced.
func (f *Filter) Eligible(p string) bool {
	if p == "" {
		return false
	}

	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return false
		}
	}

	lower := strings.ToLower(p)
	for _, suf := range excludedSuffixes {
		if strings.HasSuffix(lower, suf) {
			return false
		}
	}

	if _, ok := syncableTypes[strings.ToLower(path.Ext(p))]; !ok {
		return false
	}

	for _, pat := range f.skip {
		if ok, _ := doublestar.Match(pat, p); ok {
			return false
		}
	}

	return true
}

// IsText reports whether p has a text extension.
func IsText(p string) bool {
	return syncableTypes[strings.ToLower(path.Ext(p))].text
}

// MimeType returns the MIME type for p's extension, or
// application/octet-stream.
func MimeType(p string) string {
	if t, ok := syncableTypes[strings.ToLower(path.Ext(p))]; ok {
		return t.mime
	}

	return "application/octet-stream"
}
