// Package pathmap converts between vault paths and scope-relative paths.
// All paths are slash-separated and NFC-normalized; these functions never
// touch the filesystem.
package pathmap

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns p with forward slashes, NFC Unicode, and no leading,
// trailing, or duplicate separators. macOS filesystems report NFD names while
// the remote stores whatever it was given, so both sides pass through here
// before paths are compared.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = norm.NFC.String(p)

	return strings.Join(FolderChain(p), "/")
}

// Relative strips base + "/" from full. It returns "" when full equals base
// and returns full unchanged when base is empty or is not a prefix of full.
func Relative(full, base string) string {
	if base == "" {
		return full
	}

	if full == base {
		return ""
	}

	if strings.HasPrefix(full, base+"/") {
		return full[len(base)+1:]
	}

	return full
}

// Join re-prefixes a scope-relative path with its base folder.
func Join(base, rel string) string {
	switch {
	case base == "":
		return rel
	case rel == "":
		return base
	default:
		return base + "/" + rel
	}
}

// FolderChain splits a relative folder path into its segment names,
// dropping empty segments.
func FolderChain(rel string) []string {
	parts := strings.Split(rel, "/")
	out := parts[:0]

	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

// Dir returns the folder part of a relative file path, or "" for a file at
// the scope root.
func Dir(rel string) string {
	d := path.Dir(rel)
	if d == "." || d == "/" {
		return ""
	}

	return d
}

// Prefixes returns every ancestor folder of rel, shallowest first, including
// rel itself. Prefixes("a/b/c") is ["a", "a/b", "a/b/c"].
func Prefixes(rel string) []string {
	segs := FolderChain(rel)
	out := make([]string, 0, len(segs))

	for i := range segs {
		out = append(out, strings.Join(segs[:i+1], "/"))
	}

	return out
}

// Depth reports the number of segments in rel.
func Depth(rel string) int {
	return len(FolderChain(rel))
}
