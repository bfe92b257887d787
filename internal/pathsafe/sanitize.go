// Package pathsafe turns attacker-influenced path strings into paths that
// are guaranteed to stay inside a storage root. Sanitization (this file)
// normalizes names; containment (boundary.go) is the final gate before any
// filesystem access. Both are always used together: sanitizing prevents
// hostile names, the boundary check stops any residual escape.
package pathsafe

import (
	"strings"
	"unicode"
)

const (
	// fallbackName replaces a component that sanitizes to nothing. A
	// component is never dropped silently: dropping would let different
	// raw inputs collide onto one sanitized path, or shift the meaning
	// of the segments after it.
	fallbackName = "file"

	// fallbackHidden is the substitute for a dot-prefixed component with
	// no usable remainder (".", "..." and similar). The hidden marker is
	// kept so the entry stays hidden in listings.
	fallbackHidden = ".hidden"
)

// SanitizeComponent normalizes a single path component (a file or folder
// name). Directory separators are removed, "." and ".." are rejected as
// whole values, disallowed characters become underscores, and a leading
// dot survives as the hidden-entry marker when a non-empty remainder
// exists after it. The result is never empty and sanitizing twice returns
// the same value.
func SanitizeComponent(raw string) string {
	s := stripUnsafe(raw)
	s = strings.TrimSpace(s)

	if s == "" || s == "." || s == ".." {
		return fallbackName
	}

	hidden := s[0] == '.'
	rest := strings.TrimLeft(s, ".")
	rest = strings.TrimSpace(replaceDisallowed(rest))

	if rest == "" {
		if hidden {
			return fallbackHidden
		}
		return fallbackName
	}

	if hidden {
		return "." + rest
	}
	return rest
}

// SanitizeFolderPath normalizes a slash-separated folder argument (the
// shallow "current folder" form field). Empty, "." and ".." segments are
// discarded; every other segment goes through SanitizeComponent
// independently, so directory structure survives sanitization.
func SanitizeFolderPath(raw string) string {
	return sanitizeSegments(strings.Split(raw, "/"))
}

// SanitizeRelativePath normalizes a deep relative path such as the
// per-file path of a folder upload. Browsers send either separator, so
// backslashes are treated as slashes before splitting.
func SanitizeRelativePath(raw string) string {
	raw = strings.ReplaceAll(raw, "\\", "/")
	return sanitizeSegments(strings.Split(raw, "/"))
}

// JoinRelative appends already-sanitized relative paths, skipping empty
// parts so the result never carries leading or doubled slashes.
func JoinRelative(parts ...string) string {
	joined := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			joined = append(joined, p)
		}
	}
	return strings.Join(joined, "/")
}

func sanitizeSegments(segments []string) string {
	out := make([]string, 0, len(segments))
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" || segment == "." || segment == ".." {
			continue
		}
		out = append(out, SanitizeComponent(segment))
	}
	return strings.Join(out, "/")
}

// stripUnsafe removes separators and control bytes outright. Separators
// inside a single component become underscores so two raw names cannot
// merge into one.
func stripUnsafe(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '/' || r == '\\':
			b.WriteRune('_')
		case r == 0 || unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func replaceDisallowed(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if allowedRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func allowedRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.', '-', '_', ' ', '(', ')':
		return true
	}
	return false
}
