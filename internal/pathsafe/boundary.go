package pathsafe

import (
	"path/filepath"
	"strings"

	"github.com/nasvault/backend/internal/domain"
)

// ResolveWithinRoot joins root and relative, canonicalizes the result
// (resolving ".." and symlinks, including symlinks planted inside the
// tree) and asserts it is the root or a descendant of it. The
// canonicalized absolute path is returned, and it is the only value
// callers may hand to the filesystem: handing back the symlink-free form
// means later I/O goes to the path that was actually checked.
//
// Call this after sanitization, never instead of it: sanitization keeps
// names clean, this check stops every residual escape. Failure is always
// domain.ErrAccessDenied so callers cannot distinguish "escapes root"
// from other denials.
func ResolveWithinRoot(root, relative string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", domain.ErrAccessDenied
	}

	rootResolved, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		rootResolved = filepath.Clean(rootAbs)
	}

	candidate := filepath.Join(rootAbs, filepath.FromSlash(relative))
	resolved := resolveExisting(candidate)

	if resolved != rootResolved && !strings.HasPrefix(resolved, rootResolved+string(filepath.Separator)) {
		return "", domain.ErrAccessDenied
	}

	return resolved, nil
}

// Contains reports whether rel equals base or lies underneath it. Both
// arguments are sanitized relative paths. Used for folder-share descendant
// checks and for rejecting a folder move into itself.
func Contains(base, rel string) bool {
	if base == "" {
		return true
	}
	return rel == base || strings.HasPrefix(rel, base+"/")
}

// resolveExisting canonicalizes candidate even when the leaf does not
// exist yet (save targets): symlinks are resolved for the deepest existing
// ancestor and the remaining segments are rejoined unchanged.
func resolveExisting(candidate string) string {
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		return resolved
	}

	dir := filepath.Dir(candidate)
	suffix := filepath.Base(candidate)
	for {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, suffix)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Clean(candidate)
		}
		suffix = filepath.Join(filepath.Base(dir), suffix)
		dir = parent
	}
}
