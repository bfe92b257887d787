package pathsafe

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nasvault/backend/internal/domain"
)

func TestResolveWithinRootAllowsDescendants(t *testing.T) {
	root := t.TempDir()

	if err := os.MkdirAll(filepath.Join(root, "docs"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	// the returned path is canonical, so build expectations on the
	// symlink-resolved root (t.TempDir may sit behind one)
	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatalf("resolve root: %v", err)
	}

	cases := []string{"", "docs", "docs/report.pdf", "brand-new/file.txt"}
	for _, rel := range cases {
		abs, err := ResolveWithinRoot(root, rel)
		if err != nil {
			t.Fatalf("ResolveWithinRoot(%q) failed: %v", rel, err)
		}
		want := filepath.Join(rootResolved, filepath.FromSlash(rel))
		if abs != want {
			t.Fatalf("ResolveWithinRoot(%q) = %q, want %q", rel, abs, want)
		}
	}
}

func TestResolveWithinRootRejectsTraversal(t *testing.T) {
	root := t.TempDir()

	cases := []string{"..", "../sibling", "docs/../../escape", "../../../../etc/passwd"}
	for _, rel := range cases {
		if _, err := ResolveWithinRoot(root, rel); !errors.Is(err, domain.ErrAccessDenied) {
			t.Fatalf("ResolveWithinRoot(%q): got %v, want ErrAccessDenied", rel, err)
		}
	}
}

func TestResolveWithinRootRejectsSymlinkEscape(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "root")
	outside := filepath.Join(base, "outside")
	for _, dir := range []string{root, outside} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := ResolveWithinRoot(root, "link/secret.txt"); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("symlink escape: got %v, want ErrAccessDenied", err)
	}

	// the symlink itself also resolves outside
	if _, err := ResolveWithinRoot(root, "link"); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("symlink target: got %v, want ErrAccessDenied", err)
	}
}

func TestResolveWithinRootSymlinkEscapeForNewFile(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "root")
	outside := filepath.Join(base, "outside")
	for _, dir := range []string{root, outside} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	// leaf does not exist yet: the parent symlink must still be resolved
	if _, err := ResolveWithinRoot(root, "link/new-upload.txt"); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("new file behind symlink: got %v, want ErrAccessDenied", err)
	}
}

func TestResolveWithinRootInternalSymlinkAllowed(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "real"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	abs, err := ResolveWithinRoot(root, "alias/doc.txt")
	if err != nil {
		t.Fatalf("internal symlink rejected: %v", err)
	}

	// the alias is resolved away: I/O happens on the verified real path
	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatalf("resolve root: %v", err)
	}
	if want := filepath.Join(rootResolved, "real", "doc.txt"); abs != want {
		t.Fatalf("ResolveWithinRoot(alias/doc.txt) = %q, want %q", abs, want)
	}
}
