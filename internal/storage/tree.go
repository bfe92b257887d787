// Package storage implements the per-user storage trees. Every operation
// takes raw path strings, sanitizes them, resolves them through the
// containment gate and only then touches the filesystem. Mutations on one
// user's tree are serialized by a per-user mutex so collision checks and
// writes cannot interleave.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nasvault/backend/internal/domain"
	"github.com/nasvault/backend/internal/filetype"
	"github.com/nasvault/backend/internal/pathsafe"
	"github.com/nasvault/backend/pkg/utils"
)

type Tree struct {
	baseDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type FileEntry struct {
	Name          string        `json:"name"`
	Path          string        `json:"path"`
	Size          int64         `json:"size"`
	SizeFormatted string        `json:"sizeFormatted"`
	Modified      time.Time     `json:"modified"`
	Type          filetype.Kind `json:"type"`
	Shared        bool          `json:"shared"`
}

type FolderEntry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Modified time.Time `json:"modified"`
	Shared   bool      `json:"shared"`
}

type Listing struct {
	Folder             string        `json:"folder"`
	Files              []FileEntry   `json:"files"`
	Folders            []FolderEntry `json:"folders"`
	TotalFiles         int           `json:"totalFiles"`
	TotalSize          int64         `json:"totalSize"`
	TotalSizeFormatted string        `json:"totalSizeFormatted"`
}

type SaveResult struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func New(baseDir string) (*Tree, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, &domain.IOFailure{Op: "create base directory", Err: err}
	}
	return &Tree{baseDir: abs, locks: map[string]*sync.Mutex{}}, nil
}

func (t *Tree) BaseDir() string {
	return t.baseDir
}

// Root returns the absolute storage root for a username. The username is
// an already-validated identifier (see models.ValidUsername), never a raw
// path.
func (t *Tree) Root(username string) string {
	return filepath.Join(t.baseDir, username)
}

func (t *Tree) EnsureRoot(username string) error {
	if err := os.MkdirAll(t.Root(username), 0o750); err != nil {
		return &domain.IOFailure{Op: "create storage root", Err: err}
	}
	return nil
}

func (t *Tree) RemoveRoot(username string) error {
	unlock := t.lockUser(username)
	defer unlock()

	if err := os.RemoveAll(t.Root(username)); err != nil {
		return &domain.IOFailure{Op: "remove storage root", Err: err}
	}
	return nil
}

// RenameRoot moves a user's whole tree to a new username. The target must
// not exist; callers verify every other precondition of a username change
// before this runs.
func (t *Tree) RenameRoot(oldName, newName string) error {
	unlock := t.lockUser(oldName)
	defer unlock()

	if _, err := os.Stat(t.Root(newName)); err == nil {
		return domain.ErrConflict
	}
	if _, err := os.Stat(t.Root(oldName)); err != nil {
		if os.IsNotExist(err) {
			return domain.ErrNotFound
		}
		return &domain.IOFailure{Op: "stat storage root", Err: err}
	}
	if err := os.Rename(t.Root(oldName), t.Root(newName)); err != nil {
		return &domain.IOFailure{Op: "rename storage root", Err: err}
	}
	return nil
}

// List returns the single-level contents of a folder. A folder that does
// not exist yet lists as empty rather than failing; only containment
// violations are errors.
func (t *Tree) List(username, rawFolder string) (*Listing, error) {
	folder := pathsafe.SanitizeFolderPath(rawFolder)
	abs, err := pathsafe.ResolveWithinRoot(t.Root(username), folder)
	if err != nil {
		return nil, err
	}

	listing := &Listing{
		Folder:             folder,
		Files:              []FileEntry{},
		Folders:            []FolderEntry{},
		TotalSizeFormatted: utils.FormatSize(0),
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return listing, nil
		}
		return nil, &domain.IOFailure{Op: "read folder", Err: err}
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		rel := pathsafe.JoinRelative(folder, entry.Name())
		if entry.IsDir() {
			listing.Folders = append(listing.Folders, FolderEntry{
				Name:     entry.Name(),
				Path:     rel,
				Modified: info.ModTime(),
			})
			continue
		}
		listing.Files = append(listing.Files, FileEntry{
			Name:          entry.Name(),
			Path:          rel,
			Size:          info.Size(),
			SizeFormatted: utils.FormatSize(info.Size()),
			Modified:      info.ModTime(),
			Type:          filetype.Classify(entry.Name()),
		})
		listing.TotalSize += info.Size()
	}

	sort.Slice(listing.Folders, func(i, j int) bool {
		return listing.Folders[i].Name < listing.Folders[j].Name
	})
	sort.Slice(listing.Files, func(i, j int) bool {
		return listing.Files[i].Modified.After(listing.Files[j].Modified)
	})

	listing.TotalFiles = len(listing.Files)
	listing.TotalSizeFormatted = utils.FormatSize(listing.TotalSize)
	return listing, nil
}

// CreateFolder makes a new directory under parent. Unlike Save it fails on
// collision instead of renaming.
func (t *Tree) CreateFolder(username, rawParent, rawName string) (string, error) {
	if strings.TrimSpace(rawName) == "" {
		return "", domain.ErrInvalidInput
	}

	parent := pathsafe.SanitizeFolderPath(rawParent)
	name := pathsafe.SanitizeComponent(rawName)
	rel := pathsafe.JoinRelative(parent, name)

	abs, err := pathsafe.ResolveWithinRoot(t.Root(username), rel)
	if err != nil {
		return "", err
	}

	unlock := t.lockUser(username)
	defer unlock()

	if _, err := os.Stat(abs); err == nil {
		return "", domain.ErrConflict
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return "", &domain.IOFailure{Op: "create folder", Err: err}
	}
	return rel, nil
}

// Save streams content into folder/relPath, creating intermediate
// directories of a folder upload as needed. A name collision picks the
// lowest free "_1", "_2", … suffix before the extension. The write goes
// through a temp file and an atomic rename so a failed upload leaves no
// partial file behind.
func (t *Tree) Save(username, rawFolder, rawRelPath string, content io.Reader) (*SaveResult, error) {
	if strings.TrimSpace(rawRelPath) == "" {
		return nil, domain.ErrInvalidInput
	}

	relPath := pathsafe.SanitizeRelativePath(rawRelPath)
	if relPath == "" {
		return nil, domain.ErrInvalidInput
	}

	rel := pathsafe.JoinRelative(pathsafe.SanitizeFolderPath(rawFolder), relPath)
	dir, name := splitRelative(rel)

	if filetype.IsDangerous(name) {
		return nil, fmt.Errorf("%w: file type not allowed", domain.ErrInvalidInput)
	}

	root := t.Root(username)
	dirAbs, err := pathsafe.ResolveWithinRoot(root, dir)
	if err != nil {
		return nil, err
	}

	unlock := t.lockUser(username)
	defer unlock()

	if err := os.MkdirAll(dirAbs, 0o750); err != nil {
		return nil, &domain.IOFailure{Op: "create upload folder", Err: err}
	}

	finalName := nextAvailableName(dirAbs, name, false)
	finalRel := pathsafe.JoinRelative(dir, finalName)
	finalAbs, err := pathsafe.ResolveWithinRoot(root, finalRel)
	if err != nil {
		return nil, err
	}

	size, err := writeAtomic(finalAbs, content)
	if err != nil {
		return nil, err
	}

	return &SaveResult{Path: finalRel, Name: finalName, Size: size}, nil
}

// Delete removes a file or, recursively, a folder. Returns the sanitized
// relative path so callers can cascade share cleanup with the exact value.
func (t *Tree) Delete(username, rawPath string) (string, error) {
	rel := pathsafe.SanitizeFolderPath(rawPath)
	if rel == "" {
		// never delete the root itself through this path
		return "", domain.ErrInvalidInput
	}

	abs, err := pathsafe.ResolveWithinRoot(t.Root(username), rel)
	if err != nil {
		return "", err
	}

	unlock := t.lockUser(username)
	defer unlock()

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", domain.ErrNotFound
		}
		return "", &domain.IOFailure{Op: "stat delete target", Err: err}
	}

	if info.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return "", &domain.IOFailure{Op: "delete", Err: err}
	}
	return rel, nil
}

// Move relocates a file or folder into dstFolder, applying the same
// collision suffix policy as Save. Moving a folder into itself or one of
// its descendants is rejected before anything is touched.
func (t *Tree) Move(username, rawSrc, rawDstFolder string) (string, string, error) {
	src := pathsafe.SanitizeFolderPath(rawSrc)
	dstFolder := pathsafe.SanitizeFolderPath(rawDstFolder)
	if src == "" {
		return "", "", domain.ErrInvalidInput
	}

	root := t.Root(username)
	srcAbs, err := pathsafe.ResolveWithinRoot(root, src)
	if err != nil {
		return "", "", err
	}

	unlock := t.lockUser(username)
	defer unlock()

	info, err := os.Stat(srcAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", domain.ErrNotFound
		}
		return "", "", &domain.IOFailure{Op: "stat move source", Err: err}
	}

	if info.IsDir() && pathsafe.Contains(src, dstFolder) {
		return "", "", fmt.Errorf("%w: cannot move a folder into itself", domain.ErrInvalidInput)
	}

	srcDir, srcName := splitRelative(src)
	if srcDir == dstFolder {
		// already there; the source must not count as its own collision
		return src, src, nil
	}

	dstDirAbs, err := pathsafe.ResolveWithinRoot(root, dstFolder)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dstDirAbs, 0o750); err != nil {
		return "", "", &domain.IOFailure{Op: "create move destination", Err: err}
	}

	finalName := nextAvailableName(dstDirAbs, srcName, info.IsDir())
	finalRel := pathsafe.JoinRelative(dstFolder, finalName)
	finalAbs, err := pathsafe.ResolveWithinRoot(root, finalRel)
	if err != nil {
		return "", "", err
	}

	if err := os.Rename(srcAbs, finalAbs); err != nil {
		return "", "", &domain.IOFailure{Op: "move", Err: err}
	}
	return src, finalRel, nil
}

// Rename changes the last component of a path. For files the original
// extension is kept regardless of what the new name carries. Fails with
// ErrConflict when the destination name is taken.
func (t *Tree) Rename(username, rawPath, rawNewName string) (string, string, error) {
	rel := pathsafe.SanitizeFolderPath(rawPath)
	if rel == "" || strings.TrimSpace(rawNewName) == "" {
		return "", "", domain.ErrInvalidInput
	}

	root := t.Root(username)
	abs, err := pathsafe.ResolveWithinRoot(root, rel)
	if err != nil {
		return "", "", err
	}

	unlock := t.lockUser(username)
	defer unlock()

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", domain.ErrNotFound
		}
		return "", "", &domain.IOFailure{Op: "stat rename target", Err: err}
	}

	dir, oldName := splitRelative(rel)
	newName := pathsafe.SanitizeComponent(rawNewName)
	if !info.IsDir() {
		_, oldExt := splitName(oldName)
		newBase, _ := splitName(newName)
		newName = newBase + oldExt
	}
	if newName == oldName {
		return rel, rel, nil
	}

	finalRel := pathsafe.JoinRelative(dir, newName)
	finalAbs, err := pathsafe.ResolveWithinRoot(root, finalRel)
	if err != nil {
		return "", "", err
	}

	if _, err := os.Stat(finalAbs); err == nil {
		return "", "", domain.ErrConflict
	}
	if err := os.Rename(abs, finalAbs); err != nil {
		return "", "", &domain.IOFailure{Op: "rename", Err: err}
	}
	return rel, finalRel, nil
}

// Open opens a file for serving. Directories report ErrNotFound: download
// and preview only ever address files.
func (t *Tree) Open(username, rawPath string) (*os.File, os.FileInfo, error) {
	rel := pathsafe.SanitizeFolderPath(rawPath)
	abs, err := pathsafe.ResolveWithinRoot(t.Root(username), rel)
	if err != nil {
		return nil, nil, err
	}
	return openFile(abs)
}

// Stat returns metadata for a sanitized path, used when a share request
// captures the backing file's size and type.
func (t *Tree) Stat(username, rawPath string) (string, os.FileInfo, error) {
	rel := pathsafe.SanitizeFolderPath(rawPath)
	abs, err := pathsafe.ResolveWithinRoot(t.Root(username), rel)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, domain.ErrNotFound
		}
		return "", nil, &domain.IOFailure{Op: "stat", Err: err}
	}
	return rel, info, nil
}

// Exists is the share registry's sweep probe: it reports whether a
// previously-sanitized relative path still resolves and exists.
func (t *Tree) Exists(username, rel string) bool {
	abs, err := pathsafe.ResolveWithinRoot(t.Root(username), rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// ListUnder lists a subfolder of an approved folder share. Containment is
// re-validated against the shared folder's own root, not the user's whole
// tree, so a hostile subpath cannot climb out of the share.
func (t *Tree) ListUnder(username, folderRel, rawSub string) (*Listing, error) {
	shareRoot := filepath.Join(t.Root(username), filepath.FromSlash(folderRel))
	sub := pathsafe.SanitizeFolderPath(rawSub)
	abs, err := pathsafe.ResolveWithinRoot(shareRoot, sub)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, &domain.IOFailure{Op: "stat shared folder", Err: err}
	}
	return t.List(username, pathsafe.JoinRelative(folderRel, sub))
}

// OpenUnder opens a file nested in an approved folder share, with the
// same share-scoped containment as ListUnder.
func (t *Tree) OpenUnder(username, folderRel, rawSub string) (*os.File, os.FileInfo, error) {
	shareRoot := filepath.Join(t.Root(username), filepath.FromSlash(folderRel))
	sub := pathsafe.SanitizeFolderPath(rawSub)
	abs, err := pathsafe.ResolveWithinRoot(shareRoot, sub)
	if err != nil {
		return nil, nil, err
	}
	return openFile(abs)
}

// Usage recomputes the recursive byte sum of a user's tree. Runs to
// completion synchronously; callers treat the total as eventually
// consistent.
func (t *Tree) Usage(username string) (int64, error) {
	var total int64
	root := t.Root(username)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, &domain.IOFailure{Op: "compute usage", Err: err}
	}
	return total, nil
}

func (t *Tree) lockUser(username string) func() {
	t.mu.Lock()
	lock, ok := t.locks[username]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[username] = lock
	}
	t.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func openFile(abs string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, domain.ErrNotFound
		}
		return nil, nil, &domain.IOFailure{Op: "open file", Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, &domain.IOFailure{Op: "stat file", Err: err}
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, domain.ErrNotFound
	}
	return f, info, nil
}

func writeAtomic(finalAbs string, content io.Reader) (int64, error) {
	// The temp name must never collide with a user-chosen filename, so it
	// is random rather than derived from finalAbs.
	f, err := os.CreateTemp(filepath.Dir(finalAbs), ".upload-*")
	if err != nil {
		return 0, &domain.IOFailure{Op: "create temp file", Err: err}
	}
	tmpPath := f.Name()

	size, err := io.Copy(f, content)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, &domain.IOFailure{Op: "write file", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, &domain.IOFailure{Op: "sync file", Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, &domain.IOFailure{Op: "close file", Err: err}
	}
	if err := os.Rename(tmpPath, finalAbs); err != nil {
		os.Remove(tmpPath)
		return 0, &domain.IOFailure{Op: "finalize file", Err: err}
	}
	return size, nil
}

// nextAvailableName returns name unchanged when free, otherwise the
// lowest "_1", "_2", … suffixed variant that is. The suffix goes before
// the extension for files and at the end for folders.
func nextAvailableName(dirAbs, name string, isDir bool) string {
	candidate := name
	base, ext := name, ""
	if !isDir {
		base, ext = splitName(name)
	}
	for counter := 1; ; counter++ {
		if _, err := os.Lstat(filepath.Join(dirAbs, candidate)); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d%s", base, counter, ext)
	}
}

// splitName separates a filename from its extension, treating dotfiles
// (".config") as extension-less.
func splitName(name string) (string, string) {
	ext := filepath.Ext(name)
	if ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

func splitRelative(rel string) (string, string) {
	idx := strings.LastIndex(rel, "/")
	if idx < 0 {
		return "", rel
	}
	return rel[:idx], rel[idx+1:]
}
