package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nasvault/backend/internal/domain"
	"github.com/nasvault/backend/internal/models"
	"github.com/nasvault/backend/internal/pathsafe"
	"github.com/nasvault/backend/pkg/logger"
)

// Registry is the share lifecycle state machine. Every entry starts
// pending; approval moves it to the approved list, rejection and removal
// delete it. State lives in memory behind one mutex and is written
// through the injected Store after every mutation, so the on-disk format
// stays swappable without touching lifecycle logic.
//
// Folder visibility ("is this path inside an approved folder share") is
// recomputed on every query rather than cached: folders can be un-shared
// concurrently with listing, and a stale cache would keep exposing them.
type Registry struct {
	mu    sync.Mutex
	store Store
	state *State
}

// State is the registry's complete persisted form.
type State struct {
	PendingFiles    []models.FileShare   `json:"pendingFiles"`
	ApprovedFiles   []models.FileShare   `json:"approvedFiles"`
	PendingFolders  []models.FolderShare `json:"pendingFolders"`
	ApprovedFolders []models.FolderShare `json:"approvedFolders"`
}

// ShareInfo is the identity-and-ownership view handlers use for
// permission checks before approve/reject/remove.
type ShareInfo struct {
	ID       string
	Username string
	Status   models.ShareStatus
	IsFolder bool
}

func NewRegistry(store Store) (*Registry, error) {
	state, err := store.Load()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &State{}
	}
	return &Registry{store: store, state: state}, nil
}

// RequestFileShare creates a pending entry. Auto-approval is not a
// separate path: callers check AutoApprovalApplies afterwards and call
// Approve with the returned id, so the stored identity is the same under
// either policy.
func (r *Registry) RequestFileShare(username, filePath, fileName string, fileSize int64, fileType string) (*models.FileShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filePathKnown(username, filePath) {
		return nil, domain.ErrConflict
	}

	entry := models.FileShare{
		ID:          uuid.New().String(),
		Username:    username,
		FilePath:    filePath,
		FileName:    fileName,
		FileSize:    fileSize,
		FileType:    fileType,
		Status:      models.ShareStatusPending,
		RequestedAt: time.Now().UTC(),
	}
	r.state.PendingFiles = append(r.state.PendingFiles, entry)

	if err := r.persist(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *Registry) RequestFolderShare(username, folderPath, folderName string) (*models.FolderShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.folderPathKnown(username, folderPath) {
		return nil, domain.ErrConflict
	}

	entry := models.FolderShare{
		ID:          uuid.New().String(),
		Username:    username,
		FolderPath:  folderPath,
		FolderName:  folderName,
		Status:      models.ShareStatusPending,
		RequestedAt: time.Now().UTC(),
	}
	r.state.PendingFolders = append(r.state.PendingFolders, entry)

	if err := r.persist(); err != nil {
		return nil, err
	}
	return &entry, nil
}

// AutoApprovalApplies reports whether a requester's shares approve
// immediately: admins always, otherwise users flagged as trusted
// uploaders or with auto-share enabled.
func (r *Registry) AutoApprovalApplies(user *models.User) bool {
	if user == nil {
		return false
	}
	return user.IsAdmin() || user.TrustedUploader || user.AutoShare
}

// Approve moves a pending entry to the approved list. Unknown ids report
// ErrNotFound rather than failing hard.
func (r *Registry) Approve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for i, entry := range r.state.PendingFiles {
		if entry.ID == id {
			entry.Status = models.ShareStatusApproved
			entry.ApprovedAt = &now
			r.state.PendingFiles = append(r.state.PendingFiles[:i], r.state.PendingFiles[i+1:]...)
			r.state.ApprovedFiles = append(r.state.ApprovedFiles, entry)
			return r.persist()
		}
	}
	for i, entry := range r.state.PendingFolders {
		if entry.ID == id {
			entry.Status = models.ShareStatusApproved
			entry.ApprovedAt = &now
			r.state.PendingFolders = append(r.state.PendingFolders[:i], r.state.PendingFolders[i+1:]...)
			r.state.ApprovedFolders = append(r.state.ApprovedFolders, entry)
			return r.persist()
		}
	}
	return domain.ErrNotFound
}

// Reject deletes a pending entry outright.
func (r *Registry) Reject(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, entry := range r.state.PendingFiles {
		if entry.ID == id {
			r.state.PendingFiles = append(r.state.PendingFiles[:i], r.state.PendingFiles[i+1:]...)
			return r.persist()
		}
	}
	for i, entry := range r.state.PendingFolders {
		if entry.ID == id {
			r.state.PendingFolders = append(r.state.PendingFolders[:i], r.state.PendingFolders[i+1:]...)
			return r.persist()
		}
	}
	return domain.ErrNotFound
}

// Remove deletes an approved entry (un-share).
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, entry := range r.state.ApprovedFiles {
		if entry.ID == id {
			r.state.ApprovedFiles = append(r.state.ApprovedFiles[:i], r.state.ApprovedFiles[i+1:]...)
			return r.persist()
		}
	}
	for i, entry := range r.state.ApprovedFolders {
		if entry.ID == id {
			r.state.ApprovedFolders = append(r.state.ApprovedFolders[:i], r.state.ApprovedFolders[i+1:]...)
			return r.persist()
		}
	}
	return domain.ErrNotFound
}

// Find returns ownership and status for an id regardless of list.
func (r *Registry) Find(id string) (*ShareInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.state.PendingFiles {
		if entry.ID == id {
			return &ShareInfo{ID: id, Username: entry.Username, Status: entry.Status}, true
		}
	}
	for _, entry := range r.state.ApprovedFiles {
		if entry.ID == id {
			return &ShareInfo{ID: id, Username: entry.Username, Status: entry.Status}, true
		}
	}
	for _, entry := range r.state.PendingFolders {
		if entry.ID == id {
			return &ShareInfo{ID: id, Username: entry.Username, Status: entry.Status, IsFolder: true}, true
		}
	}
	for _, entry := range r.state.ApprovedFolders {
		if entry.ID == id {
			return &ShareInfo{ID: id, Username: entry.Username, Status: entry.Status, IsFolder: true}, true
		}
	}
	return nil, false
}

// FileByID returns an approved file share.
func (r *Registry) FileByID(id string) (*models.FileShare, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.state.ApprovedFiles {
		if entry.ID == id {
			e := entry
			return &e, true
		}
	}
	return nil, false
}

// FolderByID returns an approved folder share.
func (r *Registry) FolderByID(id string) (*models.FolderShare, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.state.ApprovedFolders {
		if entry.ID == id {
			e := entry
			return &e, true
		}
	}
	return nil, false
}

// IsShared reports whether the exact file path has an approved share.
func (r *Registry) IsShared(username, rel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.state.ApprovedFiles {
		if entry.Username == username && entry.FilePath == rel {
			return true
		}
	}
	return false
}

// IsFolderShared reports whether the exact folder path has an approved
// folder share.
func (r *Registry) IsFolderShared(username, rel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.state.ApprovedFolders {
		if entry.Username == username && entry.FolderPath == rel {
			return true
		}
	}
	return false
}

// IsInSharedFolder reports whether rel equals or descends from any
// approved folder share owned by username. Linear in the number of
// approved folders; recomputed on every call by design.
func (r *Registry) IsInSharedFolder(username, rel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.state.ApprovedFolders {
		if entry.Username == username && pathsafe.Contains(entry.FolderPath, rel) {
			return true
		}
	}
	return false
}

func (r *Registry) ApprovedFiles() []models.FileShare {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.FileShare(nil), r.state.ApprovedFiles...)
}

func (r *Registry) ApprovedFolders() []models.FolderShare {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.FolderShare(nil), r.state.ApprovedFolders...)
}

func (r *Registry) PendingFiles() []models.FileShare {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.FileShare(nil), r.state.PendingFiles...)
}

func (r *Registry) PendingFolders() []models.FolderShare {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.FolderShare(nil), r.state.PendingFolders...)
}

// EntriesFor returns every entry, pending or approved, owned by username.
func (r *Registry) EntriesFor(username string) ([]models.FileShare, []models.FolderShare) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var files []models.FileShare
	for _, entry := range r.state.PendingFiles {
		if entry.Username == username {
			files = append(files, entry)
		}
	}
	for _, entry := range r.state.ApprovedFiles {
		if entry.Username == username {
			files = append(files, entry)
		}
	}
	var folders []models.FolderShare
	for _, entry := range r.state.PendingFolders {
		if entry.Username == username {
			folders = append(folders, entry)
		}
	}
	for _, entry := range r.state.ApprovedFolders {
		if entry.Username == username {
			folders = append(folders, entry)
		}
	}
	return files, folders
}

// CascadeRemove drops every entry, pending or approved, whose path equals
// or descends from rel. Called in the same logical operation as a delete,
// rename or move so share entries never outlive their backing path.
func (r *Registry) CascadeRemove(username, rel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	keepFiles := func(entries []models.FileShare) []models.FileShare {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.Username == username && pathsafe.Contains(rel, entry.FilePath) {
				removed++
				continue
			}
			kept = append(kept, entry)
		}
		return kept
	}
	keepFolders := func(entries []models.FolderShare) []models.FolderShare {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.Username == username && pathsafe.Contains(rel, entry.FolderPath) {
				removed++
				continue
			}
			kept = append(kept, entry)
		}
		return kept
	}

	r.state.PendingFiles = keepFiles(r.state.PendingFiles)
	r.state.ApprovedFiles = keepFiles(r.state.ApprovedFiles)
	r.state.PendingFolders = keepFolders(r.state.PendingFolders)
	r.state.ApprovedFolders = keepFolders(r.state.ApprovedFolders)

	if removed > 0 {
		if err := r.persist(); err != nil {
			logger.Error("share_cascade_persist_failed", err, map[string]interface{}{
				"username": username,
				"path":     rel,
			})
		}
	}
	return removed
}

// RemoveOwner drops every entry owned by username. Used when an account
// is deleted.
func (r *Registry) RemoveOwner(username string) int {
	return r.CascadeRemove(username, "")
}

// RenameOwner rewrites every entry's owner when a username changes. The
// storage root is renamed first; this keeps the registry pointing at the
// new root.
func (r *Registry) RenameOwner(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.state.PendingFiles {
		if r.state.PendingFiles[i].Username == oldName {
			r.state.PendingFiles[i].Username = newName
		}
	}
	for i := range r.state.ApprovedFiles {
		if r.state.ApprovedFiles[i].Username == oldName {
			r.state.ApprovedFiles[i].Username = newName
		}
	}
	for i := range r.state.PendingFolders {
		if r.state.PendingFolders[i].Username == oldName {
			r.state.PendingFolders[i].Username = newName
		}
	}
	for i := range r.state.ApprovedFolders {
		if r.state.ApprovedFolders[i].Username == oldName {
			r.state.ApprovedFolders[i].Username = newName
		}
	}
	return r.persist()
}

// CleanupMissing sweeps approved entries whose backing path no longer
// exists. Invoked before every network listing and on a timer, since any
// delete, rename or move anywhere can strand an entry.
func (r *Registry) CleanupMissing(exists func(username, rel string) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0

	keptFiles := r.state.ApprovedFiles[:0]
	for _, entry := range r.state.ApprovedFiles {
		if exists(entry.Username, entry.FilePath) {
			keptFiles = append(keptFiles, entry)
		} else {
			removed++
		}
	}
	r.state.ApprovedFiles = keptFiles

	keptFolders := r.state.ApprovedFolders[:0]
	for _, entry := range r.state.ApprovedFolders {
		if exists(entry.Username, entry.FolderPath) {
			keptFolders = append(keptFolders, entry)
		} else {
			removed++
		}
	}
	r.state.ApprovedFolders = keptFolders

	if removed > 0 {
		if err := r.persist(); err != nil {
			logger.Error("share_sweep_persist_failed", err, nil)
		}
		logger.Info("share_sweep", map[string]interface{}{"removed": removed})
	}
	return removed
}

// filePathKnown and folderPathKnown run under the registry lock.
func (r *Registry) filePathKnown(username, rel string) bool {
	for _, entry := range r.state.PendingFiles {
		if entry.Username == username && entry.FilePath == rel {
			return true
		}
	}
	for _, entry := range r.state.ApprovedFiles {
		if entry.Username == username && entry.FilePath == rel {
			return true
		}
	}
	return false
}

func (r *Registry) folderPathKnown(username, rel string) bool {
	for _, entry := range r.state.PendingFolders {
		if entry.Username == username && entry.FolderPath == rel {
			return true
		}
	}
	for _, entry := range r.state.ApprovedFolders {
		if entry.Username == username && entry.FolderPath == rel {
			return true
		}
	}
	return false
}

func (r *Registry) persist() error {
	snapshot := State{
		PendingFiles:    append([]models.FileShare(nil), r.state.PendingFiles...),
		ApprovedFiles:   append([]models.FileShare(nil), r.state.ApprovedFiles...),
		PendingFolders:  append([]models.FolderShare(nil), r.state.PendingFolders...),
		ApprovedFolders: append([]models.FolderShare(nil), r.state.ApprovedFolders...),
	}
	return r.store.Save(&snapshot)
}
