package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/nasvault/backend/internal/models"
	"github.com/nasvault/backend/pkg/logger"
)

// Store persists registry state. The registry calls Save after every
// mutation and Load exactly once at startup.
type Store interface {
	Load() (*State, error)
	Save(state *State) error
}

// GormStore keeps shares as database rows, split into pending and
// approved by the status column.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Load() (*State, error) {
	var files []models.FileShare
	if err := s.db.Find(&files).Error; err != nil {
		return nil, fmt.Errorf("loading file shares: %w", err)
	}
	var folders []models.FolderShare
	if err := s.db.Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("loading folder shares: %w", err)
	}

	state := &State{}
	for _, entry := range files {
		if entry.Status == models.ShareStatusApproved {
			state.ApprovedFiles = append(state.ApprovedFiles, entry)
		} else {
			state.PendingFiles = append(state.PendingFiles, entry)
		}
	}
	for _, entry := range folders {
		if entry.Status == models.ShareStatusApproved {
			state.ApprovedFolders = append(state.ApprovedFolders, entry)
		} else {
			state.PendingFolders = append(state.PendingFolders, entry)
		}
	}
	return state, nil
}

// Save replaces the tables wholesale inside one transaction. Share
// volume is small enough that rewriting beats tracking row-level diffs.
func (s *GormStore) Save(state *State) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.FileShare{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&models.FolderShare{}).Error; err != nil {
			return err
		}

		files := append(append([]models.FileShare(nil), state.PendingFiles...), state.ApprovedFiles...)
		if len(files) > 0 {
			if err := tx.Create(&files).Error; err != nil {
				return err
			}
		}
		folders := append(append([]models.FolderShare(nil), state.PendingFolders...), state.ApprovedFolders...)
		if len(folders) > 0 {
			if err := tx.Create(&folders).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// JSONStore keeps the whole state in one JSON file, written atomically.
type JSONStore struct {
	path string
}

func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load returns empty state for a missing file. A file that exists but
// does not parse is moved aside to <path>.backup and replaced with empty
// state, so a corrupted store never blocks startup.
func (s *JSONStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading share store: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		backup := s.path + ".backup"
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			return nil, fmt.Errorf("parsing share store: %w", err)
		}
		logger.Warn("share_store_corrupted", map[string]interface{}{
			"path":   s.path,
			"backup": backup,
		})
		return &State{}, nil
	}
	return &state, nil
}

func (s *JSONStore) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding share store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating share store dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".shares-*.json")
	if err != nil {
		return fmt.Errorf("creating share store temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing share store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing share store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing share store temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing share store: %w", err)
	}
	return nil
}
