// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package apply

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
)

const manifestName = "manifest.json"

// BackupEntry is the pre-apply state of one file.
type BackupEntry struct {
	Existed bool        `json:"existed"`
	Mode    fs.FileMode `json:"mode,omitempty"`
	SHA256  string      `json:"sha256,omitempty"`
}

// Backup is a snapshot token scoped to one apply operation.
type Backup struct {
	ID         string                 `json:"id"`
	ProjectID  string                 `json:"project_id"`
	Root       string                 `json:"root"`
	CreatedAt  time.Time              `json:"created_at"`
	Files      map[string]BackupEntry `json:"files"`
	RestoredAt *time.Time             `json:"restored_at,omitempty"`
}

// Captured reports whether rel is part of the snapshot.
func (b *Backup) Captured(rel string) bool {
	_, ok := b.Files[rel]
	return ok
}

// BackupStore keeps snapshots on the filesystem under
// <dir>/<backup id>/, with file contents stored by path hash.
//
// # Thread Safety
//
// Safe for concurrent use.
type BackupStore struct {
	dir string
	mu  sync.Mutex
}

// NewBackupStore creates the store directory if needed.
func NewBackupStore(dir string) (*BackupStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	return &BackupStore{dir: dir}, nil
}

// Dir returns the store root.
func (s *BackupStore) Dir() string { return s.dir }

// Create starts an empty snapshot of the project at root.
func (s *BackupStore) Create(projectID, root string) (*Backup, error) {
	b := &Backup{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Root:      root,
		CreatedAt: time.Now().UTC(),
		Files:     make(map[string]BackupEntry),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.blobDir(b.ID), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	if err := s.persist(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	return b, nil
}

// Capture records the current state of rel. A file is captured once;
// later calls keep the first state.
func (s *BackupStore) Capture(b *Backup, rel string) error {
	clean, err := evidence.CleanRelative(rel)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Captured(clean) {
		return nil
	}

	abs := filepath.Join(b.Root, filepath.FromSlash(clean))
	entry := BackupEntry{}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("stat %s: %w", clean, err)
	default:
		content, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("reading %s: %w", clean, err)
		}
		sum := sha256.Sum256(content)
		entry = BackupEntry{Existed: true, Mode: info.Mode().Perm(), SHA256: hex.EncodeToString(sum[:])}
		if err := os.WriteFile(s.blobPath(b.ID, clean), content, 0o600); err != nil {
			return fmt.Errorf("storing %s: %w", clean, err)
		}
	}

	b.Files[clean] = entry
	return s.persist(b)
}

// Load reads a snapshot manifest.
func (s *BackupStore) Load(id string) (*Backup, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBackupNotFound, id)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id, manifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup manifest: %w", err)
	}
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decoding backup manifest: %w", err)
	}
	if b.Files == nil {
		b.Files = make(map[string]BackupEntry)
	}
	return &b, nil
}

// Restore puts every captured file back byte for byte and removes files
// that did not exist at capture time. Restoring twice is harmless.
func (s *BackupStore) Restore(id string) (*RollbackResult, error) {
	b, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &RollbackResult{BackupID: b.ID, ProjectID: b.ProjectID, Restored: []string{}, Removed: []string{}}
	var errs []error
	for _, rel := range slices.Sorted(maps.Keys(b.Files)) {
		entry := b.Files[rel]
		abs := filepath.Join(b.Root, filepath.FromSlash(rel))
		if !entry.Existed {
			if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("removing %s: %w", rel, err))
				continue
			}
			res.Removed = append(res.Removed, rel)
			continue
		}
		content, err := os.ReadFile(s.blobPath(b.ID, rel))
		if err != nil {
			errs = append(errs, fmt.Errorf("reading snapshot of %s: %w", rel, err))
			continue
		}
		sum := sha256.Sum256(content)
		if hex.EncodeToString(sum[:]) != entry.SHA256 {
			errs = append(errs, fmt.Errorf("snapshot of %s is corrupt", rel))
			continue
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.WriteFile(abs, content, entry.Mode); err != nil {
			errs = append(errs, fmt.Errorf("restoring %s: %w", rel, err))
			continue
		}
		res.Restored = append(res.Restored, rel)
	}
	if err := errors.Join(errs...); err != nil {
		return res, err
	}

	now := time.Now().UTC()
	b.RestoredAt = &now
	if err := s.persist(b); err != nil {
		return res, err
	}
	return res, nil
}

// Delete removes a snapshot.
func (s *BackupStore) Delete(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrBackupNotFound, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.RemoveAll(filepath.Join(s.dir, id))
}

func (s *BackupStore) blobDir(id string) string {
	return filepath.Join(s.dir, id, "blobs")
}

func (s *BackupStore) blobPath(id, rel string) string {
	sum := sha256.Sum256([]byte(rel))
	return filepath.Join(s.blobDir(id), hex.EncodeToString(sum[:]))
}

func (s *BackupStore) persist(b *Backup) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling backup manifest: %w", err)
	}
	tmp := filepath.Join(s.dir, b.ID, manifestName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing backup manifest: %w", err)
	}
	return os.Rename(tmp, filepath.Join(s.dir, b.ID, manifestName))
}
