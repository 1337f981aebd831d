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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(b)
}

func TestBackupStore_RestoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.go": "package a\n", "sub/b.go": "package sub\n"})
	store, err := NewBackupStore(t.TempDir())
	require.NoError(t, err)

	b, err := store.Create("demo", root)
	require.NoError(t, err)
	require.NoError(t, store.Capture(b, "a.go"))
	require.NoError(t, store.Capture(b, "sub/b.go"))
	require.NoError(t, store.Capture(b, "new.go"))

	writeFiles(t, root, map[string]string{"a.go": "package changed\n", "sub/b.go": "", "new.go": "package a\n"})

	res, err := store.Restore(b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "sub/b.go"}, res.Restored)
	assert.Equal(t, []string{"new.go"}, res.Removed)

	assert.Equal(t, "package a\n", readFile(t, root, "a.go"))
	assert.Equal(t, "package sub\n", readFile(t, root, "sub/b.go"))
	assert.NoFileExists(t, filepath.Join(root, "new.go"))

	// A second restore is harmless.
	_, err = store.Restore(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "package a\n", readFile(t, root, "a.go"))
}

func TestBackupStore_CaptureKeepsFirstState(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.go": "v1\n"})
	store, err := NewBackupStore(t.TempDir())
	require.NoError(t, err)

	b, err := store.Create("demo", root)
	require.NoError(t, err)
	require.NoError(t, store.Capture(b, "a.go"))
	writeFiles(t, root, map[string]string{"a.go": "v2\n"})
	require.NoError(t, store.Capture(b, "a.go"))

	_, err = store.Restore(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1\n", readFile(t, root, "a.go"))
}

func TestBackupStore_LoadPersistsManifest(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.go": "x\n"})
	store, err := NewBackupStore(t.TempDir())
	require.NoError(t, err)

	b, err := store.Create("demo", root)
	require.NoError(t, err)
	require.NoError(t, store.Capture(b, "a.go"))

	loaded, err := store.Load(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "demo", loaded.ProjectID)
	assert.True(t, loaded.Captured("a.go"))
	assert.True(t, loaded.Files["a.go"].Existed)
	assert.Nil(t, loaded.RestoredAt)
}

func TestBackupStore_UnknownOrInvalidID(t *testing.T) {
	store, err := NewBackupStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("../../etc")
	assert.ErrorIs(t, err, ErrBackupNotFound)

	_, err = store.Restore("7b0f4a7e-3c0e-4b8e-9d55-0d6f1f1d2a11")
	assert.ErrorIs(t, err, ErrBackupNotFound)
}

func TestBackupStore_CaptureRejectsEscapingPath(t *testing.T) {
	store, err := NewBackupStore(t.TempDir())
	require.NoError(t, err)
	b, err := store.Create("demo", t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Capture(b, "../outside.go"))
}

func TestBackupStore_DetectsCorruptSnapshot(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.go": "original\n"})
	store, err := NewBackupStore(t.TempDir())
	require.NoError(t, err)
	b, err := store.Create("demo", root)
	require.NoError(t, err)
	require.NoError(t, store.Capture(b, "a.go"))

	require.NoError(t, os.WriteFile(store.blobPath(b.ID, "a.go"), []byte("tampered\n"), 0o600))
	writeFiles(t, root, map[string]string{"a.go": "edited\n"})

	_, err = store.Restore(b.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
	assert.Equal(t, "edited\n", readFile(t, root, "a.go"))
}
