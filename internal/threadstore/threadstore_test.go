package threadstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	cachePath := filepath.Join(root, "thread-cache.json")
	return Open(cachePath), root
}

func rawMessage(t *testing.T, role, text string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]string{"role": role, "text": text})
	require.NoError(t, err)
	return data
}

func TestSaveAndLoadAll(t *testing.T) {
	store, root := newTestStore(t)

	manifest := Manifest{
		SessionID:  "sess-1",
		Title:      "First session",
		AgentID:    "claude-code",
		AgentName:  "Claude Code",
		WorkingDir: root,
	}
	messages := []json.RawMessage{rawMessage(t, "user", "hello")}

	require.NoError(t, store.Save(manifest, messages))

	threads, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "sess-1", threads[0].Manifest.SessionID)
	assert.Equal(t, "First session", threads[0].Manifest.Title)
	assert.WithinDuration(t, threads[0].Manifest.CreatedAt, threads[0].Manifest.UpdatedAt, time.Second)
	require.Len(t, threads[0].Messages, 1)
}

func TestUpdateMessagesNoOpsForMissingThread(t *testing.T) {
	store, root := newTestStore(t)
	err := store.UpdateMessages("does-not-exist", root, []json.RawMessage{rawMessage(t, "user", "hi")})
	assert.NoError(t, err)
}

func TestRenameAndUpdateInteractionMode(t *testing.T) {
	store, root := newTestStore(t)
	manifest := Manifest{SessionID: "sess-2", Title: "Before", WorkingDir: root}
	require.NoError(t, store.Save(manifest, nil))

	require.NoError(t, store.Rename("sess-2", root, "After"))
	require.NoError(t, store.UpdateInteractionMode("sess-2", root, "plan"))

	threads, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "After", threads[0].Manifest.Title)
	assert.Equal(t, "plan", threads[0].Manifest.InteractionMode)
}

func TestRemoveDropsThreadFromDiskAndCache(t *testing.T) {
	store, root := newTestStore(t)
	manifest := Manifest{SessionID: "sess-3", WorkingDir: root}
	require.NoError(t, store.Save(manifest, nil))

	require.NoError(t, store.Remove("sess-3", root))

	threads, err := store.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, threads)

	_, err = os.Stat(filepath.Join(root, ".agent", "threads", "sess-3"))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadAllDropsCacheEntriesWithMissingDirectories(t *testing.T) {
	store, root := newTestStore(t)
	manifest := Manifest{SessionID: "sess-4", WorkingDir: root}
	require.NoError(t, store.Save(manifest, nil))

	require.NoError(t, os.RemoveAll(filepath.Join(root, ".agent", "threads", "sess-4")))

	threads, err := store.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestRebuildCacheScansWorkspaceDirectories(t *testing.T) {
	store, root := newTestStore(t)

	manifest := Manifest{SessionID: "sess-5", WorkingDir: root}
	require.NoError(t, store.Save(manifest, nil))

	freshCachePath := filepath.Join(t.TempDir(), "thread-cache.json")
	fresh := Open(freshCachePath)
	require.NoError(t, fresh.RebuildCache([]Workspace{{ID: "ws-1", Root: root}}))

	threads, err := fresh.LoadAll()
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "sess-5", threads[0].Manifest.SessionID)
}
