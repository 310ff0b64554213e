package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/devmemory/pkg/types"
)

func TestDetectState(t *testing.T) {
	dir := t.TempDir()
	native := filepath.Join(dir, "memory.db")
	legacy := filepath.Join(dir, "legacy.db")

	state, err := DetectState(native, legacy)
	require.NoError(t, err)
	assert.Equal(t, StateFresh, state)

	require.NoError(t, os.WriteFile(legacy, nil, 0o644))
	state, err = DetectState(native, legacy)
	require.NoError(t, err)
	assert.Equal(t, StateNeedsMigration, state)

	require.NoError(t, os.WriteFile(native, nil, 0o644))
	state, err = DetectState(native, legacy)
	require.NoError(t, err)
	assert.Equal(t, StateMigrated, state)

	assert.Equal(t, "fresh", StateFresh.String())
	assert.Equal(t, "migrated", StateMigrated.String())
	assert.Equal(t, "needs-migration", StateNeedsMigration.String())
}

func openSelected(t *testing.T, nativePath, legacyPath string) (*Store, *OpenResult, error) {
	t.Helper()
	s, res, err := Open(context.Background(), testConfig(t, nativePath, "acme/widgets", nil), legacyPath)
	if s != nil {
		t.Cleanup(func() { _ = s.Close() })
	}
	return s, res, err
}

func TestOpenFresh(t *testing.T) {
	dir := t.TempDir()
	nativePath := filepath.Join(dir, "memory.db")

	s, res, err := openSelected(t, nativePath, filepath.Join(dir, "legacy.db"))
	require.NoError(t, err)
	assert.Equal(t, StateFresh, res.State)
	assert.Nil(t, res.Stats)
	assert.Empty(t, res.BackupPath)
	assert.Equal(t, "native", s.Backend())

	_, err = os.Stat(nativePath)
	assert.NoError(t, err)
}

func TestOpenMigratesLegacyStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	seed := seedLegacyStore(t, dir)
	nativePath := filepath.Join(dir, "memory.db")

	s, res, err := openSelected(t, nativePath, seed.path)
	require.NoError(t, err)
	assert.Equal(t, StateNeedsMigration, res.State)
	require.NotNil(t, res.Stats)
	assert.Equal(t, MigrationStats{Projects: 1, Records: 3, Embeddings: 2}, *res.Stats)
	assert.Equal(t, seed.path+".backup", res.BackupPath)

	_, err = os.Stat(seed.path)
	assert.True(t, os.IsNotExist(err), "legacy store is moved aside")
	_, err = os.Stat(res.BackupPath)
	assert.NoError(t, err)

	all, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	require.NoError(t, s.Close())

	// Second start finds the migrated store
	s2, res2, err := openSelected(t, nativePath, seed.path)
	require.NoError(t, err)
	assert.Equal(t, StateMigrated, res2.State)
	assert.Nil(t, res2.Stats)
	all, err = s2.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpenMovesStaleLegacyAside(t *testing.T) {
	dir := t.TempDir()
	nativePath := filepath.Join(dir, "memory.db")
	legacyPath := filepath.Join(dir, "legacy.db")

	s, _, err := openSelected(t, nativePath, legacyPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, os.WriteFile(legacyPath+".backup", []byte("older backup"), 0o644))
	require.NoError(t, os.WriteFile(legacyPath, []byte("stale"), 0o644))

	_, res, err := openSelected(t, nativePath, legacyPath)
	require.NoError(t, err)
	assert.Equal(t, StateMigrated, res.State)
	assert.Equal(t, legacyPath+".backup.1", res.BackupPath)

	data, err := os.ReadFile(legacyPath + ".backup")
	require.NoError(t, err)
	assert.Equal(t, "older backup", string(data))
	data, err = os.ReadFile(res.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, "stale", string(data))
}

func TestOpenRejectsNonLegacyFile(t *testing.T) {
	dir := t.TempDir()
	nativePath := filepath.Join(dir, "memory.db")
	legacyPath := filepath.Join(dir, "legacy.db")
	require.NoError(t, os.WriteFile(legacyPath, []byte("definitely not a database file at all"), 0o644))

	_, res, err := openSelected(t, nativePath, legacyPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotLegacyStore)
	assert.Equal(t, StateNeedsMigration, res.State)

	_, err = os.Stat(nativePath)
	assert.True(t, os.IsNotExist(err), "no native store is left behind")
	_, err = os.Stat(legacyPath)
	assert.NoError(t, err)
}

func TestOpenRefusesReplicaMigration(t *testing.T) {
	dir := t.TempDir()
	seed := seedLegacyStore(t, dir)

	cfg := testConfig(t, filepath.Join(dir, "memory.db"), "acme/widgets", nil)
	cfg.SyncURL = "libsql://example.turso.io"
	_, _, err := Open(context.Background(), cfg, seed.path)
	assert.ErrorIs(t, err, ErrReplicaMigration)

	_, err = os.Stat(seed.path)
	assert.NoError(t, err)
}

func TestOpenRejectsSamePaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	_, _, err := openSelected(t, path, path)
	assert.Error(t, err)
}

func TestOpenedStoreIsUsable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, _, err := openSelected(t, filepath.Join(dir, "memory.db"), "")
	require.NoError(t, err)

	var a Adapter = s
	rec, err := a.Upsert(ctx, newRecord(types.KindIssue, "via adapter"), randomUnitVector(700))
	require.NoError(t, err)
	results, err := a.Search(ctx, randomUnitVector(700), SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, rec.ID, results[0].ID)
}

func TestConfigLocalPath(t *testing.T) {
	assert.Equal(t, "/tmp/a.db", Config{DBPath: "/tmp/a.db"}.localPath())
	assert.Equal(t, "/tmp/b.db", Config{URL: "file:/tmp/b.db", DBPath: "/tmp/a.db"}.localPath())
	assert.Equal(t, "", Config{URL: "libsql://db.example.io"}.localPath())
	assert.Equal(t, "", Config{URL: "https://db.example.io"}.localPath())
}

func TestRemoteDSN(t *testing.T) {
	dsn, err := remoteDSN("libsql://db.example.io", "secret")
	require.NoError(t, err)
	assert.Equal(t, "libsql://db.example.io?authToken=secret", dsn)

	dsn, err = remoteDSN("https://db.example.io", "")
	require.NoError(t, err)
	assert.Equal(t, "https://db.example.io", dsn)
}
