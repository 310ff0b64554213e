package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawOpener struct {
	name  string
	open  func(path string) (*sql.DB, error)
	steps []Migration
}

var rawOpeners = []rawOpener{
	{
		name:  "legacy",
		open:  func(path string) (*sql.DB, error) { return openLegacyDB(path, false) },
		steps: legacyMigrations,
	},
	{
		name:  "native",
		open:  func(path string) (*sql.DB, error) { return openNativeDB(Config{DBPath: path}) },
		steps: nativeMigrations,
	},
}

func setupTestDB(t *testing.T, o rawOpener) *sql.DB {
	t.Helper()
	db, err := o.open(filepath.Join(t.TempDir(), o.name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	for _, o := range rawOpeners {
		t.Run(o.name, func(t *testing.T) {
			ctx := context.Background()
			db := setupTestDB(t, o)

			v, err := CurrentVersion(ctx, db)
			require.NoError(t, err)
			assert.Equal(t, 0, v)

			applied, err := ApplyMigrations(ctx, db, o.steps)
			require.NoError(t, err)
			assert.Equal(t, len(o.steps), applied)

			applied, err = ApplyMigrations(ctx, db, o.steps)
			require.NoError(t, err)
			assert.Equal(t, 0, applied)

			v, err = CurrentVersion(ctx, db)
			require.NoError(t, err)
			assert.Equal(t, o.steps[len(o.steps)-1].Version, v)

			var markers int
			require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&markers))
			assert.Equal(t, len(o.steps), markers)
		})
	}
}

func TestLegacyKindMigrationKeepsExistingRows(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, rawOpeners[0])

	_, err := ApplyMigrations(ctx, db, legacyMigrations[:1])
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO projects (id, name, created_at, updated_at) VALUES (1, 'p', 'x', 'x')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO records (id, project_id, kind, title, created_at, updated_at) VALUES (1, 1, 'issue', 'old', 'x', 'x')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO records (project_id, kind, title, created_at, updated_at) VALUES (1, 'update', 'new', 'x', 'x')`)
	require.Error(t, err, "first generation rejects the update kind")

	applied, err := ApplyMigrations(ctx, db, legacyMigrations)
	require.NoError(t, err)
	assert.Equal(t, len(legacyMigrations)-1, applied)

	var title string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT title FROM records WHERE id = 1`).Scan(&title))
	assert.Equal(t, "old", title)

	_, err = db.ExecContext(ctx, `INSERT INTO records (project_id, kind, title, created_at, updated_at) VALUES (1, 'update', 'new', 'x', 'x')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO records (project_id, kind, title, created_at, updated_at) VALUES (1, 'note', 'bad', 'x', 'x')`)
	require.Error(t, err)
}

func TestFailedStepIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, rawOpeners[0])

	steps := []Migration{
		{Version: 1, Name: "one", Up: []string{`CREATE TABLE t1 (x INTEGER)`}},
		{Version: 2, Name: "two", Up: []string{`CREATE TABLE t2 (x INTEGER)`, `CREATE TABL broken`}},
	}
	applied, err := ApplyMigrations(ctx, db, steps)
	require.Error(t, err)
	assert.Equal(t, 1, applied)

	v, err := CurrentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE name = 't2'`).Scan(&n))
	assert.Equal(t, 0, n)

	// A fixed step resumes where the broken one stopped
	steps[1].Up = []string{`CREATE TABLE t2 (x INTEGER)`}
	applied, err = ApplyMigrations(ctx, db, steps)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
}

func TestValidateMigrations(t *testing.T) {
	assert.NoError(t, validateMigrations(legacyMigrations))
	assert.NoError(t, validateMigrations(nativeMigrations))
	assert.Error(t, validateMigrations([]Migration{
		{Version: 2, Name: "b", Up: []string{"SELECT 1"}},
		{Version: 1, Name: "a", Up: []string{"SELECT 1"}},
	}))
	assert.Error(t, validateMigrations([]Migration{{Version: 1, Name: "empty"}}))
	assert.Error(t, validateMigrations([]Migration{{Version: 0, Name: "zero", Up: []string{"SELECT 1"}}}))
}

func TestApplyMigrationsRejectsNewerStore(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, rawOpeners[1])

	_, err := ApplyMigrations(ctx, db, nativeMigrations)
	require.NoError(t, err)
	_, err = ApplyMigrations(ctx, db, nativeMigrations[:1])
	assert.Error(t, err)
}

func TestRollbackMigration(t *testing.T) {
	ctx := context.Background()

	t.Run("native", func(t *testing.T) {
		db := setupTestDB(t, rawOpeners[1])
		_, err := ApplyMigrations(ctx, db, nativeMigrations)
		require.NoError(t, err)

		require.NoError(t, RollbackMigration(ctx, db, nativeMigrations))
		v, err := CurrentVersion(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, 1, v)

		applied, err := ApplyMigrations(ctx, db, nativeMigrations)
		require.NoError(t, err)
		assert.Equal(t, 1, applied)
	})

	t.Run("legacy irreversible step", func(t *testing.T) {
		db := setupTestDB(t, rawOpeners[0])
		_, err := ApplyMigrations(ctx, db, legacyMigrations)
		require.NoError(t, err)

		require.NoError(t, RollbackMigration(ctx, db, legacyMigrations))
		err = RollbackMigration(ctx, db, legacyMigrations)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "irreversible")

		v, err := CurrentVersion(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, 2, v)
	})

	t.Run("nothing applied", func(t *testing.T) {
		db := setupTestDB(t, rawOpeners[1])
		assert.Error(t, RollbackMigration(ctx, db, nativeMigrations))
	})
}
