// Package storage persists project-scoped memory records with their
// embeddings and answers similarity queries over them.
//
// Two SQLite-family backends implement the same Adapter contract:
//   - legacy: ncruces/go-sqlite3 with sqlite-vec; embeddings live in a vec0
//     side table and KNN queries return cosine distance
//   - native: libsql; embeddings live in an F32_BLOB column with a
//     libsql_vector_idx index and vector_top_k returns row ids only
//
// # Database Schema
//
// Tables:
//   - schema_version: applied migration steps
//   - projects: one row per repository-or-directory identity
//   - records: issues, specs, architecture notes and updates
//   - vec_records (legacy only): vec0 table keyed by record id
//
// # Basic Usage
//
//	store, result, err := storage.Open(ctx, storage.Config{
//	    DBPath:  "~/.devmemory/memory.db",
//	    WorkDir: cwd,
//	}, legacyPath)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	rec, err := store.Upsert(ctx, &types.Record{
//	    Kind:  types.KindIssue,
//	    Title: "login loop on expired token",
//	}, vector)
//
// Open inspects the files once at startup: a fresh install gets an empty
// native store, an existing native store is used as is, and a lone legacy
// store is converted with MigrateLegacyToNative and renamed to .backup.
//
// # Ranking
//
// Search asks the backend for 3× the requested limit, drops candidates whose
// raw similarity is under 0.3, adds 0.1 (capped at 1.0) for records of the
// current project and sorts by the boosted score. Upsert without an ID
// overwrites the closest record of the same project and kind when its
// similarity is at least 0.85.
package storage
