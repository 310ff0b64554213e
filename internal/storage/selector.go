package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// State is the on-disk situation found at startup
type State int

const (
	// StateFresh means neither store exists; a native store is created
	StateFresh State = iota
	// StateMigrated means the native store exists and is used as is
	StateMigrated
	// StateNeedsMigration means only the legacy store exists and is
	// converted before the native store is opened
	StateNeedsMigration
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateMigrated:
		return "migrated"
	case StateNeedsMigration:
		return "needs-migration"
	}
	return "unknown"
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrReplicaMigration is returned when a legacy store would have to be
// migrated into an embedded replica, which only the remote primary can seed
var ErrReplicaMigration = errors.New("cannot auto-migrate a legacy store into an embedded replica")

// OpenResult reports what Open decided and did
type OpenResult struct {
	State State `json:"state"`
	// Remote is set when the store is addressed by URL and no file was inspected
	Remote bool `json:"remote"`
	// Stats is set when a migration ran
	Stats *MigrationStats `json:"stats,omitempty"`
	// BackupPath is where the legacy store was moved, if it was
	BackupPath string `json:"backup_path,omitempty"`
}

// DetectState decides the startup state from which files exist
func DetectState(nativePath, legacyPath string) (State, error) {
	nativeExists, err := fileExists(nativePath)
	if err != nil {
		return 0, err
	}
	if nativeExists {
		return StateMigrated, nil
	}
	legacyExists, err := fileExists(legacyPath)
	if err != nil {
		return 0, err
	}
	if legacyExists {
		return StateNeedsMigration, nil
	}
	return StateFresh, nil
}

// Open selects, migrates if needed, opens and initialises the native store.
// The legacy store at legacyPath is never deleted: after a successful
// migration it is renamed with a .backup suffix.
func Open(ctx context.Context, cfg Config, legacyPath string) (*Store, *OpenResult, error) {
	logger := cfg.logger()
	result := &OpenResult{}
	nativePath := cfg.localPath()

	if nativePath == "" {
		result.Remote = true
		result.State = StateMigrated
		logger.Info("using remote store, skipping on-disk inspection")
	} else {
		if legacyPath != "" && sameFile(nativePath, legacyPath) {
			return nil, nil, fmt.Errorf("legacy and native store paths are both %s", nativePath)
		}
		state, err := DetectState(nativePath, legacyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to inspect store files: %w", err)
		}
		result.State = state
		logger.Info("store state", "state", state.String(), "path", nativePath)

		switch state {
		case StateNeedsMigration:
			if cfg.SyncURL != "" {
				return nil, result, ErrReplicaMigration
			}
			info, err := Inspect(ctx, legacyPath)
			if err != nil {
				return nil, result, fmt.Errorf("%w: %w", ErrNotLegacyStore, err)
			}
			if !info.Legacy {
				return nil, result, fmt.Errorf("%s: %w", legacyPath, ErrNotLegacyStore)
			}
			stats, err := MigrateLegacyToNative(ctx, legacyPath, nativePath, logger)
			if err != nil {
				return nil, result, err
			}
			result.Stats = stats
			if result.BackupPath, err = backupLegacy(legacyPath); err != nil {
				return nil, result, err
			}
			logger.Info("legacy store backed up", "path", result.BackupPath)

		case StateMigrated:
			if legacyPath == "" {
				break
			}
			if exists, _ := fileExists(legacyPath); exists {
				logger.Warn("legacy store found next to migrated store, moving it aside", "path", legacyPath)
				backup, err := backupLegacy(legacyPath)
				if err != nil {
					return nil, result, err
				}
				result.BackupPath = backup
			}
		}
	}

	store, err := NewNative(cfg)
	if err != nil {
		return nil, result, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, result, err
	}
	return store, result, nil
}

// backupLegacy renames path to path.backup, or path.backup.N when earlier
// backups exist, moving the journal siblings along with it
func backupLegacy(path string) (string, error) {
	backup := path + ".backup"
	for n := 1; ; n++ {
		exists, err := fileExists(backup)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
		backup = path + ".backup." + strconv.Itoa(n)
	}
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("failed to back up legacy store: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if exists, _ := fileExists(path + suffix); exists {
			_ = os.Rename(path+suffix, backup+suffix)
		}
	}
	return backup, nil
}

func fileExists(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func sameFile(a, b string) bool {
	if a == b {
		return true
	}
	fa, errA := os.Stat(a)
	fb, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(fa, fb)
}
