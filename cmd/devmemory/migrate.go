package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/devmemory/internal/storage"
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate a legacy store to the native format",
		Long: `Convert the legacy vector-table store into the native store.

The same migration runs automatically on first start; this command runs it
explicitly and reports the counts. The legacy file is renamed to .backup
afterwards. With --dry-run nothing is written: the detected state and the
legacy store's contents are reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				return runMigrateDryRun(cmd, flags)
			}
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return printOpenResult(cmd.OutOrStdout(), a.result, flags.json)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be migrated without writing")
	return cmd
}

func runMigrateDryRun(cmd *cobra.Command, flags *globalFlags) error {
	cfg, _, err := loadConfig(flags)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if cfg.ToStorage().URL != "" {
		fmt.Fprintln(out, "store is remote; nothing to migrate")
		return nil
	}

	state, err := storage.DetectState(cfg.DBPath, cfg.LegacyDBPath)
	if err != nil {
		return err
	}
	report := map[string]interface{}{
		"state":       state.String(),
		"store":       cfg.DBPath,
		"legacy_path": cfg.LegacyDBPath,
	}
	if state == storage.StateNeedsMigration {
		info, err := storage.Inspect(cmd.Context(), cfg.LegacyDBPath)
		if err != nil {
			return err
		}
		report["legacy"] = info
	}

	if flags.json {
		return writeJSON(out, report)
	}
	fmt.Fprintf(out, "State:  %s\n", state)
	fmt.Fprintf(out, "Store:  %s\n", cfg.DBPath)
	fmt.Fprintf(out, "Legacy: %s\n", cfg.LegacyDBPath)
	if info, ok := report["legacy"].(*storage.StoreInfo); ok {
		fmt.Fprintf(out, "Would migrate %d projects, %d records, %d embeddings (schema v%d)\n",
			info.Projects, info.Records, info.Embeddings, info.SchemaVersion)
	}
	return nil
}

func printOpenResult(out io.Writer, result *storage.OpenResult, asJSON bool) error {
	if asJSON {
		return writeJSON(out, result)
	}
	fmt.Fprintf(out, "State: %s\n", result.State)
	if result.Stats != nil {
		fmt.Fprintf(out, "Migrated %d projects, %d records, %d embeddings\n",
			result.Stats.Projects, result.Stats.Records, result.Stats.Embeddings)
	} else {
		fmt.Fprintln(out, "Nothing to migrate")
	}
	if result.BackupPath != "" {
		fmt.Fprintf(out, "Legacy store moved to %s\n", result.BackupPath)
	}
	return nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
