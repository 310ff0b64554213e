package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/devmemory/internal/memory"
	"github.com/dshills/devmemory/pkg/types"
)

func newProjectsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List known projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			projects, err := a.service.Projects(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flags.json {
				return writeJSON(out, projects)
			}
			current, err := a.service.CurrentProject(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range projects {
				marker := " "
				if p.ID == current.ID {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-40s %5d records\n", marker, p.Name, p.RecordCount)
			}
			return nil
		},
	}
}

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var (
		kind  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memory by meaning",
		Long: `Search memory by meaning. Records from the current project rank higher.

  devmemory search "replica sync hangs"
  devmemory search --kind issue --limit 3 "login crash"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			records, err := a.service.Search(cmd.Context(), memory.SearchRequest{
				Query: strings.Join(args, " "),
				Kind:  types.Kind(kind),
				Limit: limit,
			})
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records, flags.json)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only records of this kind (issue, spec, arch, update)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results (default $DEVMEMORY_DEFAULT_LIMIT)")
	return cmd
}

func newRecentCmd(flags *globalFlags) *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show records of the current project updated recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			records, err := a.service.Recent(cmd.Context(), hours)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records, flags.json)
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "lookback window (default $DEVMEMORY_RECENT_HOURS)")
	return cmd
}

func printRecords(out io.Writer, records []*types.Record, asJSON bool) error {
	if asJSON {
		if records == nil {
			records = []*types.Record{}
		}
		return writeJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No records found")
		return nil
	}
	for _, r := range records {
		score := ""
		if r.Similarity != nil {
			score = fmt.Sprintf(" (%.2f)", *r.Similarity)
		}
		fmt.Fprintf(out, "#%d [%s/%s] %s%s\n", r.ID, r.Kind, r.Status, r.Title, score)
		fmt.Fprintf(out, "    %s, updated %s\n", r.Project, r.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}
