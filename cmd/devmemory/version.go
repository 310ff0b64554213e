package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/devmemory/internal/embedder"
	"github.com/dshills/devmemory/internal/storage"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "devmemory %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Store Driver: %s (legacy: %s)\n", storage.NativeDriverName, storage.LegacyDriverName)
			fmt.Fprintf(out, "Embedding Provider: %s\n", embedder.DetectProvider())
		},
	}
}
