package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/devmemory/internal/mcp"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Run devmemory as an MCP (Model Context Protocol) server on stdio.

Configure it in your agent's MCP settings:

  {
    "mcpServers": {
      "devmemory": {"command": "devmemory", "args": ["serve"]}
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			a.logger.Info("devmemory server starting", "version", version)
			server := mcp.NewServer(a.service, mcp.Options{
				Version:      version,
				DefaultLimit: a.cfg.DefaultLimit,
				Logger:       a.logger,
			})
			err = server.Serve(ctx)
			a.logger.Info("server stopped")
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}
