package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fpang/image-edit/internal/mcptools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// runMCP serves the workflow over stdio. Stdout carries the protocol, so
// all logging goes to stderr and there are no dialogs.
func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd, false)
	if err != nil {
		log.Error().Err(err).Msg("Startup failed")
		return err
	}
	defer a.Close()

	server := mcptools.New(a.workflow, a.gate, &http.Client{Timeout: a.cfg.FetchTimeout}, version)
	return server.Run(ctx, &mcp.StdioTransport{})
}
