package main

import (
	"github.com/spf13/cobra"

	"github.com/rmax-ai/linkd/pkg/mcp"
)

// NewMCPCommand serves the linkd tools to an agent over stdio.
func NewMCPCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve linkd over the Model Context Protocol on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mcp.NewServer(opts.Endpoint).Serve()
		},
	}
}
