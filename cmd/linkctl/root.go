package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/linkd/pkg/client"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Endpoint string
	ActorID  int64
	Format   string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func (o *RootOptions) client() *client.Client {
	return client.NewClient(o.Endpoint)
}

// NewRootCommand creates the root command for the linkd CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "linkctl",
		Short:         "linkctl - manage connections on a linkd daemon",
		Version:       fmt.Sprintf("%s (%s, %s)", Version, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	endpoint := os.Getenv("LINKD_URL")
	if endpoint == "" {
		endpoint = client.DefaultEndpoint
	}
	var actor int64
	if raw := os.Getenv("LINKD_USER_ID"); raw != "" {
		actor, _ = strconv.ParseInt(raw, 10, 64)
	}

	cmd.PersistentFlags().StringVar(&opts.Endpoint, "endpoint", endpoint, "linkd API endpoint")
	cmd.PersistentFlags().Int64VarP(&opts.ActorID, "as", "u", actor, "acting user id")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	for _, c := range newLifecycleCommands(opts) {
		cmd.AddCommand(c)
	}
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewRelationCommand(opts))
	cmd.AddCommand(NewNotificationsCommand(opts))
	cmd.AddCommand(NewEventCommand(opts))
	cmd.AddCommand(NewHealthCommand(opts))
	cmd.AddCommand(NewMCPCommand(opts))

	return cmd
}

func requireActor(opts *RootOptions) error {
	if opts.ActorID <= 0 {
		return fmt.Errorf("an acting user is required: pass --as or set LINKD_USER_ID")
	}
	return nil
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

// printJSON writes v indented; it backs --format json for every command.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
