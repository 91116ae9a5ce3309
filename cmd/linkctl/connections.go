package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/linkd/pkg/client"
)

type lifecycleFunc func(c *client.Client, ctx context.Context, actorID, userID int64) (client.Result, error)

func newLifecycleCommands(opts *RootOptions) []*cobra.Command {
	defs := []struct {
		use, short, done string
		op               lifecycleFunc
	}{
		{"request <user-id>", "Send a connection request", "Connection request sent", (*client.Client).SendRequest},
		{"accept <user-id>", "Accept a connection request from a user", "Connection request accepted", (*client.Client).AcceptRequest},
		{"reject <user-id>", "Reject a connection request from a user", "Connection request rejected", (*client.Client).RejectRequest},
		{"remove <user-id>", "Remove a connection", "Connection removed", (*client.Client).RemoveConnection},
	}

	cmds := make([]*cobra.Command, 0, len(defs))
	for _, d := range defs {
		cmds = append(cmds, &cobra.Command{
			Use:   d.use,
			Short: d.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := requireActor(opts); err != nil {
					return err
				}
				userID, err := parseUserID(args[0])
				if err != nil {
					return err
				}
				res, err := d.op(opts.client(), cmd.Context(), opts.ActorID, userID)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return printJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintln(cmd.OutOrStdout(), d.done)
				if res.EventsPending {
					fmt.Fprintln(cmd.OutOrStdout(), "Note: notification delivery is pending")
				}
				return nil
			},
		})
	}
	return cmds
}

// NewListCommand lists users related to the actor.
func NewListCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:       "list [first-degree|received|sent|suggestions]",
		Short:     "List connections, pending requests or suggestions",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"first-degree", "received", "sent", "suggestions"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireActor(opts); err != nil {
				return err
			}
			kind := "first-degree"
			if len(args) == 1 {
				kind = args[0]
			}

			c, ctx := opts.client(), cmd.Context()
			var (
				persons []client.Person
				err     error
			)
			switch kind {
			case "first-degree":
				persons, err = c.FirstDegreeConnections(ctx, opts.ActorID)
			case "received":
				persons, err = c.PendingReceived(ctx, opts.ActorID)
			case "sent":
				persons, err = c.PendingSent(ctx, opts.ActorID)
			case "suggestions":
				persons, err = c.Suggestions(ctx, opts.ActorID, limit)
			default:
				return fmt.Errorf("unknown list %q", kind)
			}
			if err != nil {
				return err
			}

			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), persons)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USER ID\tNAME")
			for _, p := range persons {
				fmt.Fprintf(tw, "%d\t%s\n", p.UserID, p.Name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum suggestions")
	return cmd
}

// NewRelationCommand shows the state between the actor and a user.
func NewRelationCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relation <user-id>",
		Short: "Show the relation with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireActor(opts); err != nil {
				return err
			}
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			rel, err := opts.client().Relation(cmd.Context(), opts.ActorID, userID)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), rel)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Relation: %s\n", rel.State)
			if rel.SenderID != 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Requested by: %d\n", rel.SenderID)
			}
			return nil
		},
	}
}

// NewNotificationsCommand prints the actor's notification feed.
func NewNotificationsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "notifications",
		Short: "Show recent notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireActor(opts); err != nil {
				return err
			}
			notes, err := opts.client().Notifications(cmd.Context(), opts.ActorID)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), notes)
			}
			for _, n := range notes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Message)
			}
			return nil
		},
	}
}

// NewHealthCommand checks the daemon.
func NewHealthCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := opts.client().Ping(cmd.Context())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Status: %s\nServices: %v\n", status.Status, status.Services)
			if status.Leader != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Relay leader: %t (epoch %d)\n", *status.Leader, status.Epoch)
			}
			return nil
		},
	}
}
