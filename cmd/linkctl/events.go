package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/linkd/pkg/client"
)

// NewEventCommand reports facts owned by other services, for local testing
// without the identity and posts services.
func NewEventCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Report identity and post events",
	}

	var name, email string
	userCreated := &cobra.Command{
		Use:   "user-created <user-id>",
		Short: "Report a new user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			r, err := opts.client().ReportUserCreated(cmd.Context(), client.UserCreated{UserID: userID, Name: name, Email: email})
			if err != nil {
				return err
			}
			return printReceipt(cmd, opts, r)
		},
	}
	userCreated.Flags().StringVar(&name, "name", "", "display name")
	userCreated.Flags().StringVar(&email, "email", "", "email address")

	postCreated := &cobra.Command{
		Use:   "post-created <post-id>",
		Short: "Report a new post by the acting user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireActor(opts); err != nil {
				return err
			}
			postID, err := parseUserID(args[0])
			if err != nil {
				return fmt.Errorf("invalid post id %q", args[0])
			}
			r, err := opts.client().ReportPostCreated(cmd.Context(), client.PostCreated{CreatorID: opts.ActorID, PostID: postID})
			if err != nil {
				return err
			}
			return printReceipt(cmd, opts, r)
		},
	}

	var creator int64
	postLiked := &cobra.Command{
		Use:   "post-liked <post-id>",
		Short: "Report that the acting user liked a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireActor(opts); err != nil {
				return err
			}
			postID, err := parseUserID(args[0])
			if err != nil {
				return fmt.Errorf("invalid post id %q", args[0])
			}
			if creator <= 0 {
				return fmt.Errorf("--creator is required")
			}
			r, err := opts.client().ReportPostLiked(cmd.Context(), client.PostLiked{CreatorID: creator, LikedByUserID: opts.ActorID, PostID: postID})
			if err != nil {
				return err
			}
			return printReceipt(cmd, opts, r)
		},
	}
	postLiked.Flags().Int64Var(&creator, "creator", 0, "author of the post")

	cmd.AddCommand(userCreated, postCreated, postLiked)
	return cmd
}

func printReceipt(cmd *cobra.Command, opts *RootOptions, r client.EventReceipt) error {
	if opts.Format == "json" {
		return printJSON(cmd.OutOrStdout(), r)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Event %s published to %s\n", r.EventID, r.Topic)
	return nil
}
