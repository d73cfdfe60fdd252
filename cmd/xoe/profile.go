package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"companion-chat/internal/chat"
	"companion-chat/internal/identity"
)

func newProfileCmd(c *cli) *cobra.Command {
	var name, avatar string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			rt, err := setup(ctx, c.cfg, out)
			if err != nil {
				return err
			}
			defer rt.Close()

			user := rt.resolver.Resolve(ctx)
			if user == nil {
				return errNotSignedIn
			}
			var upd identity.ProfileUpdate
			if cmd.Flags().Changed("name") {
				upd.Name = &name
			}
			if cmd.Flags().Changed("avatar") {
				upd.AvatarURL = &avatar
			}
			if upd.Name != nil || upd.AvatarURL != nil {
				next, err := rt.resolver.UpdateProfile(ctx, user, upd)
				if err != nil {
					return fmt.Errorf("update failed: %w", err)
				}
				user = &next
				fmt.Fprintln(out, renderNotification(chat.Notification{
					Title:       "Profile updated",
					Description: "Your profile has been updated successfully.",
				}))
			}

			fmt.Fprintf(out, "%s %s\n", userNameStyle.Render("Name:"), user.DisplayName())
			fmt.Fprintf(out, "%s %s\n", userNameStyle.Render("Email:"), user.Email)
			if user.AvatarURL != "" {
				fmt.Fprintf(out, "%s %s\n", userNameStyle.Render("Avatar:"), user.AvatarURL)
			}
			fmt.Fprintf(out, "%s %s\n", userNameStyle.Render("Mode:"), rt.resolver.Mode(ctx))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New display name")
	cmd.Flags().StringVar(&avatar, "avatar", "", "New avatar URL")
	return cmd
}
