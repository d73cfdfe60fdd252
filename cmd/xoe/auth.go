package main

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"companion-chat/internal/chat"
)

func newLoginCmd(c *cli) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to your account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			rt, err := setup(ctx, c.cfg, out)
			if err != nil {
				return err
			}
			defer rt.Close()

			in := bufio.NewReader(cmd.InOrStdin())
			if email, err = valueOr(email, "XOE_EMAIL", in, out, "Email"); err != nil {
				return err
			}
			if password, err = valueOr(password, "XOE_PASSWORD", in, out, "Password"); err != nil {
				return err
			}
			u, err := rt.resolver.SignIn(ctx, email, password)
			if err != nil {
				return fmt.Errorf("sign in failed: %w", err)
			}
			fmt.Fprintln(out, renderNotification(chat.Notification{
				Title:       "Welcome back!",
				Description: fmt.Sprintf("You have successfully signed in as %s.", u.DisplayName()),
			}))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email (or XOE_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (or XOE_PASSWORD)")
	return cmd
}

func newSignupCmd(c *cli) *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			rt, err := setup(ctx, c.cfg, out)
			if err != nil {
				return err
			}
			defer rt.Close()

			in := bufio.NewReader(cmd.InOrStdin())
			if name, err = valueOr(name, "XOE_NAME", in, out, "Name"); err != nil {
				return err
			}
			if email, err = valueOr(email, "XOE_EMAIL", in, out, "Email"); err != nil {
				return err
			}
			if password, err = valueOr(password, "XOE_PASSWORD", in, out, "Password"); err != nil {
				return err
			}
			u, err := rt.resolver.SignUp(ctx, email, password, name)
			if err != nil {
				return fmt.Errorf("sign up failed: %w", err)
			}
			n := chat.Notification{Title: "Account created", Description: "Please check your email to confirm your account."}
			if u != nil {
				n.Description = fmt.Sprintf("You are signed in as %s.", u.DisplayName())
			}
			fmt.Fprintln(out, renderNotification(n))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Account email (or XOE_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (or XOE_PASSWORD)")
	return cmd
}

func newGuestCmd(c *cli) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "guest",
		Short: "Continue as a guest; conversations stay on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			rt, err := setup(ctx, c.cfg, out)
			if err != nil {
				return err
			}
			defer rt.Close()

			u, err := rt.resolver.SignInAsGuest(ctx, email)
			if err != nil {
				return fmt.Errorf("guest login failed: %w", err)
			}
			fmt.Fprintln(out, renderNotification(chat.Notification{
				Title:       "Welcome!",
				Description: fmt.Sprintf("You are now using the app as a guest (%s).", u.DisplayName()),
			}))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Optional email; its name part becomes your display name")
	return cmd
}

func newLogoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			rt, err := setup(ctx, c.cfg, out)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.resolver.SignOut(ctx); err != nil {
				return fmt.Errorf("sign out failed: %w", err)
			}
			fmt.Fprintln(out, renderNotification(chat.Notification{
				Title:       "Signed out",
				Description: "You have been signed out successfully.",
			}))
			return nil
		},
	}
}
