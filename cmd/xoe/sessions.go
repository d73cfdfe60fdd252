package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List your conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			rt, err := setup(ctx, c.cfg, out)
			if err != nil {
				return err
			}
			defer rt.Close()

			a, err := rt.buildApp(ctx)
			if err != nil {
				return err
			}
			if err := a.Init(ctx); err != nil {
				return err
			}
			defer a.Close()
			conv := a.Chat()
			if conv == nil {
				return errNotSignedIn
			}
			cur, _ := conv.CurrentSession()
			fmt.Fprintln(out, renderSessions(conv.Sessions(), cur.ID))
			return nil
		},
	}
}
