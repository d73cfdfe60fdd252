package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"companion-chat/internal/config"
)

var errNotSignedIn = errors.New("not signed in: run `xoe login` or `xoe guest` first")

// cli carries the state shared by all subcommands.
type cli struct {
	envFile string
	verbose bool
	cfg     config.Client
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "xoe",
		Short: "Chat with Xoe, your AI companion",
		Long: `Chat with Xoe from the terminal.

Conversations of signed-in accounts are kept in the cloud; guest
conversations stay on this machine.

Quick Start:
  xoe guest              # Start as a guest
  xoe login              # Sign in to your account
  xoe chat               # Open the chat`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFile(c.envFile); err != nil {
				return err
			}
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			c.cfg = cfg
			level := cfg.Level()
			if c.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env", "", "Path to an env file (default ./.env when present)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newLoginCmd(c),
		newSignupCmd(c),
		newGuestCmd(c),
		newLogoutCmd(c),
		newChatCmd(c),
		newSessionsCmd(c),
		newProfileCmd(c),
	)
	return root
}

// prompt asks for a value on w and reads one line from r.
func prompt(r *bufio.Reader, w io.Writer, label string) (string, error) {
	fmt.Fprintf(w, "%s: ", label)
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}

// valueOr returns v, else the environment variable, else a prompted value.
func valueOr(v, envKey string, r *bufio.Reader, w io.Writer, label string) (string, error) {
	if v != "" {
		return v, nil
	}
	if e := os.Getenv(envKey); e != "" {
		return e, nil
	}
	return prompt(r, w, label)
}
