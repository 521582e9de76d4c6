package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

func newLoginCmd(a *app) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login [address]",
		Short: "Log in and open an address",
		Long: `Login signs in through the login service, stores the resulting token and
opens the address, which is how a private document link is followed.

Example:
  docnav login /Handbook --user alice`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := pathArg(args)
			in := bufio.NewReader(cmd.InOrStdin())

			if username == "" {
				name, err := promptLine(cmd, in, "Username: ")
				if err != nil {
					return err
				}
				username = name
			}
			code, err := promptSecret(cmd, in, "Code: ")
			if err != nil {
				return err
			}

			returnURL := strings.TrimSuffix(a.cfg.AppURL, "/") + path
			artifact, err := a.api.LoginHandoff(ctx, a.cfg.LoginURL, returnURL, username, code)
			if err != nil {
				return err
			}
			if err := a.creds.SaveSessionCookie(artifact); err != nil {
				return err
			}

			// Start exchanges the stored artifact and reopens the address.
			s, loc := a.session(path)
			if err := s.Start(ctx); err != nil {
				return err
			}
			snap := s.Snapshot()
			if snap.Terminal {
				return errors.Errorf("login was not accepted: %s", loc.Assigned())
			}
			if !snap.Auth.Authenticated {
				return errors.New("login was not accepted")
			}
			return a.out.Snapshot(snap)
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "Username")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, _ := a.session("/")
			if err := s.Start(ctx); err != nil {
				return err
			}
			if err := s.Logout(ctx); err != nil {
				a.log.Warn("reload after logout failed", zap.Error(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func promptLine(cmd *cobra.Command, in *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Wrap(err, "read input")
	}
	return strings.TrimSpace(line), nil
}

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(cmd *cobra.Command, in *bufio.Reader, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptLine(cmd, in, prompt)
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", errors.Wrap(err, "read code")
	}
	return strings.TrimSpace(string(secret)), nil
}
