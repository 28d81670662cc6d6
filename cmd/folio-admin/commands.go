// ABOUTME: folio-admin subcommands: login, whoami, logout, and watch
// ABOUTME: watch runs the session monitor until interrupted or the session is lost

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/2389/folio-gateway/internal/monitor"
)

var (
	loginUsername string
	watchMargin   time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and save the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		username := loginUsername
		if username == "" {
			return errors.New("--username is required")
		}
		password, err := readPassword(os.Stdin, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		m, err := monitor.New(gatewayURL, monitor.WithLogger(logger.With("component", "monitor")))
		if err != nil {
			return err
		}
		defer m.Stop()

		sess, err := m.Login(cmd.Context(), username, password)
		if err != nil {
			var loginErr *monitor.LoginError
			if errors.As(err, &loginErr) && loginErr.RetryAfter > 0 {
				color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "Locked out. Try again in %s.\n", loginErr.RetryAfter)
			}
			return err
		}

		if err := saveSession(sessionPath, &savedSession{
			URL:       gatewayURL,
			Username:  sess.Username,
			Token:     m.Token(),
			ExpiresAt: sess.ExpiresAt,
		}); err != nil {
			return err
		}

		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Signed in as %s\n", sess.Username)
		printSession(cmd.OutOrStdout(), sess)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newMonitor()
		if err != nil {
			return err
		}
		defer m.Stop()

		sess, err := m.Start(cmd.Context())
		if errors.Is(err, monitor.ErrNotAuthenticated) {
			fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
			return nil
		}
		if err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), sess)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and forget the saved token",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newMonitor()
		if err != nil {
			return err
		}
		if err := m.Logout(cmd.Context()); err != nil {
			logger.Warn("gateway logout failed", "error", err)
		}
		if err := removeSession(sessionPath); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the session alive until interrupted",
	Long: `watch refreshes the saved session shortly before it expires and
rewrites the session file after every refresh. It exits when
interrupted or when the gateway stops accepting the session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		margin := watchMargin
		if !cmd.Flags().Changed("margin") {
			var err error
			if margin, err = refreshMargin(watchMargin); err != nil {
				return err
			}
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		lost := make(chan error, 1)
		out := cmd.OutOrStdout()
		var m *monitor.Monitor
		m, err := newMonitor(
			monitor.WithRefreshMargin(margin),
			monitor.OnLogout(func(reason error) {
				select {
				case lost <- reason:
				default:
				}
			}),
			monitor.OnRefresh(func(s monitor.Session) {
				fmt.Fprintf(out, "%s refreshed, expires %s\n",
					time.Now().Format(time.Kitchen), s.ExpiresAt.Local().Format(time.RFC1123))
				if err := saveSession(sessionPath, &savedSession{
					URL:       gatewayURL,
					Username:  s.Username,
					Token:     m.Token(),
					ExpiresAt: s.ExpiresAt,
				}); err != nil {
					logger.Error("saving session", "error", err)
				}
			}),
		)
		if err != nil {
			return err
		}
		defer m.Stop()

		sess, err := m.Start(ctx)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(out, "▶ Watching session for %s (refresh %s before expiry)\n", sess.Username, margin)
		printSession(out, sess)

		select {
		case <-ctx.Done():
			return nil
		case reason := <-lost:
			if reason == nil {
				return nil
			}
			_ = removeSession(sessionPath)
			return fmt.Errorf("session lost: %w", reason)
		}
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", os.Getenv("USER"), "Admin username")
	watchCmd.Flags().DurationVar(&watchMargin, "margin", monitor.DefaultRefreshMargin, "Refresh this long before expiry")

	rootCmd.AddCommand(loginCmd, whoamiCmd, logoutCmd, watchCmd)
}

func printSession(w io.Writer, s *monitor.Session) {
	gray := color.New(color.FgHiBlack)
	role := s.Role
	if role == "" {
		role = "(none)"
	}
	fmt.Fprintf(w, "  user:    %s\n", s.Username)
	fmt.Fprintf(w, "  role:    %s\n", role)
	fmt.Fprintf(w, "  expires: %s ", s.ExpiresAt.Local().Format(time.RFC1123))
	gray.Fprintf(w, "(in %s)\n", time.Until(s.ExpiresAt).Round(time.Second))
}

// readPassword reads without echo from a terminal, or one line otherwise.
func readPassword(in *os.File, prompt io.Writer) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
