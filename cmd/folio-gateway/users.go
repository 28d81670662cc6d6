// ABOUTME: The users subcommand: list admin users, add one, change a role, reset a password
// ABOUTME: Works directly on the gateway database so it runs with the server stopped

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/folio-gateway/internal/auth"
	"github.com/2389/folio-gateway/internal/config"
	"github.com/2389/folio-gateway/internal/store"
)

const usersUsage = `Usage: folio-gateway users <command>

Commands:
  list                          List admin users
  add <username> [admin|none]   Create a user (password from FOLIO_ADMIN_PASSWORD or stdin)
  set-role <username> <role>    Set a user's role: admin or none
  passwd <username>             Reset a user's password (FOLIO_ADMIN_PASSWORD or stdin)`

func runUsers(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Println(usersUsage)
		return fmt.Errorf("missing users command")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green := color.New(color.FgGreen)
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "list":
		return listUsers(ctx, s, os.Stdout)
	case "add":
		if len(rest) < 1 || len(rest) > 2 {
			return fmt.Errorf("usage: folio-gateway users add <username> [admin|none]")
		}
		roleName := "admin"
		if len(rest) == 2 {
			roleName = rest[1]
		}
		role, err := parseRoleArg(roleName)
		if err != nil {
			return err
		}
		password, err := passwordFromEnvOrStdin("Password for " + rest[0])
		if err != nil {
			return err
		}
		if err := addUser(ctx, s, rest[0], password, role); err != nil {
			return err
		}
		green.Printf("  ✓ Created user: %s\n", rest[0])
	case "set-role":
		if len(rest) != 2 {
			return fmt.Errorf("usage: folio-gateway users set-role <username> <admin|none>")
		}
		role, err := parseRoleArg(rest[1])
		if err != nil {
			return err
		}
		if err := setUserRole(ctx, s, rest[0], role); err != nil {
			return err
		}
		green.Printf("  ✓ %s now has role %s\n", rest[0], roleLabel(role.String()))
	case "passwd":
		if len(rest) != 1 {
			return fmt.Errorf("usage: folio-gateway users passwd <username>")
		}
		password, err := passwordFromEnvOrStdin("New password for " + rest[0])
		if err != nil {
			return err
		}
		if err := setUserPassword(ctx, s, rest[0], password); err != nil {
			return err
		}
		green.Printf("  ✓ Password updated for %s\n", rest[0])
		fmt.Println("    Existing sessions stay valid until they expire.")
	default:
		fmt.Println(usersUsage)
		return fmt.Errorf("unknown users command: %s", cmd)
	}
	return nil
}

func listUsers(ctx context.Context, s store.AdminStore, w io.Writer) error {
	users, err := s.ListAdminUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(w, "No users. Run: folio-gateway bootstrap")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tROLE\tCREATED\tID")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.Username, roleLabel(u.Role), u.CreatedAt.Format(time.DateOnly), u.ID)
	}
	return tw.Flush()
}

func addUser(ctx context.Context, s store.AdminStore, username, password string, role auth.Role) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username cannot be empty or whitespace only")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return s.CreateAdminUser(ctx, &store.AdminUser{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Role:         role.String(),
		CreatedAt:    time.Now().UTC(),
	})
}

func setUserRole(ctx context.Context, s store.AdminStore, username string, role auth.Role) error {
	user, err := s.GetAdminUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	return s.UpdateAdminUserRole(ctx, user.ID, role.String())
}

func setUserPassword(ctx context.Context, s store.AdminStore, username, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	user, err := s.GetAdminUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	return s.UpdateAdminUserPassword(ctx, user.ID, hash)
}

// parseRoleArg accepts only names the gate understands; auth.ParseRole
// would quietly turn a typo into no role at all.
func parseRoleArg(name string) (auth.Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "admin":
		return auth.RoleAdmin, nil
	case "none", "":
		return auth.RoleNone, nil
	default:
		return auth.RoleNone, fmt.Errorf("unknown role %q (want admin or none)", name)
	}
}

func roleLabel(role string) string {
	if role == "" {
		return "none"
	}
	return role
}

func passwordFromEnvOrStdin(label string) (string, error) {
	if password := os.Getenv("FOLIO_ADMIN_PASSWORD"); password != "" {
		if len(password) < auth.MinPasswordLength {
			return "", auth.ErrPasswordTooShort
		}
		return password, nil
	}
	return readPassword(bufio.NewReader(os.Stdin), label)
}
