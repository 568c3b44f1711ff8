package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmerrifield20/GreenLedger/internal/session"
	"github.com/jmerrifield20/GreenLedger/pkg/client"
	"github.com/spf13/cobra"
)

// savedSession is persisted to ~/.greenledger/session.json between runs.
type savedSession struct {
	Server   string `json:"server"`
	Token    string `json:"token"`
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
	Role     string `json:"role,omitempty"`
}

func sessionPath() string { return filepath.Join(configDir(), "session.json") }

func loadSession() (*savedSession, error) {
	b, err := os.ReadFile(sessionPath())
	if err != nil {
		return nil, err
	}
	var s savedSession
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", sessionPath(), err)
	}
	if s.Server != "" && s.Server != serverURL {
		return nil, fmt.Errorf("saved session belongs to %s", s.Server)
	}
	return &s, nil
}

func saveSession(s *client.Session) error {
	if err := os.MkdirAll(configDir(), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", configDir(), err)
	}
	b, err := json.MarshalIndent(savedSession{
		Server:   serverURL,
		Token:    s.Token,
		Type:     s.Type,
		Category: s.Category,
		Role:     s.Role,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sessionPath(), b, 0o600)
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(adminLoginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}

// ── login ────────────────────────────────────────────────────────────────────

var loginCmd = &cobra.Command{
	Use:   "login <category> <role>",
	Short: "Sign in as a supply-chain role",
	Long: `Sign in as one of a category's roles. Quote roles containing spaces:

  greenledger login thermal "Roast Master"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		s, err := c.Login(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		if err := saveSession(s); err != nil {
			return err
		}
		fmt.Printf("✓ Signed in as %s (%s)\n", s.Role, s.Category)
		return nil
	},
}

// ── admin-login ──────────────────────────────────────────────────────────────

var adminEmail string

var adminLoginCmd = &cobra.Command{
	Use:   "admin-login",
	Short: "Sign in as the administrator",
	Long: `Sign in as the administrator. The password is read from
GREENLEDGER_ADMIN_PASSWORD when set, otherwise from the first line of stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if adminEmail == "" {
			return errors.New("--email is required")
		}
		password := os.Getenv("GREENLEDGER_ADMIN_PASSWORD")
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		s, err := c.AdminLogin(context.Background(), adminEmail, password)
		if err != nil {
			return err
		}
		if err := saveSession(s); err != nil {
			return err
		}
		fmt.Println("✓ Signed in as administrator")
		return nil
	},
}

func init() {
	adminLoginCmd.Flags().StringVar(&adminEmail, "email", "", "Administrator email")
}

// ── logout / whoami ──────────────────────────────────────────────────────────

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.Remove(sessionPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		fmt.Println("✓ Signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession()
		if err != nil {
			return errors.New("not signed in; run 'greenledger login <category> <role>'")
		}
		if jsonOutput() {
			return printJSON(s)
		}
		if s.Type == session.TypeAdmin {
			fmt.Printf("administrator @ %s\n", s.Server)
			return nil
		}
		fmt.Printf("%s (%s) @ %s\n", s.Role, s.Category, s.Server)
		return nil
	},
}

// ── hash-password ────────────────────────────────────────────────────────────

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print a bcrypt hash for session.admin_password_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := session.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Println(h)
		return nil
	},
}
