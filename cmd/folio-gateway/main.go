// ABOUTME: Entry point for folio-gateway, the auth front door of the folio admin
// ABOUTME: Subcommands serve the gateway, write config, and create the first admin user

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/folio-gateway/internal/auth"
	"github.com/2389/folio-gateway/internal/config"
	"github.com/2389/folio-gateway/internal/gateway"
	"github.com/2389/folio-gateway/internal/logging"
	"github.com/2389/folio-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
   __       _ _                       _
  / _| ___ | (_) ___         __ _  __ _| |_ _____      ____ _ _   _
 | |_ / _ \| | |/ _ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 |  _| (_) | | | (_) |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |_|  \___/|_|_|\___/       \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                            |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: FOLIO_CONFIG env var > XDG_CONFIG_HOME/folio/gateway.yaml > ~/.config/folio/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FOLIO_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "folio", "gateway.yaml")
}

// getDataPath returns the path to the folio data directory.
// Priority: XDG_DATA_HOME/folio > ~/.local/share/folio
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "folio")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: folio-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                        Start the gateway server")
		fmt.Println("  init                         Create a new config file interactively")
		fmt.Println("  bootstrap [--username NAME]  Create config (if missing) and the first admin user")
		fmt.Println("  hash-password                Read a password from stdin and print its bcrypt hash")
		fmt.Println("  users <list|add|set-role|passwd>  Manage admin users")
		fmt.Println("  health                       Check gateway readiness")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx)
	case "hash-password":
		err = runHashPassword()
	case "users":
		err = runUsers(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closer := logging.New(cfg.Logging, os.Stdout)
	defer closer.Close()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			gray.Print(" (https)")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Lockout:   %s (%d attempts / %s)\n", cfg.Lockout.Backend, cfg.Lockout.MaxAttempts, cfg.Lockout.Window)
	if cfg.Upstream.URL != "" {
		green.Print("    ▶ ")
		fmt.Printf("Upstream:  %s\n", cfg.Upstream.URL)
	}
	if !cfg.Auth.Secure() {
		yellow.Println("    ! secure_cookies is off; use only for local development")
	}
	fmt.Println()

	logger.Info("starting folio-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/readyz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d", resp.StatusCode)
	}

	fmt.Println("ready")
	return nil
}

func runHashPassword() error {
	password, err := readPassword(bufio.NewReader(os.Stdin), "Password")
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

// runBootstrap performs first-time setup of the gateway:
// 1. Creates config file with a random JWT secret (if not exists)
// 2. Creates the database and the first admin user
//
// The password comes from FOLIO_ADMIN_PASSWORD or is read from stdin.
func runBootstrap(ctx context.Context) error {
	username := "admin"
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--username" || arg == "-u":
			if i+1 >= len(args) {
				return fmt.Errorf("--username requires a value")
			}
			username = args[i+1]
			i++
		case strings.HasPrefix(arg, "--username="):
			username = strings.TrimPrefix(arg, "--username=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username cannot be empty or whitespace only")
	}

	configPath := getConfigPath()
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaultConfig(configPath); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	count, err := s.CountAdminUsers(ctx)
	if err != nil {
		return fmt.Errorf("checking admin users: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("bootstrap already complete: %d admin user(s) exist", count)
	}

	password, err := passwordFromEnvOrStdin("Password for " + username)
	if err != nil {
		return err
	}
	if err := addUser(ctx, s, username, password, auth.RoleAdmin); err != nil {
		return fmt.Errorf("creating admin user: %w", err)
	}

	green.Printf("  ✓ Created admin user: %s\n", username)
	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	yellow.Println("  Ready to go:")
	fmt.Println("    folio-gateway serve          # start the gateway")
	fmt.Printf("    folio-admin login -u %s   # sign in\n", username)
	fmt.Println()
	return nil
}

func writeDefaultConfig(configPath string) error {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)
	dbPath := filepath.Join(getDataPath(), "gateway.db")

	content := fmt.Sprintf(`# folio-gateway configuration
# Generated by folio-gateway bootstrap

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

lockout:
  backend: "sqlite"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("folio-gateway configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	defaultDbPath := filepath.Join(getDataPath(), "gateway.db")

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	upstream := prompt(reader, "Upstream blog URL (empty for none)", "")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Lockout Configuration ---")
	backend := prompt(reader, "Lockout backend (memory/sqlite/redis)", "sqlite")
	var redisAddr string
	if backend == config.LockoutBackendRedis {
		redisAddr = prompt(reader, "Redis address", "localhost:6379")
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(prompt(reader, "Enable Tailscale?", "no"))
	var tsHostname, tsAuthKey string
	var tsEphemeral, tsHTTPS bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "folio-gateway")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		tsEphemeral = isYes(prompt(reader, "Ephemeral node?", "no"))
		tsHTTPS = isYes(prompt(reader, "Serve HTTPS with tailnet certs?", "yes"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}

	var cfg strings.Builder
	cfg.WriteString("# folio-gateway configuration\n")
	cfg.WriteString("# Generated by folio-gateway init\n\n")

	cfg.WriteString("server:\n")
	if !tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", base64.StdEncoding.EncodeToString(secretBytes)))
	cfg.WriteString("  session_duration: \"24h\"\n")
	cfg.WriteString("  refresh_margin: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("lockout:\n")
	cfg.WriteString(fmt.Sprintf("  backend: %q\n", backend))
	cfg.WriteString("  max_attempts: 5\n")
	cfg.WriteString("  window: \"15m\"\n")
	if redisAddr != "" {
		cfg.WriteString(fmt.Sprintf("  redis_addr: %q\n", redisAddr))
	}
	cfg.WriteString("\n")

	if upstream != "" {
		cfg.WriteString("upstream:\n")
		cfg.WriteString(fmt.Sprintf("  url: %q\n", upstream))
		cfg.WriteString("\n")
	}

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  https: %t\n", tsHTTPS))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if _, err := config.Parse([]byte(cfg.String()), config.FormatYAML); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  folio-gateway bootstrap   # create the first admin user")
	fmt.Println("  folio-gateway serve")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

// readPassword reads one line from reader. Input is echoed; pipe the
// password in when that matters.
func readPassword(reader *bufio.Reader, label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if len(password) < auth.MinPasswordLength {
		return "", auth.ErrPasswordTooShort
	}
	return password, nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}
