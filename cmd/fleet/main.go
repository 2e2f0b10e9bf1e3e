// ABOUTME: Entry point for the fleet account gateway service
// ABOUTME: Subcommands serve, init, token, health and accounts

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/fleet/internal/auth"
	"github.com/2389/fleet/internal/config"
	"github.com/2389/fleet/internal/server"
)

// Version is set at build time.
var version = "dev"

const banner = `
   __ _           _
  / _| | ___  ___| |_
 | |_| |/ _ \/ _ \ __|
 |  _| |  __/  __/ |_
 |_| |_|\___|\___|\__|
`

// getConfigPath returns the path to the fleet config file.
// Priority: FLEET_CONFIG env var > XDG_CONFIG_HOME/fleet/fleet.yaml > ~/.config/fleet/fleet.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FLEET_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "fleet.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "fleet", "fleet.yaml")
}

// getDataPath returns the fleet data directory.
// Priority: XDG_DATA_HOME/fleet > ~/.local/share/fleet
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "fleet")
}

func usage() {
	fmt.Println("Usage: fleet <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the account gateway service")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  token --sub ID         Mint an admin API token")
	fmt.Println("  health                 Check service health")
	fmt.Println("  accounts               List connected accounts")
}

func main() {
	if len(os.Args) < 2 {
		usage()
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
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "accounts":
		err = runAccounts(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
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

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Gateway:   %s\n", cfg.Upstream.GatewayURL)
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! admin API is unauthenticated (auth.jwt_secret not set)")
	}
	fmt.Println()

	logger.Info("starting fleet",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"gateway_url", cfg.Upstream.GatewayURL,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Run(ctx)
}

// runToken mints an admin JWT signed with auth.jwt_secret.
// Supports "--sub value", "--sub=value" and "--ttl 24h".
func runToken(args []string) error {
	subject := ""
	ttl := 30 * 24 * time.Hour

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var value string
		name, inline, hasInline := strings.Cut(arg, "=")
		if hasInline {
			value = inline
		} else if i+1 < len(args) {
			value = args[i+1]
		}

		switch name {
		case "--sub":
			if !hasInline {
				i++
			}
			subject = value
		case "--ttl":
			if !hasInline {
				i++
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
		default:
			return fmt.Errorf("unknown argument: %s", arg)
		}
	}
	if subject == "" {
		return fmt.Errorf("--sub is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runAccounts lists accounts through the admin API, minting a short-lived
// token from the local config when auth is enabled.
func runAccounts(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/accounts", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if cfg.Auth.JWTSecret != "" {
		token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate("fleet-cli", time.Minute)
		if err != nil {
			return fmt.Errorf("generating token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing accounts failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing accounts: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var list struct {
		Accounts []server.AccountResponse `json:"accounts"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(list.Accounts) == 0 {
		fmt.Println("no accounts")
		return nil
	}
	printAccounts(os.Stdout, list.Accounts)
	return nil
}

func printAccounts(w io.Writer, accounts []server.AccountResponse) {
	for _, a := range accounts {
		phase := color.YellowString(a.Phase)
		switch a.Phase {
		case "established":
			phase = color.GreenString(a.Phase)
		case "closed":
			phase = color.RedString(a.Phase)
		}
		fmt.Fprintf(w, "%-20s %-24s %s", a.ID, a.DisplayName, phase)
		if a.Error != "" {
			fmt.Fprintf(w, " %s", color.HiBlackString(a.Error))
		}
		fmt.Fprintln(w)
	}
}
