// ABOUTME: Interactive starter config writer for fleet
// ABOUTME: Prompts for addresses and upstream URLs and generates a JWT secret

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type initAnswers struct {
	HTTPAddr   string
	DBPath     string
	APIBaseURL string
	GatewayURL string
	JWTSecret  string
	LogLevel   string
	LogFormat  string
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("fleet configuration setup")
	fmt.Println("=========================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(prompt(reader, "File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	fmt.Println("\n--- Server ---")
	a := initAnswers{
		HTTPAddr: prompt(reader, "HTTP address", "127.0.0.1:8090"),
		DBPath:   prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "fleet.db")),
	}

	fmt.Println("\n--- Upstream ---")
	a.APIBaseURL = prompt(reader, "REST API base URL", "http://127.0.0.1:8091/api/v10")
	a.GatewayURL = prompt(reader, "Gateway URL", "ws://127.0.0.1:8091/gateway")

	fmt.Println("\n--- Logging ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")
	a.JWTSecret = secret

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(outputFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := writeConfig(f, a); err != nil {
		f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(a.DBPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the service:")
	fmt.Println("  fleet serve")
	fmt.Println("\nTo get an admin token:")
	fmt.Println("  fleet token --sub you@example.com")
	return nil
}

func writeConfig(w io.Writer, a initAnswers) error {
	_, err := fmt.Fprintf(w, `# fleet configuration
# Generated by fleet init

server:
  http_addr: %q

database:
  path: %q

auth:
  jwt_secret: %q

upstream:
  api_base_url: %q
  gateway_url: %q
  probe_timeout: "10s"

gateway:
  os: "linux"
  browser: "fleet"
  device: "fleet"
  handshake_timeout: "30s"
  write_timeout: "10s"
  reconnect: true
  max_reconnect_elapsed: "0s"
  zombie_detection: true
  presence_dedupe_ttl: "1m"

logging:
  level: %q
  format: %q

metrics:
  enabled: true
  path: "/metrics"
`, a.HTTPAddr, a.DBPath, a.JWTSecret, a.APIBaseURL, a.GatewayURL, a.LogLevel, a.LogFormat)
	return err
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
