// ABOUTME: Local upstream double for end-to-end runs of fleet
// ABOUTME: Usage: fake-gateway [-addr 127.0.0.1:8091] [-token tok=id:name]... [-presence 10s]

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/fleet/internal/fakegateway"
	"github.com/2389/fleet/internal/protocol"
)

// tokenFlags collects repeated -token tok=id:username values.
type tokenFlags map[string]protocol.User

func (t tokenFlags) String() string { return fmt.Sprintf("%d tokens", len(t)) }

func (t tokenFlags) Set(v string) error {
	token, who, ok := strings.Cut(v, "=")
	if !ok || token == "" {
		return fmt.Errorf("want tok=id:username, got %q", v)
	}
	id, name, _ := strings.Cut(who, ":")
	if id == "" {
		return fmt.Errorf("missing account id in %q", v)
	}
	if name == "" {
		name = "user" + id
	}
	t[token] = protocol.User{ID: id, Username: name, GlobalName: name}
	return nil
}

func main() {
	tokens := tokenFlags{}
	addr := flag.String("addr", "127.0.0.1:8091", "listen address")
	presence := flag.Duration("presence", 0, "send a synthetic presence update on this period (0 disables)")
	heartbeat := flag.Duration("heartbeat", 45*time.Second, "heartbeat interval announced in Hello")
	guilds := flag.Int("guilds", 2, "number of guilds in READY")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Var(tokens, "token", "accepted token as tok=id:username (repeatable)")
	flag.Parse()

	if len(tokens) == 0 {
		_ = tokens.Set("dev-token=1000:dev")
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*addr, tokens, *presence, *heartbeat, *guilds, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(addr string, tokens tokenFlags, presence, heartbeat time.Duration, guildCount int, logger *slog.Logger) error {
	srv := fakegateway.New(tokens, logger)
	srv.PresenceEvery = presence
	srv.HeartbeatInterval = heartbeat
	for i := 0; i < guildCount; i++ {
		srv.Guilds = append(srv.Guilds, protocol.Guild{ID: fmt.Sprintf("g%d", i), Name: fmt.Sprintf("guild %d", i)})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpServer := &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}

	green := color.New(color.FgGreen)
	green.Print("▶ ")
	fmt.Printf("REST:    http://%s/api/v10\n", addr)
	green.Print("▶ ")
	fmt.Printf("Gateway: ws://%s%s\n", addr, fakegateway.GatewayPath)
	for tok, u := range tokens {
		green.Print("▶ ")
		fmt.Printf("Token:   %s -> %s (%s)\n", tok, u.ID, u.Username)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return httpServer.Shutdown(shutdownCtx)
}
