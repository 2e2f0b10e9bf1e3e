// ABOUTME: Observer hook receiving informational events from every connection
// ABOUTME: Includes a logging observer and a cross-account presence deduplicator

package gateway

import (
	"log/slog"

	"github.com/2389/fleet/internal/dedupe"
	"github.com/2389/fleet/internal/protocol"
)

// Observer receives informational events (Ready, Resumed, PresenceUpdate
// and any other non-control event). It runs on the reader goroutine and
// must not block.
type Observer interface {
	Observe(accountID string, ev protocol.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(accountID string, ev protocol.Event)

// Observe calls f.
func (f ObserverFunc) Observe(accountID string, ev protocol.Event) { f(accountID, ev) }

// LogObserver logs presence changes at info and everything else at debug.
type LogObserver struct {
	Logger *slog.Logger
}

// Observe implements Observer.
func (o LogObserver) Observe(accountID string, ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.PresenceUpdate:
		o.Logger.Info("presence update",
			"account_id", accountID,
			"user_id", e.User.ID,
			"guild_id", e.GuildID,
			"status", e.Status,
		)
	case protocol.Ready:
		o.Logger.Debug("ready",
			"account_id", accountID,
			"user", e.User.Username,
			"guilds", len(e.Guilds),
		)
	default:
		o.Logger.Debug("gateway event", "account_id", accountID, "event", ev)
	}
}

// DedupeObserver drops presence updates already forwarded for the same
// user, guild and status within the window's TTL, whichever account
// received them. Other events pass straight through.
type DedupeObserver struct {
	Next   Observer
	Window *dedupe.Window
}

// Observe implements Observer.
func (o DedupeObserver) Observe(accountID string, ev protocol.Event) {
	if p, ok := ev.(protocol.PresenceUpdate); ok {
		if o.Window.Seen(p.User.ID + "|" + p.GuildID + "|" + p.Status) {
			return
		}
	}
	o.Next.Observe(accountID, ev)
}

type nopObserver struct{}

func (nopObserver) Observe(string, protocol.Event) {}
