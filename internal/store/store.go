// ABOUTME: Account records and the Store interface for durable account persistence
// ABOUTME: SQLiteStore and MockStore both implement Store

package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateAccount is returned when an account with the same
	// external id is already stored.
	ErrDuplicateAccount = errors.New("account already exists")
)

// Account is a stored credential together with the identity it resolved to.
type Account struct {
	ID          string
	ExternalID  string // account id reported by the upstream API
	Username    string
	DisplayName string
	Token       string
	CreatedBy   string
	CreatedAt   time.Time
}

// Store persists accounts so a restarted process can reconnect them.
type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByExternalID(ctx context.Context, externalID string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	DeleteAccount(ctx context.Context, id string) error
	Close() error
}
