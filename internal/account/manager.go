// ABOUTME: Registry of per-account gateway connections keyed by upstream account id
// ABOUTME: Adds, removes, restores and routes commands to supervised connections

package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/fleet/internal/gateway"
	"github.com/2389/fleet/internal/identity"
	"github.com/2389/fleet/internal/protocol"
	"github.com/2389/fleet/internal/store"
)

// ErrInvalidCredential indicates the upstream API rejected the token.
var ErrInvalidCredential = identity.ErrInvalidCredential

// ErrAccountExists indicates the account behind a token is already registered.
var ErrAccountExists = errors.New("account already registered")

// ErrAccountNotFound indicates no account is registered under the given id.
var ErrAccountNotFound = errors.New("account not found")

// ErrUpstreamUnavailable marks failures to reach the upstream service, as
// opposed to the upstream rejecting the credential.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Prober resolves a token to the identity it belongs to.
type Prober interface {
	Probe(ctx context.Context, token string) (identity.Identity, error)
}

// Store is the persistence the manager needs.
type Store interface {
	CreateAccount(ctx context.Context, a *store.Account) error
	DeleteAccount(ctx context.Context, id string) error
}

// Conn is a live gateway connection. *gateway.Connection satisfies it.
type Conn interface {
	Send(cmd protocol.Command) error
	Close(ctx context.Context) error
	Done() <-chan struct{}
	Err() error
	Phase() gateway.Phase
	LastSequence() (int64, bool)
}

// OpenFunc opens a gateway connection for an account.
type OpenFunc func(ctx context.Context, accountID, token string) (Conn, error)

// GatewayOpener returns an OpenFunc backed by gateway.Open with opts.
func GatewayOpener(opts gateway.Options) OpenFunc {
	return func(ctx context.Context, accountID, token string) (Conn, error) {
		c, err := gateway.Open(ctx, accountID, token, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Credential is what a caller supplies to add an account.
type Credential struct {
	Token     string
	CreatedBy string
}

// Identity is the account a credential resolved to.
type Identity struct {
	AccountID   string
	Username    string
	DisplayName string
}

// Handle is a registered account and its connection.
type Handle struct {
	RecordID  string
	Identity  Identity
	CreatedBy string
	CreatedAt time.Time

	conn Conn
}

// Phase reports the connection's current phase.
func (h *Handle) Phase() gateway.Phase { return h.conn.Phase() }

// LastSequence reports the last dispatch sequence the connection observed.
func (h *Handle) LastSequence() (int64, bool) { return h.conn.LastSequence() }

// Err reports why the connection ended, or nil while it is running.
func (h *Handle) Err() error { return h.conn.Err() }

// Config wires the manager's collaborators. Store may be nil for a
// registry that persists nothing.
type Config struct {
	Prober Prober
	Store  Store
	Open   OpenFunc
	Logger *slog.Logger
}

// Manager tracks registered accounts.
type Manager struct {
	prober Prober
	store  Store
	open   OpenFunc
	logger *slog.Logger

	mu       sync.RWMutex
	accounts map[string]*Handle
}

// NewManager creates an empty Manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		prober:   cfg.Prober,
		store:    cfg.Store,
		open:     cfg.Open,
		logger:   logger,
		accounts: make(map[string]*Handle),
	}
}

// AddAccount probes cred, opens its gateway connection, persists it and
// registers it. A rejected token returns an error matching
// ErrInvalidCredential and changes nothing.
func (m *Manager) AddAccount(ctx context.Context, cred Credential) (*Handle, error) {
	if cred.Token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}

	who, err := m.prober.Probe(ctx, cred.Token)
	if err != nil {
		if errors.Is(err, ErrInvalidCredential) {
			m.logger.Warn("credential rejected", "error", err)
			return nil, fmt.Errorf("probing identity: %w", err)
		}
		return nil, fmt.Errorf("probing identity: %w: %w", ErrUpstreamUnavailable, err)
	}
	id := Identity{
		AccountID:   who.AccountID,
		Username:    who.Username,
		DisplayName: who.DisplayName,
	}

	if _, ok := m.Get(id.AccountID); ok {
		return nil, ErrAccountExists
	}

	conn, err := m.open(ctx, id.AccountID, cred.Token)
	if err != nil {
		return nil, fmt.Errorf("opening gateway: %w: %w", ErrUpstreamUnavailable, err)
	}

	h := &Handle{
		Identity:  id,
		CreatedBy: cred.CreatedBy,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		conn:      conn,
	}

	if m.store != nil {
		rec := &store.Account{
			ExternalID:  id.AccountID,
			Username:    id.Username,
			DisplayName: id.DisplayName,
			Token:       cred.Token,
			CreatedBy:   cred.CreatedBy,
			CreatedAt:   h.CreatedAt,
		}
		if err := m.store.CreateAccount(ctx, rec); err != nil {
			m.discard(conn)
			if errors.Is(err, store.ErrDuplicateAccount) {
				return nil, ErrAccountExists
			}
			return nil, fmt.Errorf("persisting account: %w", err)
		}
		h.RecordID = rec.ID
	}

	if err := m.register(h); err != nil {
		m.discard(conn)
		m.forget(ctx, h)
		return nil, err
	}
	return h, nil
}

// Restore reopens accounts loaded from the store. Records are not written
// again. Accounts that fail to open are logged and skipped; the joined
// errors are returned alongside the number restored.
func (m *Manager) Restore(ctx context.Context, records []*store.Account) (int, error) {
	var errs []error
	restored := 0
	for _, rec := range records {
		if _, ok := m.Get(rec.ExternalID); ok {
			continue
		}
		conn, err := m.open(ctx, rec.ExternalID, rec.Token)
		if err != nil {
			m.logger.Error("failed to restore account", "account_id", rec.ExternalID, "error", err)
			errs = append(errs, fmt.Errorf("restoring %s: %w", rec.ExternalID, err))
			continue
		}
		h := &Handle{
			RecordID: rec.ID,
			Identity: Identity{
				AccountID:   rec.ExternalID,
				Username:    rec.Username,
				DisplayName: rec.DisplayName,
			},
			CreatedBy: rec.CreatedBy,
			CreatedAt: rec.CreatedAt,
			conn:      conn,
		}
		if err := m.register(h); err != nil {
			m.logger.Warn("restored account registered concurrently, dropping duplicate connection",
				"account_id", rec.ExternalID,
				"error", err,
			)
			m.discard(conn)
			continue
		}
		restored++
	}
	return restored, errors.Join(errs...)
}

func (m *Manager) register(h *Handle) error {
	m.mu.Lock()
	if _, exists := m.accounts[h.Identity.AccountID]; exists {
		m.mu.Unlock()
		return ErrAccountExists
	}
	m.accounts[h.Identity.AccountID] = h
	total := len(m.accounts)
	m.mu.Unlock()

	m.logger.Info("=== ACCOUNT CONNECTED ===",
		"account_id", h.Identity.AccountID,
		"display_name", h.Identity.DisplayName,
		"created_by", h.CreatedBy,
		"total_accounts", total,
	)
	go m.watch(h)
	return nil
}

// watch logs a connection that ends without being removed.
func (m *Manager) watch(h *Handle) {
	<-h.conn.Done()

	m.mu.RLock()
	current := m.accounts[h.Identity.AccountID] == h
	m.mu.RUnlock()
	if !current {
		return
	}
	m.logger.Warn("=== ACCOUNT CONNECTION ENDED ===",
		"account_id", h.Identity.AccountID,
		"error", h.conn.Err(),
	)
}

// RemoveAccount unregisters the account, disconnects it and deletes its
// stored record. If ctx expires before the socket closes cleanly the
// connection is closed hard and removal still completes.
func (m *Manager) RemoveAccount(ctx context.Context, accountID string) error {
	m.mu.Lock()
	h, ok := m.accounts[accountID]
	if ok {
		delete(m.accounts, accountID)
	}
	total := len(m.accounts)
	m.mu.Unlock()

	if !ok {
		return ErrAccountNotFound
	}

	if err := h.conn.Close(ctx); err != nil {
		m.logger.Warn("account did not disconnect cleanly", "account_id", accountID, "error", err)
	}
	m.forget(ctx, h)

	m.logger.Info("=== ACCOUNT REMOVED ===",
		"account_id", accountID,
		"total_accounts", total,
	)
	return nil
}

// Get returns the handle registered under accountID.
func (m *Manager) Get(accountID string) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.accounts[accountID]
	return h, ok
}

// List returns all handles ordered by account id.
func (m *Manager) List() []*Handle {
	m.mu.RLock()
	out := make([]*Handle, 0, len(m.accounts))
	for _, h := range m.accounts {
		out = append(out, h)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity.AccountID < out[j].Identity.AccountID
	})
	return out
}

// Len returns the number of registered accounts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

// Send queues cmd on the account's connection.
func (m *Manager) Send(accountID string, cmd protocol.Command) error {
	h, ok := m.Get(accountID)
	if !ok {
		return ErrAccountNotFound
	}
	if err := h.conn.Send(cmd); err != nil {
		return fmt.Errorf("sending to %s: %w", accountID, err)
	}
	return nil
}

// Close disconnects every account in parallel and empties the registry.
// Stored records are kept so the next start can restore them.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.accounts))
	for id, h := range m.accounts {
		handles = append(handles, h)
		delete(m.accounts, id)
	}
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			if err := h.conn.Close(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("closing %s: %w", h.Identity.AccountID, err))
				mu.Unlock()
			}
		}(h)
	}
	wg.Wait()

	m.logger.Info("account registry closed", "accounts", len(handles))
	return errors.Join(errs...)
}

// discard closes a connection that never made it into the registry.
func (m *Manager) discard(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		m.logger.Debug("discarded connection closed hard", "error", err)
	}
}

func (m *Manager) forget(ctx context.Context, h *Handle) {
	if m.store == nil || h.RecordID == "" {
		return
	}
	if err := m.store.DeleteAccount(context.WithoutCancel(ctx), h.RecordID); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Error("failed to delete account record", "account_id", h.Identity.AccountID, "error", err)
	}
}
