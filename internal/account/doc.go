// ABOUTME: Package documentation for the account registry
// ABOUTME: Explains how credentials become supervised gateway connections

// Package account turns user credentials into supervised gateway connections.
//
// # Overview
//
// The Manager holds one gateway connection per upstream account. Adding an
// account is a pipeline:
//
//  1. probe the token against the REST API to learn whose it is
//  2. refuse accounts that are already registered
//  3. open the gateway connection
//  4. persist the account record
//  5. register the handle
//
// A rejected token stops at step 1 and leaves the registry untouched.
// The probe and the dial run without holding the registry lock, so a slow
// upstream never blocks lookups.
//
// # Lifecycle
//
// A connection that ends on its own (fatal close, exhausted reconnects) is
// logged and its handle stays listed with phase "closed" until it is
// removed. RemoveAccount disconnects gracefully and deletes the stored
// record. Restore reopens records loaded from the store at startup without
// writing them again.
//
// # Usage
//
//	mgr := account.NewManager(account.Config{
//	    Prober: identity.NewClient(apiURL, userAgent, 10*time.Second),
//	    Store:  st,
//	    Open:   account.GatewayOpener(gateway.Options{URL: gatewayURL, Reconnect: true}),
//	    Logger: logger,
//	})
//	h, err := mgr.AddAccount(ctx, account.Credential{Token: token, CreatedBy: "admin"})
package account
