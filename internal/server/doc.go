// ABOUTME: Package documentation for the fleet server
// ABOUTME: Describes startup, the admin API routes and shutdown order

// Package server runs the fleet service.
//
// # Startup
//
// New opens the SQLite store, builds the Prometheus registry and the
// account manager. Run reopens every stored account, then serves the
// admin API until its context is canceled.
//
// # Admin API
//
//	GET    /health                       liveness, always 200
//	GET    /health/ready                 200 once an account is established
//	GET    {metrics.path}                Prometheus metrics, when enabled
//	GET    /api/accounts                 list accounts
//	POST   /api/accounts                 {"token": "..."} add an account
//	GET    /api/accounts/{id}            one account
//	DELETE /api/accounts/{id}            disconnect and forget
//	POST   /api/accounts/{id}/presence   {"status": "idle", "afk": true}
//	POST   /api/accounts/{id}/voice      {"guild_id": "...", "channel_id": "..."}
//
// Adding an account answers 201 on success, 422 when the token is
// rejected, 409 when the account is already registered and 502 when the
// upstream cannot be reached. Routes under /api require a bearer JWT when
// auth.jwt_secret is set.
//
// # Shutdown
//
// Shutdown stops the HTTP server, disconnects every account and closes
// the store. Stored accounts are restored on the next start.
package server
