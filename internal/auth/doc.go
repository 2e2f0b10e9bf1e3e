// ABOUTME: Package documentation for admin API authentication
// ABOUTME: Covers token format, middleware behaviour and context helpers

// Package auth authenticates callers of the fleet admin API.
//
// Tokens are HS256 JWTs signed with auth.jwt_secret. They must carry a
// "sub" and an "exp" claim; tokens signed with any other algorithm are
// rejected. Mint one with:
//
//	fleet token --sub ops@example.com
//
// HTTPAuthMiddleware answers 401 with a JSON error body when the header is
// missing or the token does not verify. On success the subject is
// available to handlers through FromContext, and the account manager
// records it as the creator of accounts added in that request.
package auth
