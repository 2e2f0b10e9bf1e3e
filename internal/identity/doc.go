// Package identity validates an account token against the upstream REST
// API and returns the public identity it belongs to.
package identity
