// Package dedupe suppresses repeated keys inside a sliding time window.
// The gateway uses it to collapse presence updates that several accounts
// receive for the same user and guild.
package dedupe
