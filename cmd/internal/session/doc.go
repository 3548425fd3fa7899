// Package session owns the login-handshake sessions of botgate.
//
// A session starts Pending when a website asks for a login link, may be bound to a
// messaging-platform user, becomes Verified once membership checks pass, and is
// forced to Expired after its TTL. Status never moves backwards and Expired is
// absorbing.
//
// State lives in process memory only; all access goes through Store, which
// serializes reads and writes with a single mutex.
package session
