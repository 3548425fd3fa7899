// Package identity defines the messaging-platform user as seen by botgate.
//
// The bot adapter converts its native update objects into User at the boundary;
// nothing below this package depends on the messaging library's types.
package identity
