// Package adminkey hashes and verifies the operator key that guards the ledger
// endpoints.
//
// Keys are stored as Argon2id PHC strings ($argon2id$v=19$m=..,t=..,p=..$salt$hash),
// so the plain key never appears in configuration. Encoded hashes are treated as
// untrusted input and refused when their cost parameters are out of bounds.
package adminkey
