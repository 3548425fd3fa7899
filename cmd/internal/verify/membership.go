package verify

import (
	"context"
	"errors"

	"botgate/cmd/identity"
)

// Membership is the answer of a membership capability for one user and group.
type Membership int

const (
	// MembershipUnverifiable means the capability could not confirm either way
	// (private group, missing permissions, timeout, transport error).
	MembershipUnverifiable Membership = iota
	// MembershipMember means the user is in the group.
	MembershipMember
	// MembershipNotMember means the user is definitely not in the group.
	MembershipNotMember
)

func (m Membership) String() string {
	switch m {
	case MembershipMember:
		return "member"
	case MembershipNotMember:
		return "not_member"
	default:
		return "unverifiable"
	}
}

var (
	// ErrCheckTimeout is attached to a group result when the capability did not answer in time.
	ErrCheckTimeout = errors.New("membership check timed out")

	// ErrCheckPanic is attached to a group result when the capability panicked.
	ErrCheckPanic = errors.New("membership check panicked")
)

// MembershipChecker answers "is this user in this group?".
//
// Implementations must honor ctx cancellation. Any error is treated by the engine
// as MembershipUnverifiable for that group.
type MembershipChecker interface {
	CheckMembership(ctx context.Context, user identity.User, group string) (Membership, error)
}

// CheckerFunc adapts a function to MembershipChecker.
type CheckerFunc func(ctx context.Context, user identity.User, group string) (Membership, error)

// CheckMembership calls f.
func (f CheckerFunc) CheckMembership(ctx context.Context, user identity.User, group string) (Membership, error) {
	return f(ctx, user, group)
}

// Unavailable is the checker used when no capability is configured: every group is
// reported unverifiable, so verification fails closed.
type Unavailable struct{}

// CheckMembership always returns MembershipUnverifiable.
func (Unavailable) CheckMembership(_ context.Context, _ identity.User, _ string) (Membership, error) {
	return MembershipUnverifiable, nil
}

// GroupResult is the outcome of checking one required group.
type GroupResult struct {
	Group      string
	Membership Membership
	Err        error
}
