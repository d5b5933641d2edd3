// Package access defines the authorization boundary for reading books.
// The default policy allows everything; deployments embed their own
// Checker to scope libraries per user.
package access

import "context"

// Checker decides whether a principal may read a book.
type Checker interface {
	CanAccess(ctx context.Context, principal, bookID string) (bool, error)
}

// AllowAll permits every request. It is the policy for single-user setups.
type AllowAll struct{}

func (AllowAll) CanAccess(context.Context, string, string) (bool, error) {
	return true, nil
}
