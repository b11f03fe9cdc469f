// Package rights answers "can this user view or edit this file right
// now". Answers are never cached by callers for longer than one request:
// the token manager re-asks on every issuance, access check and release,
// because authorization can be revoked mid-session.
package rights

import "context"

// Resolver is the capability resolver boundary. Implementations may hit
// a database or the network, so both methods take a context and must not
// be called while holding the token store's lock.
type Resolver interface {
	CanView(ctx context.Context, user, fileID string) (bool, error)
	CanEdit(ctx context.Context, user, fileID string) (bool, error)
}
