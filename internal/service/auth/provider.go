// Package auth defines the contracts the session layer consumes.
package auth

import "context"

// IdentityProvider is the external identity provider.
// Implemented by provider/kratos and provider/authsvc.
type IdentityProvider interface {
	// CheckSession performs the silent session check. handle is the
	// credential delivered by a login redirect, or empty to use whatever
	// ambient credential the provider holds. Returns ErrNoSession when
	// there is no session to resume.
	CheckSession(ctx context.Context, handle string) (*Tokens, error)
	Refresher
	LoginURL(returnTo string) string
	Logout(ctx context.Context, tokens Tokens) error
}

// Refresher exchanges a refresh handle for fresh tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshHandle string) (*Tokens, error)
}

// SubjectStore persists the subject id so it survives restarts.
type SubjectStore interface {
	SaveSubject(ctx context.Context, subjectID string) error
	ClearSubject(ctx context.Context) error
}

// Navigator performs redirects on behalf of the session.
type Navigator interface {
	Redirect(url string)
}
