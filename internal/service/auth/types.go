// Package auth defines domain types for authentication.
package auth

import "time"

// State is the identity session lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateChecking
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "uninitialized"
	}
}

// Resolved reports whether the silent session check has finished.
func (s State) Resolved() bool {
	return s == StateAuthenticated || s == StateUnauthenticated
}

// Tokens holds the tokens issued by the identity provider.
type Tokens struct {
	AccessToken  string
	RefreshToken string // refresh handle; for Kratos this is the session token itself
	ExpiresAt    time.Time
	UserID       string // subject reported by the provider, used when the token has no claims
	DisplayName  string
	Email        string
}

// Identity is the authenticated user session. Owned by Session.
type Identity struct {
	SubjectID   string
	DisplayName string
	Email       string
	Tokens      Tokens
}

// Profile is the token-free view of an Identity handed to consumers.
type Profile struct {
	SubjectID   string `json:"subject_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// Change describes one session state transition.
type Change struct {
	From    State
	To      State
	Profile *Profile
}
