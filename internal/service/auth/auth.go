// Package auth provides the identity session and token store.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access token claims the console reads.
type Claims struct {
	Subject   string
	Name      string
	Email     string
	ExpiresAt time.Time
}

// ParseClaims extracts claims from a JWT without verifying the signature.
// Signatures are checked by the services the token is sent to.
func ParseClaims(raw string) (*Claims, error) {
	token, _, err := jwt.NewParser().ParseUnverified(ExtractBearerToken(raw), jwt.MapClaims{})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	c := &Claims{}
	c.Subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	c.Name = stringClaim(claims, "name", "preferred_username")
	c.Email = stringClaim(claims, "email")
	return c, nil
}

// ExtractBearerToken strips an optional "Bearer " prefix.
func ExtractBearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return header
}

// identityFromTokens derives the Identity for freshly issued tokens. Claims
// win over provider-reported fields; opaque tokens fall back to the latter.
func identityFromTokens(t Tokens) Identity {
	id := Identity{
		SubjectID:   t.UserID,
		DisplayName: t.DisplayName,
		Email:       t.Email,
		Tokens:      t,
	}

	claims, err := ParseClaims(t.AccessToken)
	if err != nil {
		return id
	}
	if claims.Subject != "" {
		id.SubjectID = claims.Subject
	}
	if claims.Name != "" {
		id.DisplayName = claims.Name
	}
	if claims.Email != "" {
		id.Email = claims.Email
	}
	if id.Tokens.ExpiresAt.IsZero() {
		id.Tokens.ExpiresAt = claims.ExpiresAt
	}
	return id
}

func stringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
