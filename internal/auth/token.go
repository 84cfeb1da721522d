package auth

import (
	"log/slog"
	"time"

	"golang.org/x/oauth2"
)

// AccessToken is an issued bearer token. Values only ever live in memory.
type AccessToken struct {
	Value     string
	TokenType string
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time

	refreshToken string
}

// Valid reports whether the token can still be handed out at now, keeping
// margin in reserve before the hard expiry.
func (t AccessToken) Valid(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-margin))
}

// Expired reports whether the token is past its hard expiry.
func (t AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// HasRefreshToken reports whether the token can be renewed without a user.
func (t AccessToken) HasRefreshToken() bool {
	return t.refreshToken != ""
}

// OAuth2 converts the token for use with oauth2 helpers such as SetAuthHeader.
func (t AccessToken) OAuth2() *oauth2.Token {
	typ := t.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return &oauth2.Token{
		AccessToken: t.Value,
		TokenType:   typ,
		Expiry:      t.ExpiresAt,
	}
}

// LogValue never includes the token value.
func (t AccessToken) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Time("issued_at", t.IssuedAt),
		slog.Time("expires_at", t.ExpiresAt),
		slog.Bool("refreshable", t.HasRefreshToken()),
	)
}

// withoutValue returns a copy that keeps the refresh token but can no
// longer be handed to callers.
func (t AccessToken) withoutValue() AccessToken {
	t.Value = ""
	return t
}

// tokenFromOAuth2 converts a token issued through the oauth2 package. The
// lifetime comes from expires_in when present so that issuedAt, taken from
// the injected clock, stays authoritative.
func tokenFromOAuth2(tok *oauth2.Token, issuedAt time.Time, fallback time.Duration) AccessToken {
	lifetime := fallback
	switch {
	case tok.ExpiresIn > 0:
		lifetime = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		lifetime = time.Until(tok.Expiry).Round(time.Second)
	}

	scope, _ := tok.Extra("scope").(string)
	return AccessToken{
		Value:        tok.AccessToken,
		TokenType:    tok.TokenType,
		Scope:        scope,
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(lifetime),
		refreshToken: tok.RefreshToken,
	}
}
