package credstore

import (
	"time"

	"golang.org/x/oauth2"
)

// expirySkew matches the oauth2 package's early-expiry margin so a token
// that oauth2 would refuse to use is also considered expired here.
const expirySkew = 10 * time.Second

// Record is the single persisted credential for an authenticated identity.
// Created on first successful OAuth2 exchange, mutated on refresh, destroyed
// on logout or detected corruption.
type Record struct {
	AppKey       string    `json:"app_key"`
	AppSecret    string    `json:"app_secret"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Valid reports whether the record holds a usable, non-expired access token.
// A zero expiry means the token does not expire.
func (r *Record) Valid(now time.Time) bool {
	if r == nil || r.AccessToken == "" {
		return false
	}

	if r.Expiry.IsZero() {
		return true
	}

	return now.Before(r.Expiry.Add(-expirySkew))
}

// Token converts the record to an oauth2.Token for use with token sources.
func (r *Record) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       r.Expiry,
	}
}
