package cli

import (
	"context"
)

// getToken is an indirection over GetToken for tests.
var getToken = GetToken

// Login asks for an access token and makes it the current identity. The
// owner is read from the token; the server checks the signature on use.
// A sync is requested right away so queued writes of that owner go out.
func (a *App) Login(ctx context.Context) error {
	token, err := getToken(a.reader, a.out)
	if err != nil {
		return err
	}
	if err := a.tokens.SetToken(token); err != nil {
		return err
	}
	owner := a.tokens.CurrentOwnerScope()
	if owner == "" {
		a.printf("Token accepted but already expired\n")
		return nil
	}
	a.printf("Signed in as %s\n", owner)
	a.syncer.SyncNow()
	return nil
}

// Logout forgets the token. Local data and queued writes stay; they sync
// when the same owner signs in again.
func (a *App) Logout(ctx context.Context) error {
	if err := a.tokens.SetToken(""); err != nil {
		return err
	}
	a.printf("Signed out\n")
	return nil
}
