package trados

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"trados-tasks-go/internal/auth"
)

// Account is a tenant reachable with a token.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is the profile behind a token.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DisplayName returns the user's full name, falling back to the email.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// ListAccounts returns the tenants the token's user belongs to. The global
// endpoint answers either with a bare array or a paged object.
func (c *Client) ListAccounts(ctx context.Context, token auth.AccessToken) ([]Account, error) {
	var raw json.RawMessage
	err := c.get(ctx, token, request{
		base:     strings.TrimRight(c.cfg.GlobalBaseURL, "/"),
		path:     "/accounts",
		endpoint: "accounts",
	}, &raw)
	if err != nil {
		return nil, err
	}

	list := gjson.ParseBytes(raw)
	if !list.IsArray() {
		list = list.Get("items")
	}

	var accounts []Account
	list.ForEach(func(_, v gjson.Result) bool {
		accounts = append(accounts, Account{
			ID:   v.Get("id").String(),
			Name: v.Get("name").String(),
		})
		return true
	})
	return accounts, nil
}

// GetMyUser returns the profile of the token's user.
func (c *Client) GetMyUser(ctx context.Context, token auth.AccessToken) (User, error) {
	var raw json.RawMessage
	err := c.get(ctx, token, request{
		base:     c.baseURL,
		path:     "/users/me",
		endpoint: "users_me",
	}, &raw)
	if err != nil {
		return User{}, err
	}

	doc := gjson.ParseBytes(raw)
	return User{
		ID:        doc.Get("id").String(),
		Email:     doc.Get("email").String(),
		FirstName: doc.Get("firstName").String(),
		LastName:  doc.Get("lastName").String(),
	}, nil
}
