// Package auth logs the user in and out and keeps the session token current.
package auth

import (
	"context"
	"net/http"
	"strings"

	"catcare.com/client/apiclient"
	"catcare.com/client/logger"
	"github.com/rs/zerolog"
)

type Profile struct {
	Email string `json:"email" yaml:"email"`
	Name  string `json:"name" yaml:"name"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

type Client struct {
	api        *apiclient.Client
	authLogger zerolog.Logger
}

func NewClient(api *apiclient.Client) *Client {
	return &Client{api: api, authLogger: logger.NewLogger("Auth client")}
}

// Login exchanges credentials for an access token and stores it in the
// session. The refresh credential is kept by the cookie jar.
func (c *Client) Login(ctx context.Context, email, password string) error {
	if err := checkCredentials(email, password); err != nil {
		return err
	}
	var result tokenResponse
	err := c.api.Do(ctx, apiclient.Request{
		Method:    http.MethodPost,
		Path:      "/auth/login",
		Body:      credentials{Email: email, Password: password},
		Anonymous: true,
	}, &result)
	if err != nil {
		return err
	}
	if result.AccessToken == "" {
		return &apiclient.AuthError{Message: "login returned no access token"}
	}
	c.api.Session().SetToken(result.AccessToken)
	c.authLogger.Info().Str("email", email).Msg("Logged in")
	return nil
}

func (c *Client) Signup(ctx context.Context, email, password, name string) error {
	if err := checkCredentials(email, password); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return &apiclient.ValidationError{Field: "name", Message: "name is empty"}
	}
	return c.api.Do(ctx, apiclient.Request{
		Method:    http.MethodPost,
		Path:      "/auth/signup",
		Body:      credentials{Email: email, Password: password, Name: name},
		Anonymous: true,
	}, nil)
}

// Logout ends the session on the backend. The local token is dropped even when
// the backend call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.api.Session().Clear()
	err := c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/auth/logout"}, nil)
	if err != nil {
		c.authLogger.Warn().Err(err).Msg("Logout failed on the backend")
	}
	return err
}

func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var profile Profile
	err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/auth/me"}, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func checkCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return &apiclient.ValidationError{Field: "email", Message: "email is empty"}
	}
	if password == "" {
		return &apiclient.ValidationError{Field: "password", Message: "password is empty"}
	}
	return nil
}
