package adnetwork

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
)

// ClientIDHeader names the API client on every request when OAuth is used.
const ClientIDHeader = "Amazon-Advertising-API-ClientId"

// OAuthConfig enables refresh-token authentication. When TokenURL is empty
// the client sends the static API key instead.
type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RefreshToken string   `yaml:"refresh_token"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether any OAuth setting is present.
func (c OAuthConfig) Enabled() bool {
	return c.TokenURL != "" || c.ClientID != "" || c.RefreshToken != ""
}

// Validate checks that a partially filled OAuth block is complete.
func (c OAuthConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.TokenURL == "" || c.ClientID == "" || c.RefreshToken == "" {
		return errors.New("adnetwork: oauth needs token_url, client_id and refresh_token")
	}
	return nil
}

// httpClient returns an http.Client that exchanges the refresh token for
// access tokens and refreshes them before they expire. base carries the
// timeout for both token and API calls.
func (c OAuthConfig) httpClient(base *http.Client) *http.Client {
	conf := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scopes:       c.Scopes,
		Endpoint:     oauth2.Endpoint{TokenURL: c.TokenURL},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	src := oauth2.ReuseTokenSource(nil, conf.TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken}))

	client := oauth2.NewClient(ctx, src)
	client.Timeout = base.Timeout
	return client
}
