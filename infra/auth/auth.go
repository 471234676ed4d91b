// Package auth authenticates outbound requests with the OAuth2 client
// credentials grant.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Conf holds the client credentials. An empty TokenURL disables auth.
type Conf struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`
}

// Enabled reports whether a token endpoint is configured.
func (c Conf) Enabled() bool { return c.TokenURL != "" }

// Validate requires the client id when auth is enabled.
func (c Conf) Validate() error {
	if c.Enabled() && c.ClientID == "" {
		return fmt.Errorf("auth: client_id is required with token_url")
	}
	return nil
}

func (c Conf) oauth2Config() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
	}
}

// ClientCred caches an access token and renews it once it expires.
type ClientCred struct {
	conf  clientcredentials.Config
	mu    sync.Mutex
	token *oauth2.Token
}

// NewClientCred creates a ClientCred from conf.
func NewClientCred(conf Conf) *ClientCred {
	return &ClientCred{conf: conf.oauth2Config()}
}

// GetToken returns the cached token while valid and fetches a new one otherwise.
func (c *ClientCred) GetToken(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Valid() {
		return c.token, nil
	}
	return c.refreshLocked(ctx)
}

// ForceRefresh discards the cached token and fetches a new one.
func (c *ClientCred) ForceRefresh(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *ClientCred) refreshLocked(ctx context.Context) (*oauth2.Token, error) {
	tok, err := c.conf.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	c.token = tok
	return tok, nil
}

// SetAuthHeader adds the bearer token to r.
func (c *ClientCred) SetAuthHeader(r *http.Request) error {
	tok, err := c.GetToken(r.Context())
	if err != nil {
		return err
	}
	tok.SetAuthHeader(r)
	return nil
}

// Client returns an HTTP client authenticating every request. A 401 answer
// triggers one retry with a fresh token for requests without a body.
func (c *ClientCred) Client(base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{Transport: &transport{cred: c, base: base}}
}

type transport struct {
	cred *ClientCred
	base http.RoundTripper
}

func (t *transport) RoundTrip(r *http.Request) (*http.Response, error) {
	req := r.Clone(r.Context())
	if err := t.cred.SetAuthHeader(req); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || r.Body != nil && r.Body != http.NoBody {
		return resp, err
	}
	_ = resp.Body.Close()
	tok, err := t.cred.ForceRefresh(r.Context())
	if err != nil {
		return nil, err
	}
	req = r.Clone(r.Context())
	tok.SetAuthHeader(req)
	return t.base.RoundTrip(req)
}

// NewHTTPClient returns an authenticating client when conf is enabled and
// http.DefaultClient otherwise.
func NewHTTPClient(conf Conf) *http.Client {
	if !conf.Enabled() {
		return http.DefaultClient
	}
	return NewClientCred(conf).Client(nil)
}
