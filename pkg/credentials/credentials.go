// Package credentials supplies authentication material for mailbox sessions:
// either a static password pair, or an OAuth2 access token that is refreshed
// through the provider's token endpoint when it is about to expire.
package credentials

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ikatson/betterimap/pkg/base"
)

// RefreshMargin is how close to expiry an access token may get before Token
// refreshes it.
const RefreshMargin = 30 * time.Second

// Password is a static username/password credential.
type Password struct {
	Username string
	Password string
}

// OAuth2 describes a bearer-token credential set. AccessToken alone is enough
// to authenticate; RefreshToken plus ClientID/ClientSecret additionally allow
// the token to be renewed when it expires.
type OAuth2 struct {
	Username     string
	AccessToken  string
	Expiry       time.Time
	RefreshToken string
	ClientID     string
	ClientSecret string
	TokenURL     string

	// OnRefresh, if set, is invoked after every successful refresh with the
	// new token material so the caller can persist it. It must not call back
	// into the provider.
	OnRefresh func(accessToken string, expiresIn int)
}

type ProviderOption func(*Provider)

// Provider hands out valid access tokens, serializing refreshes so that
// concurrent callers during an in-flight refresh wait for and reuse its
// result instead of issuing duplicate exchanges.
type Provider struct {
	mu   sync.Mutex
	cfg  OAuth2
	http *http.Client
	log  *slog.Logger
	now  func() time.Time
}

func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		p.http = c
	}
}

func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.log = logger
	}
}

func NewProvider(cfg OAuth2, opts ...ProviderOption) *Provider {
	p := &Provider{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
		log:  slog.Default(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Username returns the account name the credential authenticates.
func (p *Provider) Username() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Username
}

// Token returns a currently valid access token, refreshing it first when its
// expiry is within RefreshMargin of now.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.AccessToken != "" && !p.expiringLocked() {
		return p.cfg.AccessToken, nil
	}
	if p.cfg.RefreshToken == "" {
		if p.cfg.AccessToken == "" {
			return "", &base.AuthError{Err: errors.New("no access token and no refresh token")}
		}
		return "", &base.AuthError{Err: errors.New("access token expired and no refresh token available")}
	}
	if err := p.refreshLocked(ctx); err != nil {
		return "", err
	}
	return p.cfg.AccessToken, nil
}

func (p *Provider) expiringLocked() bool {
	if p.cfg.Expiry.IsZero() {
		return false
	}
	return !p.now().Add(RefreshMargin).Before(p.cfg.Expiry)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (p *Provider) refreshLocked(ctx context.Context) error {
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return &base.AuthError{Err: errors.New("refresh requires client_id and client_secret")}
	}
	if p.cfg.TokenURL == "" {
		return &base.RefreshError{Err: errors.New("token URL is not configured")}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", p.cfg.RefreshToken)
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &base.RefreshError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return &base.RefreshError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &base.RefreshError{Err: errors.Errorf(
			"token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return &base.RefreshError{Err: errors.Wrap(err, "decoding token response")}
	}
	if tr.AccessToken == "" {
		return &base.RefreshError{Err: errors.New("token endpoint returned no access token")}
	}

	expiresIn := tr.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}
	p.cfg.AccessToken = tr.AccessToken
	p.cfg.Expiry = p.now().Add(time.Duration(expiresIn) * time.Second)
	p.log.Debug("access token refreshed", "expires_in", expiresIn)

	if p.cfg.OnRefresh != nil {
		p.cfg.OnRefresh(tr.AccessToken, expiresIn)
	}
	return nil
}
