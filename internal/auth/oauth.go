package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
)

const (
	// DefaultDeviceCodeURL is the Auth0 device authorization endpoint used by Trados Cloud.
	DefaultDeviceCodeURL = "https://sdl-prod.eu.auth0.com/oauth/device/code"
	// DefaultTokenURL is the Auth0 token endpoint used by Trados Cloud.
	DefaultTokenURL = "https://sdl-prod.eu.auth0.com/oauth/token"
	// DefaultAudience is the API audience requested for every token.
	DefaultAudience = "https://api.sdl.com"

	deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// DefaultScopes requests offline_access so tokens come with a refresh token.
var DefaultScopes = []string{"openid", "profile", "email", "offline_access"}

// AuthorizerConfig holds the endpoints and timing of the device code flow.
type AuthorizerConfig struct {
	DeviceCodeURL string
	TokenURL      string
	Audience      string
	Scopes        []string

	// DefaultInterval applies when the service omits the polling interval.
	DefaultInterval time.Duration
	// DefaultCodeLifetime applies when the service omits expires_in.
	DefaultCodeLifetime time.Duration
	// DefaultTokenLifetime applies when a token response omits expires_in.
	DefaultTokenLifetime time.Duration
	// SlowDownStep is added to the interval on every slow_down response.
	SlowDownStep time.Duration
	// MaxPollFailures bounds consecutive transport or unrecognized failures.
	MaxPollFailures int
}

// DefaultAuthorizerConfig returns the settings of the Trados Cloud tenant.
func DefaultAuthorizerConfig() AuthorizerConfig {
	return AuthorizerConfig{
		DeviceCodeURL:        DefaultDeviceCodeURL,
		TokenURL:             DefaultTokenURL,
		Audience:             DefaultAudience,
		Scopes:               DefaultScopes,
		DefaultInterval:      5 * time.Second,
		DefaultCodeLifetime:  30 * time.Minute,
		DefaultTokenLifetime: 24 * time.Hour,
		SlowDownStep:         5 * time.Second,
		MaxPollFailures:      3,
	}
}

// DeviceAuthorization is the state of one pending user authorization.
type DeviceAuthorization struct {
	DeviceCode              string        `json:"-"`
	UserCode                string        `json:"user_code"`
	VerificationURI         string        `json:"verification_uri"`
	VerificationURIComplete string        `json:"verification_uri_complete,omitempty"`
	ExpiresAt               time.Time     `json:"expires_at"`
	Interval                time.Duration `json:"interval"`
}

// PromptFunc is told where the user has to go to approve an authorization.
type PromptFunc func(creds CredentialSet, da DeviceAuthorization)

// DeviceCodeAuthorizer obtains tokens through the OAuth2 device code grant
// and renews them through the refresh token grant.
type DeviceCodeAuthorizer struct {
	cfg        AuthorizerConfig
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewDeviceCodeAuthorizer creates a new DeviceCodeAuthorizer
func NewDeviceCodeAuthorizer(cfg AuthorizerConfig, httpClient *http.Client, clock clockwork.Clock, logger *slog.Logger) *DeviceCodeAuthorizer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPollFailures <= 0 {
		cfg.MaxPollFailures = 1
	}
	return &DeviceCodeAuthorizer{
		cfg:        cfg,
		httpClient: httpClient,
		clock:      clock,
		logger:     logger,
	}
}

// oauthConfig builds the oauth2 configuration for one credential set.
// Credentials go in the form body as Auth0 expects.
func (a *DeviceCodeAuthorizer) oauthConfig(creds CredentialSet) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       a.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: a.cfg.DeviceCodeURL,
			TokenURL:      a.cfg.TokenURL,
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

func (a *DeviceCodeAuthorizer) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// requestCode performs the RequestingCode step.
func (a *DeviceCodeAuthorizer) requestCode(ctx context.Context, creds CredentialSet) (DeviceAuthorization, error) {
	resp, err := a.oauthConfig(creds).DeviceAuth(a.withClient(ctx),
		oauth2.SetAuthURLParam("audience", a.cfg.Audience),
		oauth2.SetAuthURLParam("client_secret", creds.ClientSecret),
	)
	if err != nil {
		if ctx.Err() != nil {
			return DeviceAuthorization{}, ctx.Err()
		}
		return DeviceAuthorization{}, newAuthError(KindRequestFailed, fmt.Errorf("failed to request device code: %w", err))
	}
	if resp.DeviceCode == "" || resp.UserCode == "" {
		return DeviceAuthorization{}, newAuthError(KindRequestFailed, errors.New("device code response is missing codes"))
	}

	// The oauth2 package stamps Expiry with the wall clock; keep only the
	// lifetime and anchor it on our clock.
	lifetime := a.cfg.DefaultCodeLifetime
	if !resp.Expiry.IsZero() {
		lifetime = time.Until(resp.Expiry).Round(time.Second)
	}
	interval := a.cfg.DefaultInterval
	if resp.Interval > 0 {
		interval = time.Duration(resp.Interval) * time.Second
	}

	return DeviceAuthorization{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		ExpiresAt:               a.clock.Now().Add(lifetime),
		Interval:                interval,
	}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (a *DeviceCodeAuthorizer) Refresh(ctx context.Context, creds CredentialSet, refreshToken string) (AccessToken, error) {
	if refreshToken == "" {
		return AccessToken{}, newAuthError(KindExpired, errors.New("no refresh token available"))
	}

	issuedAt := a.clock.Now()
	tokenSource := a.oauthConfig(creds).TokenSource(a.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	newToken, err := tokenSource.Token()
	if err != nil {
		if ctx.Err() != nil {
			return AccessToken{}, ctx.Err()
		}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			switch re.ErrorCode {
			case "invalid_grant", "expired_token":
				return AccessToken{}, newAuthError(KindExpired, fmt.Errorf("failed to refresh token: %w", err))
			case "access_denied", "unauthorized_client":
				return AccessToken{}, newAuthError(KindDenied, fmt.Errorf("failed to refresh token: %w", err))
			}
			if re.Response != nil && re.Response.StatusCode >= 500 {
				return AccessToken{}, newAuthError(KindUnreachable, fmt.Errorf("failed to refresh token: %w", err))
			}
			return AccessToken{}, newAuthError(KindRequestFailed, fmt.Errorf("failed to refresh token: %w", err))
		}
		return AccessToken{}, newAuthError(KindUnreachable, fmt.Errorf("failed to refresh token: %w", err))
	}

	tok := tokenFromOAuth2(newToken, issuedAt, a.cfg.DefaultTokenLifetime)
	// Preserve the refresh token if the new token doesn't have one
	if tok.refreshToken == "" {
		tok.refreshToken = refreshToken
	}
	a.logger.Info("access token refreshed", "credentials", creds, "token", tok)
	return tok, nil
}
