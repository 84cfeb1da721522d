package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// maxTokenResponseSize caps how much of a token endpoint response is read.
const maxTokenResponseSize = 1 << 20

// pollOutcome is the classified result of one token endpoint poll.
type pollOutcome int

const (
	pollPending pollOutcome = iota
	pollSlowDown
	pollGranted
	pollDenied
	pollExpired
	pollFailed
)

type pollResult struct {
	outcome pollOutcome
	token   AccessToken
	err     error
}

// tokenResponse is the success body of the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Authorize runs the device code flow for creds: it requests a code, hands
// the verification URI and user code to prompt, then polls until the user
// approves, denies, or the code expires. It blocks for at most the code's
// lifetime and returns ctx.Err() unchanged when ctx is cancelled.
func (a *DeviceCodeAuthorizer) Authorize(ctx context.Context, creds CredentialSet, prompt PromptFunc) (AccessToken, error) {
	da, err := a.requestCode(ctx, creds)
	if err != nil {
		return AccessToken{}, err
	}

	a.logger.Info("device authorization pending",
		"credentials", creds,
		"verification_uri", da.VerificationURI,
		"user_code", da.UserCode,
		"expires_at", da.ExpiresAt)
	if prompt != nil {
		prompt(creds, da)
	}

	return a.awaitUser(ctx, creds, da)
}

// awaitUser is the AwaitingUser state. A poll is never issued at or after
// da.ExpiresAt and Expired is never reported before it.
func (a *DeviceCodeAuthorizer) awaitUser(ctx context.Context, creds CredentialSet, da DeviceAuthorization) (AccessToken, error) {
	interval := da.Interval
	failures := 0

	for {
		now := a.clock.Now()
		if !now.Before(da.ExpiresAt) {
			return AccessToken{}, newAuthError(KindExpired, fmt.Errorf("device code expired at %s", da.ExpiresAt.Format(time.RFC3339)))
		}

		wait := interval
		if remaining := da.ExpiresAt.Sub(now); remaining < wait {
			wait = remaining
		}
		if err := a.sleep(ctx, wait); err != nil {
			return AccessToken{}, err
		}
		if !a.clock.Now().Before(da.ExpiresAt) {
			continue
		}

		res := a.poll(ctx, creds, da.DeviceCode)
		switch res.outcome {
		case pollGranted:
			a.logger.Info("device authorization granted", "credentials", creds, "token", res.token)
			return res.token, nil
		case pollPending:
			failures = 0
		case pollSlowDown:
			failures = 0
			interval += a.cfg.SlowDownStep
			a.logger.Debug("token endpoint asked to slow down", "credentials", creds, "interval", interval)
		case pollDenied:
			return AccessToken{}, newAuthError(KindDenied, res.err)
		case pollExpired:
			return AccessToken{}, newAuthError(KindExpired, res.err)
		case pollFailed:
			if ctx.Err() != nil {
				return AccessToken{}, ctx.Err()
			}
			failures++
			a.logger.Warn("token poll failed", "credentials", creds, "attempt", failures, "error", res.err)
			if failures >= a.cfg.MaxPollFailures {
				return AccessToken{}, newAuthError(KindUnreachable, res.err)
			}
		}
	}
}

func (a *DeviceCodeAuthorizer) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.clock.After(d):
		return nil
	}
}

// poll issues one device code token request and classifies the response.
func (a *DeviceCodeAuthorizer) poll(ctx context.Context, creds CredentialSet, deviceCode string) pollResult {
	form := url.Values{
		"grant_type":    {deviceCodeGrantType},
		"device_code":   {deviceCode},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return pollResult{outcome: pollFailed, err: fmt.Errorf("failed to build token request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	issuedAt := a.clock.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return pollResult{outcome: pollFailed, err: fmt.Errorf("token request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return pollResult{outcome: pollFailed, err: fmt.Errorf("failed to read token response: %w", err)}
	}

	if resp.StatusCode == http.StatusOK {
		var tr tokenResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			return pollResult{outcome: pollFailed, err: fmt.Errorf("failed to decode token response: %w", err)}
		}
		if tr.AccessToken == "" {
			return pollResult{outcome: pollFailed, err: errors.New("token response has no access_token")}
		}
		lifetime := a.cfg.DefaultTokenLifetime
		if tr.ExpiresIn > 0 {
			lifetime = time.Duration(tr.ExpiresIn) * time.Second
		}
		return pollResult{outcome: pollGranted, token: AccessToken{
			Value:        tr.AccessToken,
			TokenType:    tr.TokenType,
			Scope:        tr.Scope,
			IssuedAt:     issuedAt,
			ExpiresAt:    issuedAt.Add(lifetime),
			refreshToken: tr.RefreshToken,
		}}
	}

	return classifyPollError(resp.StatusCode, body)
}

// classifyPollError maps an OAuth2 error body onto the state machine.
func classifyPollError(status int, body []byte) pollResult {
	code := gjson.GetBytes(body, "error").String()
	desc := gjson.GetBytes(body, "error_description").String()
	err := fmt.Errorf("token endpoint returned %d: %s", status, code)
	if desc != "" {
		err = fmt.Errorf("token endpoint returned %d: %s: %s", status, code, desc)
	}

	switch code {
	case "authorization_pending":
		return pollResult{outcome: pollPending}
	case "slow_down":
		return pollResult{outcome: pollSlowDown}
	case "access_denied":
		return pollResult{outcome: pollDenied, err: err}
	case "expired_token", "invalid_grant":
		return pollResult{outcome: pollExpired, err: err}
	default:
		return pollResult{outcome: pollFailed, err: err}
	}
}
