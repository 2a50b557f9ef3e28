// Package auth obtains bearer sessions from the login endpoint.
//
// Sessions are plain values owned by whoever called Login. There is no
// shared token anywhere in the harness: every check that needs auth logs in
// and passes its Session along explicitly.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wondertwin-ai/apiconform/internal/client"
	"github.com/wondertwin-ai/apiconform/internal/contract"
)

// Credentials identify a user.
type Credentials struct {
	Email    string
	Password string
}

// Session is an authenticated context. It is not modified after Login
// returns it.
type Session struct {
	BaseURL   string
	Token     string
	TokenType string
	Email     string
	IssuedAt  time.Time
	// ExpiresAt is the token's exp claim, or zero when unknown.
	ExpiresAt time.Time
}

// Expired reports whether the token's expiry is known and has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AuthHeader returns the Authorization header for s.
func AuthHeader(s *Session) map[string]string {
	if s == nil || s.Token == "" {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + s.Token}
}

// AuthenticationError reports a login that did not yield a usable token.
type AuthenticationError struct {
	Status int
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Status == 0 {
		return "authentication failed: " + e.Reason
	}
	return fmt.Sprintf("authentication failed (status %d): %s", e.Status, e.Reason)
}

// Provider logs in against the contract's login endpoint.
type Provider struct {
	client   *client.Client
	contract contract.AuthContract
	logger   *slog.Logger
	now      func() time.Time
}

// NewProvider creates a Provider. A nil logger means slog.Default().
func NewProvider(c *client.Client, ac contract.AuthContract, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{client: c, contract: ac, logger: logger, now: time.Now}
}

// LoginRequest builds the login call for creds without sending it. Checks
// that probe invalid logins send it themselves and assert on the status.
func (p *Provider) LoginRequest(creds Credentials) client.Request {
	r := client.Request{Method: "POST", Path: p.contract.LoginPath}
	if p.contract.LoginForm {
		r.Body = url.Values{
			p.contract.EmailField:    {creds.Email},
			p.contract.PasswordField: {creds.Password},
		}
	} else {
		r.Body = map[string]string{
			p.contract.EmailField:    creds.Email,
			p.contract.PasswordField: creds.Password,
		}
	}
	return r
}

// Login exchanges creds for a Session. It fails with *AuthenticationError
// when the response is not a success or carries no token, and with a
// wrapped *client.TransportError when the call itself fails.
func (p *Provider) Login(ctx context.Context, creds Credentials) (*Session, error) {
	resp, err := p.client.Do(ctx, p.LoginRequest(creds))
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	if resp.Status < 200 || resp.Status > 299 {
		return nil, &AuthenticationError{Status: resp.Status, Reason: "login rejected"}
	}
	obj := resp.Object()
	if obj == nil {
		return nil, &AuthenticationError{Status: resp.Status, Reason: "response body is not a JSON object"}
	}
	token, _ := obj[p.contract.TokenField].(string)
	if token == "" {
		return nil, &AuthenticationError{
			Status: resp.Status,
			Reason: fmt.Sprintf("response has no %q", p.contract.TokenField),
		}
	}
	tokenType, _ := obj[p.contract.TokenTypeField].(string)

	s := &Session{
		BaseURL:   p.client.BaseURL(),
		Token:     token,
		TokenType: tokenType,
		Email:     creds.Email,
		IssuedAt:  p.now(),
		ExpiresAt: tokenExpiry(token),
	}
	p.logger.Debug("logged in", "email", creds.Email, "expires_at", s.ExpiresAt)
	return s, nil
}

// Renew returns s while its token is still valid and otherwise logs in
// again with creds. A replacement token that is already expired is an
// *AuthenticationError, so callers stop instead of sending dead tokens.
func (p *Provider) Renew(ctx context.Context, s *Session, creds Credentials) (*Session, error) {
	if s == nil || !s.Expired(p.now()) {
		return s, nil
	}
	p.logger.Info("session expired, logging in again", "email", creds.Email, "expired_at", s.ExpiresAt)
	fresh, err := p.Login(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("renew session: %w", err)
	}
	if fresh.Expired(p.now()) {
		return nil, &AuthenticationError{
			Reason: fmt.Sprintf("login returned a token that expired at %s", fresh.ExpiresAt.Format(time.RFC3339)),
		}
	}
	return fresh, nil
}

// tokenExpiry reads the exp claim of a JWT without verifying it. Opaque
// tokens have no known expiry.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// IsAuthenticationError reports whether err is or wraps an
// *AuthenticationError.
func IsAuthenticationError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}
