// Package gotrue implements the AuthBackend against a GoTrue-compatible REST
// API. The client persists the active token pair in a store.Store so that
// every process sharing that store observes the same session, last writer
// wins.
package gotrue

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/backend"
	"github.com/jrsteele09/go-auth-client/config"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const defaultTimeout = 15 * time.Second

// Client talks to one GoTrue project. Safe for concurrent use.
type Client struct {
	rest     *resty.Client
	store    store.Store
	tokenKey string
	nowTime  func() time.Time
	log      zerolog.Logger

	mu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithNowTime replaces the wall clock, for tests.
func WithNowTime(now func() time.Time) Option {
	return func(c *Client) {
		c.nowTime = now
	}
}

// WithLogger sets the logger (default is a no-op logger).
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithTokenKey overrides the store key the token pair is persisted under.
// The default comes from config.StorageConfig.
func WithTokenKey(key string) Option {
	return func(c *Client) {
		c.tokenKey = key
	}
}

// WithTimeout overrides the per-request timeout (default 15s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.rest.SetTimeout(d)
	}
}

// New creates a GoTrue client. baseURL is the auth endpoint root
// (".../auth/v1"), apiKey the project's public key.
func New(baseURL, apiKey string, st store.Store, options ...Option) *Client {
	rest := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(defaultTimeout).
		SetHeader("apikey", apiKey)

	c := &Client{
		rest:     rest,
		store:    st,
		tokenKey: config.Storage{}.GetTokenStorageKey(),
		nowTime:  time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

var _ backend.AuthBackend = &Client{}

// storedPair is the persisted token layout, compatible with what the original
// provider SDK writes.
type storedPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	SubjectID    string `json:"subject_id,omitempty"`
}

// tokenResponse is GoTrue's token grant payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// errorResponse covers the error body shapes GoTrue emits across versions.
type errorResponse struct {
	Code             string `json:"error_code"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

func (e errorResponse) message() string {
	for _, m := range []string{e.ErrorDescription, e.Msg, e.Error, e.Code} {
		if m != "" {
			return m
		}
	}
	return "unexpected provider error"
}

// GetSession returns the persisted session without a network round trip, or
// (nil, nil) when nothing is stored.
func (c *Client) GetSession(ctx context.Context) (*session.Session, error) {
	raw, err := c.store.Get(ctx, c.tokenKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(session.ErrNetwork, "[GetSession] store read: %v", err)
	}

	var pair storedPair
	if err := json.Unmarshal(raw, &pair); err != nil {
		return nil, errors.Wrapf(session.ErrInvalidToken, "[GetSession] corrupt token record: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return nil, nil
	}
	return pair.session(), nil
}

// RefreshSession exchanges the stored refresh token for a new pair.
func (c *Client) RefreshSession(ctx context.Context) (*session.Session, error) {
	current, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.Wrap(session.ErrNoSession, "[RefreshSession]")
	}
	return c.tokenGrant(ctx, "refresh_token", map[string]string{
		"refresh_token": current.RefreshToken,
	})
}

// GetUser fetches the profile for the stored session.
func (c *Client) GetUser(ctx context.Context) (*backend.User, error) {
	current, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.Wrap(session.ErrNoSession, "[GetUser]")
	}

	var user struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	var apiErr errorResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(current.AccessToken).
		SetResult(&user).
		SetError(&apiErr).
		Get("/user")
	if err := c.classify(resp, err, apiErr); err != nil {
		return nil, errors.Wrap(err, "[GetUser]")
	}
	return &backend.User{ID: user.ID, Email: user.Email}, nil
}

// SignInWithPassword authenticates with credentials and persists the session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	return c.tokenGrant(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// SignOut clears the persisted pair and best-effort revokes it remotely. A
// failed revocation is logged, not returned: the local session is gone either
// way.
func (c *Client) SignOut(ctx context.Context, scope backend.SignOutScope) error {
	current, err := c.GetSession(ctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("gotrue: sign-out with unreadable local session")
	}
	if err := c.store.Delete(ctx, c.tokenKey); err != nil && !errors.Is(err, store.ErrNotFound) {
		return errors.Wrapf(session.ErrUnknown, "[SignOut] store delete: %v", err)
	}
	if current == nil {
		return nil
	}

	if scope == "" {
		scope = backend.ScopeLocal
	}
	var apiErr errorResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(current.AccessToken).
		SetQueryParam("scope", string(scope)).
		SetError(&apiErr).
		Post("/logout")
	if err := c.classify(resp, err, apiErr); err != nil {
		c.log.Warn().Err(err).Str("scope", string(scope)).Msg("gotrue: remote sign-out failed")
	}
	return nil
}

// UpdateUserPassword sets a new password for the authenticated user.
func (c *Client) UpdateUserPassword(ctx context.Context, newPassword string) error {
	current, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		return errors.Wrap(session.ErrNoSession, "[UpdateUserPassword]")
	}

	var apiErr errorResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(current.AccessToken).
		SetBody(map[string]string{"password": newPassword}).
		SetError(&apiErr).
		Put("/user")
	if err := c.classify(resp, err, apiErr); err != nil {
		return errors.Wrap(err, "[UpdateUserPassword]")
	}
	return nil
}

// SetSession adopts an externally supplied token pair, as delivered by magic
// and recovery links, and persists it.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*session.Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, errors.Wrap(session.ErrInvalidToken, "[SetSession] incomplete token pair")
	}

	expiresAt, subject, err := claimsOf(accessToken)
	if err != nil {
		return nil, errors.Wrapf(session.ErrInvalidToken, "[SetSession] %v", err)
	}

	pair := storedPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt.Unix(),
		SubjectID:    subject,
	}
	if !expiresAt.After(c.nowTime()) {
		// The handed-over access token already lapsed; trade the refresh
		// token for a live pair instead of persisting a dead one.
		return c.tokenGrant(ctx, "refresh_token", map[string]string{
			"refresh_token": refreshToken,
		})
	}
	if err := c.persist(ctx, pair); err != nil {
		return nil, errors.Wrap(err, "[SetSession]")
	}
	return pair.session(), nil
}

// VerifyOTP redeems an emailed one-time token.
func (c *Client) VerifyOTP(ctx context.Context, tokenHash string, otpType backend.OTPType) (*session.Session, error) {
	var token tokenResponse
	var apiErr errorResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"type":       string(otpType),
			"token_hash": tokenHash,
		}).
		SetResult(&token).
		SetError(&apiErr).
		Post("/verify")
	if err := c.classify(resp, err, apiErr); err != nil {
		return nil, errors.Wrap(err, "[VerifyOTP]")
	}
	return c.adopt(ctx, token)
}

func (c *Client) tokenGrant(ctx context.Context, grantType string, body map[string]string) (*session.Session, error) {
	var token tokenResponse
	var apiErr errorResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("grant_type", grantType).
		SetBody(body).
		SetResult(&token).
		SetError(&apiErr).
		Post("/token")
	if err := c.classify(resp, err, apiErr); err != nil {
		return nil, errors.Wrapf(err, "[tokenGrant] grant_type=%s", grantType)
	}
	return c.adopt(ctx, token)
}

// adopt persists a freshly granted token pair and returns the session.
func (c *Client) adopt(ctx context.Context, token tokenResponse) (*session.Session, error) {
	if token.AccessToken == "" {
		return nil, errors.Wrap(session.ErrInvalidToken, "[adopt] grant response without access token")
	}

	expiresAt := time.Unix(token.ExpiresAt, 0)
	if token.ExpiresAt == 0 {
		expiresAt = c.nowTime().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	subject := token.User.ID
	if subject == "" {
		if exp, sub, err := claimsOf(token.AccessToken); err == nil {
			expiresAt, subject = exp, sub
		}
	}

	pair := storedPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt.Unix(),
		SubjectID:    subject,
	}
	if err := c.persist(ctx, pair); err != nil {
		return nil, errors.Wrap(err, "[adopt]")
	}
	return pair.session(), nil
}

func (c *Client) persist(ctx context.Context, pair storedPair) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := json.Marshal(pair)
	if err != nil {
		return errors.Wrap(err, "json.Marshal")
	}
	if err := c.store.Set(ctx, c.tokenKey, raw); err != nil {
		return errors.Wrapf(session.ErrNetwork, "store write: %v", err)
	}
	return nil
}

// classify maps a transport error or provider error body onto the session
// error taxonomy.
func (c *Client) classify(resp *resty.Response, err error, apiErr errorResponse) error {
	if err != nil {
		return errors.Wrapf(session.ErrNetwork, "%v", err)
	}
	if !resp.IsError() {
		return nil
	}

	msg := apiErr.message()
	switch status := resp.StatusCode(); {
	case status == 400, status == 422:
		return errors.Wrapf(session.ErrInvalidToken, "%s", msg)
	case status == 401 && isInvalidGrant(apiErr):
		return errors.Wrapf(session.ErrInvalidToken, "%s", msg)
	case status == 403 && isBanned(apiErr):
		return errors.Wrapf(session.ErrUserDisabled, "%s", msg)
	case status == 401 || status == 403:
		return errors.Wrapf(session.ErrUnauthorized, "%s", msg)
	case status == 429:
		return errors.Wrapf(session.ErrRateLimited, "%s", msg)
	case status >= 500:
		return errors.Wrapf(session.ErrNetwork, "provider %d: %s", status, msg)
	}
	return errors.Wrapf(session.ErrUnknown, "provider %d: %s", resp.StatusCode(), msg)
}

func isInvalidGrant(e errorResponse) bool {
	return e.Error == "invalid_grant" ||
		e.Code == "refresh_token_not_found" ||
		e.Code == "refresh_token_already_used" ||
		strings.Contains(strings.ToLower(e.message()), "refresh token")
}

func isBanned(e errorResponse) bool {
	return e.Code == "user_banned" ||
		strings.Contains(strings.ToLower(e.message()), "banned") ||
		strings.Contains(strings.ToLower(e.message()), "disabled")
}

func (p storedPair) session() *session.Session {
	return &session.Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    time.Unix(p.ExpiresAt, 0),
		SubjectID:    p.SubjectID,
	}
}

// claimsOf extracts expiry and subject from an access token without verifying
// its signature. Verification is the provider's job; locally the claims only
// schedule refreshes.
func claimsOf(accessToken string) (time.Time, string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, "", errors.Wrap(err, "jwt.ParseUnverified")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, "", errors.New("token has no expiry claim")
	}
	sub, _ := claims.GetSubject()
	return exp.Time, sub, nil
}
