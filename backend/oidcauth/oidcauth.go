// Package oidcauth implements the AuthBackend against a standards-compliant
// OIDC issuer using the resource-owner password grant. Email-link flows are a
// provider extension that plain OIDC issuers lack, so SetSession redeems raw
// token pairs but VerifyOTP and password updates report ErrUnsupported.
package oidcauth

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-auth-client/backend"
	"github.com/jrsteele09/go-auth-client/config"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Client drives one OIDC issuer. Safe for concurrent use.
type Client struct {
	provider *oidc.Provider
	oauth    *oauth2.Config
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

// New discovers the issuer's endpoints and returns a client.
func New(ctx context.Context, issuerURL, clientID, clientSecret string, st store.Store, options ...Option) (*Client, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "[New] oidc.NewProvider")
	}

	c := &Client{
		provider: provider,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess},
		},
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
	return c, nil
}

var _ backend.AuthBackend = &Client{}

type storedPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	SubjectID    string `json:"subject_id,omitempty"`
}

// GetSession returns the persisted session, or (nil, nil) when none is
// stored.
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

// RefreshSession exchanges the stored refresh token through the issuer's
// token endpoint.
func (c *Client) RefreshSession(ctx context.Context) (*session.Session, error) {
	current, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.Wrap(session.ErrNoSession, "[RefreshSession]")
	}

	// Seed the source with an expired token so it refreshes unconditionally.
	seed := &oauth2.Token{RefreshToken: current.RefreshToken, Expiry: c.nowTime().Add(-time.Minute)}
	token, err := c.oauth.TokenSource(ctx, seed).Token()
	if err != nil {
		return nil, errors.Wrap(classify(err), "[RefreshSession]")
	}
	return c.adopt(ctx, token, current.SubjectID)
}

// GetUser queries the issuer's userinfo endpoint for the stored session.
func (c *Client) GetUser(ctx context.Context) (*backend.User, error) {
	current, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.Wrap(session.ErrNoSession, "[GetUser]")
	}

	info, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: current.AccessToken,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, errors.Wrap(classify(err), "[GetUser]")
	}
	return &backend.User{ID: info.Subject, Email: info.Email}, nil
}

// SignInWithPassword runs the resource-owner password grant and persists the
// resulting token pair.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	token, err := c.oauth.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		return nil, errors.Wrap(classify(err), "[SignInWithPassword]")
	}
	return c.adopt(ctx, token, "")
}

// SignOut drops the persisted pair. Plain OIDC has no universal revocation
// endpoint, so only local state is cleared regardless of scope.
func (c *Client) SignOut(ctx context.Context, scope backend.SignOutScope) error {
	if scope == backend.ScopeGlobal || scope == backend.ScopeOthers {
		c.log.Debug().Str("scope", string(scope)).Msg("oidcauth: issuer-side revocation not available, clearing local state only")
	}
	if err := c.store.Delete(ctx, c.tokenKey); err != nil && !errors.Is(err, store.ErrNotFound) {
		return errors.Wrapf(session.ErrUnknown, "[SignOut] store delete: %v", err)
	}
	return nil
}

// UpdateUserPassword is not part of the OIDC surface.
func (c *Client) UpdateUserPassword(ctx context.Context, newPassword string) error {
	return errors.Wrap(backend.ErrUnsupported, "[UpdateUserPassword]")
}

// SetSession adopts an externally supplied token pair and persists it.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*session.Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, errors.Wrap(session.ErrInvalidToken, "[SetSession] incomplete token pair")
	}

	info, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, errors.Wrap(classify(err), "[SetSession]")
	}

	pair := storedPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		// Userinfo does not report expiry; assume the issuer's minimum and
		// let the first refresh establish the real horizon.
		ExpiresAt: c.nowTime().Add(time.Minute).Unix(),
		SubjectID: info.Subject,
	}
	if err := c.persist(ctx, pair); err != nil {
		return nil, errors.Wrap(err, "[SetSession]")
	}
	return pair.session(), nil
}

// VerifyOTP is a provider extension that plain OIDC issuers lack.
func (c *Client) VerifyOTP(ctx context.Context, tokenHash string, otpType backend.OTPType) (*session.Session, error) {
	return nil, errors.Wrap(backend.ErrUnsupported, "[VerifyOTP]")
}

func (c *Client) adopt(ctx context.Context, token *oauth2.Token, subject string) (*session.Session, error) {
	if subject == "" {
		info, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
		if err != nil {
			c.log.Debug().Err(err).Msg("oidcauth: userinfo lookup after grant failed")
		} else {
			subject = info.Subject
		}
	}

	pair := storedPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.Unix(),
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

// classify maps oauth2 transport and grant errors onto the session taxonomy.
func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch {
		case retrieveErr.ErrorCode == "invalid_grant":
			return errors.Wrapf(session.ErrInvalidToken, "%s", retrieveErr.ErrorDescription)
		case retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusTooManyRequests:
			return errors.Wrapf(session.ErrRateLimited, "%s", retrieveErr.ErrorDescription)
		case retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusUnauthorized,
			retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusForbidden:
			return errors.Wrapf(session.ErrUnauthorized, "%s", retrieveErr.ErrorDescription)
		case retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500:
			return errors.Wrapf(session.ErrNetwork, "issuer %d", retrieveErr.Response.StatusCode)
		}
		return errors.Wrapf(session.ErrUnknown, "%s", retrieveErr.ErrorCode)
	}
	if kind := session.KindOf(err); !errors.Is(kind, session.ErrUnknown) {
		return err
	}
	return errors.Wrapf(session.ErrNetwork, "%v", err)
}

func (p storedPair) session() *session.Session {
	return &session.Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    time.Unix(p.ExpiresAt, 0),
		SubjectID:    p.SubjectID,
	}
}
