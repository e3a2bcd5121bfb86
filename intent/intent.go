package intent

import (
	"net/url"
	"strings"

	"github.com/jrsteele09/go-auth-client/config"
	"github.com/pkg/errors"
)

// Kind is the classification of a single page load. It is computed once from
// a snapshot of the URL and never changes for that load.
type Kind int

const (
	KindNormalLoad Kind = iota
	KindRecovery
	KindMagicLink
	KindEmailVerification
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNormalLoad:
		return "normal-load"
	case KindRecovery:
		return "recovery"
	case KindMagicLink:
		return "magic-link"
	case KindEmailVerification:
		return "email-verification"
	case KindUnknown:
		return "unknown"
	}
	return "invalid"
}

// VerificationKind distinguishes the flavours of email verification links.
type VerificationKind string

const (
	VerificationSignup      VerificationKind = "signup"
	VerificationEmailChange VerificationKind = "email_change"
)

// Intent is the classified navigation plus any credentials the URL carried.
// Credentials are passed through untouched, the classifier never consumes
// them itself.
type Intent struct {
	Kind             Kind
	VerificationKind VerificationKind

	// AccessToken and RefreshToken are set for fragment token pairs
	// (magic link and recovery links in implicit flow).
	AccessToken  string
	RefreshToken string

	// VerificationToken is the one-time token_hash from PKCE-style links,
	// to be exchanged through the backend's verify endpoint.
	VerificationToken string

	// Code is the authorization code from code-exchange links.
	Code string
}

// Classify inspects a page-load URL and decides what the navigation is for.
//
// Recovery wins over everything else: a recovery token is single purpose and
// must never be consumed by an ordinary session restore. Partially present
// token pairs are never treated as usable credentials and classify as
// KindUnknown.
func Classify(rawURL string, routes config.RouteConfig) (Intent, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Intent{}, errors.Wrap(err, "[Classify] url.Parse")
	}

	params := mergedParams(u)
	linkType := params.Get("type")
	access := params.Get("access_token")
	refresh := params.Get("refresh_token")
	tokenHash := params.Get("token_hash")
	if tokenHash == "" {
		tokenHash = params.Get("token")
	}
	code := params.Get("code")

	if linkType == "recovery" || onRoute(u.Path, routes.GetResetPasswordRoute()) {
		return Intent{
			Kind:              KindRecovery,
			AccessToken:       access,
			RefreshToken:      refresh,
			VerificationToken: tokenHash,
		}, nil
	}

	if linkType == string(VerificationSignup) || linkType == string(VerificationEmailChange) {
		return Intent{
			Kind:              KindEmailVerification,
			VerificationKind:  VerificationKind(linkType),
			VerificationToken: tokenHash,
		}, nil
	}

	if tokenHash != "" && (linkType == "magiclink" || linkType == "") {
		return Intent{Kind: KindMagicLink, VerificationToken: tokenHash}, nil
	}

	if access != "" && refresh != "" {
		return Intent{Kind: KindMagicLink, AccessToken: access, RefreshToken: refresh}, nil
	}
	if access != "" || refresh != "" {
		return Intent{Kind: KindUnknown}, nil
	}

	if code != "" {
		return Intent{
			Kind:             KindEmailVerification,
			VerificationKind: VerificationEmailChange,
			Code:             code,
		}, nil
	}

	return Intent{Kind: KindNormalLoad}, nil
}

// mergedParams flattens query and fragment parameters into one set. Providers
// deliver implicit-flow tokens in the fragment, which itself is formatted as
// a query string. Fragment values win on key collision.
func mergedParams(u *url.URL) url.Values {
	params := url.Values{}
	for k, vs := range u.Query() {
		params[k] = vs
	}
	if u.Fragment != "" {
		frag, err := url.ParseQuery(strings.TrimPrefix(u.Fragment, "#"))
		if err == nil {
			for k, vs := range frag {
				params[k] = vs
			}
		}
	}
	return params
}

func onRoute(path, route string) bool {
	if route == "" {
		return false
	}
	return strings.TrimSuffix(path, "/") == strings.TrimSuffix(route, "/")
}
