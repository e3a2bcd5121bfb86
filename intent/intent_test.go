package intent_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-client/config"
	"github.com/jrsteele09/go-auth-client/intent"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	routes := config.Routes{}

	tests := []struct {
		name string
		url  string
		want intent.Intent
	}{
		{
			name: "plain load",
			url:  "https://app.example.com/dashboard",
			want: intent.Intent{Kind: intent.KindNormalLoad},
		},
		{
			name: "recovery type in fragment",
			url:  "https://app.example.com/#access_token=a1&refresh_token=r1&type=recovery",
			want: intent.Intent{Kind: intent.KindRecovery, AccessToken: "a1", RefreshToken: "r1"},
		},
		{
			name: "recovery type in query",
			url:  "https://app.example.com/?type=recovery&token_hash=th1",
			want: intent.Intent{Kind: intent.KindRecovery, VerificationToken: "th1"},
		},
		{
			name: "reset password route without marker",
			url:  "https://app.example.com/auth/reset-password",
			want: intent.Intent{Kind: intent.KindRecovery},
		},
		{
			name: "recovery wins over full token pair",
			url:  "https://app.example.com/auth/reset-password#access_token=a1&refresh_token=r1",
			want: intent.Intent{Kind: intent.KindRecovery, AccessToken: "a1", RefreshToken: "r1"},
		},
		{
			name: "magic link token pair in fragment",
			url:  "https://app.example.com/#access_token=a1&refresh_token=r1&type=magiclink",
			want: intent.Intent{Kind: intent.KindMagicLink, AccessToken: "a1", RefreshToken: "r1"},
		},
		{
			name: "magic link token hash",
			url:  "https://app.example.com/?token_hash=th1&type=magiclink",
			want: intent.Intent{Kind: intent.KindMagicLink, VerificationToken: "th1"},
		},
		{
			name: "bare token hash",
			url:  "https://app.example.com/?token_hash=th1",
			want: intent.Intent{Kind: intent.KindMagicLink, VerificationToken: "th1"},
		},
		{
			name: "signup verification",
			url:  "https://app.example.com/?type=signup&token_hash=th1",
			want: intent.Intent{
				Kind:              intent.KindEmailVerification,
				VerificationKind:  intent.VerificationSignup,
				VerificationToken: "th1",
			},
		},
		{
			name: "email change verification in fragment",
			url:  "https://app.example.com/#type=email_change",
			want: intent.Intent{
				Kind:             intent.KindEmailVerification,
				VerificationKind: intent.VerificationEmailChange,
			},
		},
		{
			name: "code exchange link",
			url:  "https://app.example.com/?code=abc123",
			want: intent.Intent{
				Kind:             intent.KindEmailVerification,
				VerificationKind: intent.VerificationEmailChange,
				Code:             "abc123",
			},
		},
		{
			name: "access token without refresh token",
			url:  "https://app.example.com/#access_token=a1",
			want: intent.Intent{Kind: intent.KindUnknown},
		},
		{
			name: "refresh token without access token",
			url:  "https://app.example.com/#refresh_token=r1",
			want: intent.Intent{Kind: intent.KindUnknown},
		},
		{
			name: "fragment wins over query on collision",
			url:  "https://app.example.com/?type=signup#type=recovery",
			want: intent.Intent{Kind: intent.KindRecovery},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := intent.Classify(test.url, routes)
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}
}

func TestClassifyMalformedURL(t *testing.T) {
	_, err := intent.Classify("://nope", config.Routes{})
	require.Error(t, err)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "recovery", intent.KindRecovery.String())
	require.Equal(t, "normal-load", intent.KindNormalLoad.String())
	require.Equal(t, "invalid", intent.Kind(99).String())
}
