package taskspec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const sampleDoc = `{
	"startup_context": {
		"sources": [
			{"type": "git", "url": "https://github.com/acme/widgets.git", "ref": "main", "path": "widgets"}
		],
		"cwd": "/workspace/widgets"
	},
	"environment": {"environment_type": "container", "version": "2.1.0"},
	"auth": [
		{"type": "github", "url": "https://github.com", "token": "ghp_secret123"}
	]
}`

func TestParse(t *testing.T) {
	spec, err := Parse(strings.NewReader(sampleDoc))
	require.NoError(t, err)

	require.Equal(t, "/workspace/widgets", spec.StartupContext.Cwd)
	require.Len(t, spec.StartupContext.Sources, 1)
	require.Equal(t, "git", spec.StartupContext.Sources[0].Type)
	require.Equal(t, "container", spec.Environment.EnvironmentType)
	require.Equal(t, "2.1.0", spec.Environment.Version)
	require.Len(t, spec.Auth, 1)
	require.Equal(t, "ghp_secret123", spec.Auth[0].Token)
}

func TestParse_IgnoresUnknownFields(t *testing.T) {
	doc := `{
		"startup_context": {"cwd": "/workspace"},
		"environment": {"environment_type": "container", "region": "us-east-1", "cpu_count": 4},
		"capabilities": ["network"]
	}`
	spec, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, "container", spec.Environment.EnvironmentType)
	require.Equal(t, "/workspace", spec.StartupContext.Cwd)
}

func TestParse_RejectsMalformedJSON(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"environment":`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(*Spec)
		localTesting bool
		wantErr      string
	}{
		{
			name:   "valid spec passes",
			mutate: func(*Spec) {},
		},
		{
			name:    "missing environment type fails",
			mutate:  func(s *Spec) { s.Environment.EnvironmentType = "" },
			wantErr: "environment_type",
		},
		{
			name:         "missing environment type allowed in local testing",
			mutate:       func(s *Spec) { s.Environment.EnvironmentType = "" },
			localTesting: true,
		},
		{
			name:    "sources without cwd fails",
			mutate:  func(s *Spec) { s.StartupContext.Cwd = "" },
			wantErr: "cwd is required",
		},
		{
			name:    "non-git source fails",
			mutate:  func(s *Spec) { s.StartupContext.Sources[0].Type = "svn" },
			wantErr: "unsupported source type",
		},
		{
			name:    "source without url fails",
			mutate:  func(s *Spec) { s.StartupContext.Sources[0].URL = "" },
			wantErr: "url is required",
		},
		{
			name:    "path escaping workspace fails",
			mutate:  func(s *Spec) { s.StartupContext.Sources[0].Path = "../outside" },
			wantErr: "escape the workspace",
		},
		{
			name:    "auth entry missing token fails",
			mutate:  func(s *Spec) { s.Auth[0].Token = "" },
			wantErr: "type, url, and token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Parse(strings.NewReader(sampleDoc))
			require.NoError(t, err)

			tt.mutate(spec)

			err = spec.Validate(tt.localTesting)
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestMatchCredential(t *testing.T) {
	spec := &Spec{Auth: []Credential{
		{Type: "github", URL: "https://github.com", Token: "broad"},
		{Type: "github", URL: "https://github.com/acme", Token: "narrow"},
	}}

	cred, ok := spec.MatchCredential("https://github.com/acme/widgets.git/info/refs")
	require.True(t, ok)
	require.Equal(t, "narrow", cred.Token, "longest prefix wins")

	cred, ok = spec.MatchCredential("https://github.com/other/repo.git")
	require.True(t, ok)
	require.Equal(t, "broad", cred.Token)

	_, ok = spec.MatchCredential("https://gitlab.com/acme/widgets.git")
	require.False(t, ok)
}

func TestCheckoutPath(t *testing.T) {
	tests := []struct {
		source Source
		want   string
	}{
		{Source{URL: "https://github.com/acme/widgets.git", Path: "custom"}, "custom"},
		{Source{URL: "https://github.com/acme/widgets.git"}, "widgets"},
		{Source{URL: "https://github.com/acme/widgets"}, "widgets"},
		{Source{URL: "https://github.com/acme/widgets/"}, "widgets"},
		{Source{URL: ""}, "source"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, tt.source.CheckoutPath(), "url %q path %q", tt.source.URL, tt.source.Path)
	}
}

// TestProperty_RedactionNeverLeaksTokens verifies that no token value from
// the original spec survives into the redacted representation.
func TestProperty_RedactionNeverLeaksTokens(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numCreds := rapid.IntRange(0, 8).Draw(t, "numCreds")

		spec := &Spec{
			Environment: Environment{EnvironmentType: "container"},
		}
		tokens := make([]string, 0, numCreds)
		for i := 0; i < numCreds; i++ {
			token := rapid.StringMatching(`[a-zA-Z0-9_\-]{8,40}`).Draw(t, "token")
			tokens = append(tokens, token)
			spec.Auth = append(spec.Auth, Credential{
				Type:  "github",
				URL:   "https://github.com",
				Token: token,
			})
		}

		redacted := spec.Redacted()

		for i, cred := range redacted.Auth {
			require.Equal(t, RedactedPlaceholder, cred.Token)
			// Original must be untouched
			require.Equal(t, tokens[i], spec.Auth[i].Token)
		}
	})
}

// TestProperty_MatchCredentialPrefix verifies that a returned credential's
// URL is always a prefix of the request URL, and that no longer matching
// prefix exists among the other credentials.
func TestProperty_MatchCredentialPrefix(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hosts := []string{"https://github.com", "https://gitlab.com", "https://git.internal"}
		numCreds := rapid.IntRange(1, 6).Draw(t, "numCreds")

		spec := &Spec{}
		for i := 0; i < numCreds; i++ {
			host := rapid.SampledFrom(hosts).Draw(t, "host")
			path := rapid.StringMatching(`(/[a-z]{1,8}){0,3}`).Draw(t, "path")
			spec.Auth = append(spec.Auth, Credential{
				Type: "github", URL: host + path, Token: "tok",
			})
		}

		requestURL := rapid.SampledFrom(hosts).Draw(t, "reqHost") +
			rapid.StringMatching(`(/[a-z]{1,8}){0,4}`).Draw(t, "reqPath")

		cred, ok := spec.MatchCredential(requestURL)
		if !ok {
			// No credential may be a prefix of the request URL
			for _, c := range spec.Auth {
				require.False(t, strings.HasPrefix(requestURL, c.URL))
			}
			return
		}

		require.True(t, strings.HasPrefix(requestURL, cred.URL))
		for _, c := range spec.Auth {
			if strings.HasPrefix(requestURL, c.URL) {
				require.LessOrEqual(t, len(c.URL), len(cred.URL))
			}
		}
	})
}
