package gitproxy

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"envmanager/internal/taskspec"
)

type staticCreds struct {
	creds []taskspec.Credential
}

func (s staticCreds) MatchCredential(requestURL string) (taskspec.Credential, bool) {
	var best taskspec.Credential
	bestLen := -1
	for _, c := range s.creds {
		if strings.HasPrefix(requestURL, c.URL) && len(c.URL) > bestLen {
			best = c
			bestLen = len(c.URL)
		}
	}
	return best, bestLen >= 0
}

// upstreamRecorder captures what the proxy sent upstream.
type upstreamRecorder struct {
	authorization string
	path          string
	query         string
	body          string
	gitProtocol   string
}

func newUpstream(t *testing.T, rec *upstreamRecorder, status int, respBody string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.authorization = r.Header.Get("Authorization")
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.gitProtocol = r.Header.Get("Git-Protocol")
		body, _ := io.ReadAll(r.Body)
		rec.body = string(body)

		w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func startProxy(t *testing.T, creds CredentialSource) *Server {
	t.Helper()
	proxy := NewServer(creds)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, proxy.Start(ctx))
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		defer shutdownCancel()
		_ = proxy.Shutdown(shutdownCtx)
	})
	return proxy
}

func TestServer_Options(t *testing.T) {
	proxy := NewServer(staticCreds{},
		WithListenAddr("127.0.0.1:0"),
		WithRequestTimeout(90*time.Second),
	)
	require.Equal(t, "127.0.0.1:0", proxy.listenAddr)
	require.Equal(t, 90*time.Second, proxy.client.Timeout)

	// Zero values keep the defaults.
	proxy = NewServer(staticCreds{}, WithListenAddr(""), WithRequestTimeout(0))
	require.Equal(t, "127.0.0.1:0", proxy.listenAddr)
	require.Equal(t, 5*time.Minute, proxy.client.Timeout)
}

func TestServer_StartHonoursListenAddr(t *testing.T) {
	proxy := NewServer(staticCreds{}, WithListenAddr("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, proxy.Start(ctx))
	t.Cleanup(func() { _ = proxy.Shutdown(context.Background()) })

	require.True(t, strings.HasPrefix(proxy.Addr(), "127.0.0.1:"))
}

func TestServer_InfoRefs_InjectsBasicAuth(t *testing.T) {
	rec := &upstreamRecorder{}
	upstream := newUpstream(t, rec, http.StatusOK, "001e# service=git-upload-pack\n")

	proxy := startProxy(t, staticCreds{creds: []taskspec.Credential{
		{Type: "github_token", URL: upstream.URL, Token: "ghp_secret123"},
	}})
	proxy.RegisterRepo("repo", upstream.URL)

	resp, err := http.Get(proxy.URLFor("repo") + "/info/refs?service=git-upload-pack")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "001e# service=git-upload-pack\n", string(body))
	require.Equal(t, "application/x-git-upload-pack-advertisement", resp.Header.Get("Content-Type"))

	require.Equal(t, "/info/refs", rec.path)
	require.Equal(t, "service=git-upload-pack", rec.query)

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("x-access-token:ghp_secret123"))
	require.Equal(t, wantAuth, rec.authorization)
}

func TestServer_InfoRefs_BearerToken(t *testing.T) {
	rec := &upstreamRecorder{}
	upstream := newUpstream(t, rec, http.StatusOK, "ok")

	proxy := startProxy(t, staticCreds{creds: []taskspec.Credential{
		{Type: "bearer", URL: upstream.URL, Token: "tok-abc"},
	}})
	proxy.RegisterRepo("repo", upstream.URL)

	resp, err := http.Get(proxy.URLFor("repo") + "/info/refs")
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, "Bearer tok-abc", rec.authorization)
}

func TestServer_UploadPack_ForwardsBody(t *testing.T) {
	rec := &upstreamRecorder{}
	upstream := newUpstream(t, rec, http.StatusOK, "packdata")

	proxy := startProxy(t, staticCreds{})
	proxy.RegisterRepo("repo", upstream.URL)

	req, err := http.NewRequest(http.MethodPost, proxy.URLFor("repo")+"/git-upload-pack",
		strings.NewReader("0032want deadbeef"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-git-upload-pack-request")
	req.Header.Set("Git-Protocol", "version=2")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "/git-upload-pack", rec.path)
	require.Equal(t, "0032want deadbeef", rec.body)
	require.Equal(t, "version=2", rec.gitProtocol)

	// No matching credential: no auth header invented.
	require.Empty(t, rec.authorization)
}

func TestServer_ReceivePack(t *testing.T) {
	rec := &upstreamRecorder{}
	upstream := newUpstream(t, rec, http.StatusOK, "ok")

	proxy := startProxy(t, staticCreds{creds: []taskspec.Credential{
		{Type: "github_token", URL: upstream.URL, Token: "t"},
	}})
	proxy.RegisterRepo("repo", upstream.URL)

	resp, err := http.Post(proxy.URLFor("repo")+"/git-receive-pack",
		"application/x-git-receive-pack-request", strings.NewReader("push"))
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, "/git-receive-pack", rec.path)
	require.Equal(t, "push", rec.body)
	require.NotEmpty(t, rec.authorization)
}

func TestServer_UnknownRepo(t *testing.T) {
	proxy := startProxy(t, staticCreds{})

	resp, err := http.Get(proxy.URLFor("absent") + "/info/refs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_UpstreamStatusPassthrough(t *testing.T) {
	rec := &upstreamRecorder{}
	upstream := newUpstream(t, rec, http.StatusUnauthorized, "auth required")

	proxy := startProxy(t, staticCreds{})
	proxy.RegisterRepo("repo", upstream.URL)

	resp, err := http.Get(proxy.URLFor("repo") + "/info/refs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_UnreachableUpstream(t *testing.T) {
	proxy := startProxy(t, staticCreds{})
	proxy.RegisterRepo("repo", "http://127.0.0.1:1/gone")

	resp, err := http.Get(proxy.URLFor("repo") + "/info/refs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServer_LongestPrefixCredentialWins(t *testing.T) {
	rec := &upstreamRecorder{}
	upstream := newUpstream(t, rec, http.StatusOK, "ok")

	proxy := startProxy(t, staticCreds{creds: []taskspec.Credential{
		{Type: "bearer", URL: "http://127.0.0.1", Token: "broad"},
		{Type: "bearer", URL: upstream.URL, Token: "specific"},
	}})
	proxy.RegisterRepo("repo", upstream.URL)

	resp, err := http.Get(proxy.URLFor("repo") + "/info/refs")
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, "Bearer specific", rec.authorization)
}

func TestAuthorizationFor(t *testing.T) {
	require.Equal(t, "Bearer t", authorizationFor(taskspec.Credential{Type: "Bearer", Token: "t"}))

	got := authorizationFor(taskspec.Credential{Type: "github_token", Token: "t"})
	require.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("x-access-token:t")), got)
}
