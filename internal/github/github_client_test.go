package github

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/glup3/ghstats/internal/stats"
	"github.com/glup3/ghstats/internal/testutil"
	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, stub *testutil.GitHubStub) *Client {
	t.Helper()

	client, err := NewClient("test-token", Options{APIURL: stub.URL(), Timeout: 5 * time.Second})
	require.NoError(t, err)
	return client
}

func threePages() [][]testutil.StubRepo {
	return [][]testutil.StubRepo{
		{{Name: "alpha", Stars: 3, Forks: 1, Size: 120}, {Name: "beta", Fork: true, Stars: 1, Size: 40}},
		{{Name: "gamma", Stars: 7, Size: 900}},
		{{Name: "delta", Stars: 2, Forks: 2, Size: 10}},
	}
}

func TestListPage(t *testing.T) {
	stub := testutil.NewGitHubStub()
	defer stub.Close()
	stub.SetUser("octocat", threePages()...)

	client := newTestClient(t, stub)
	ctx := context.Background()

	t.Run("first page announces the last page", func(t *testing.T) {
		result, err := client.ListPage(ctx, "octocat", 1, "")
		require.NoError(t, err)

		assert.Equal(t, stats.PageFresh, result.Status)
		assert.True(t, result.HasNext)
		assert.Equal(t, 3, result.LastPage)
		assert.NotEmpty(t, result.ETag)
		require.Len(t, result.Repos, 2)
		assert.Equal(t, stats.RepoRecord{
			Name:         "octocat/beta",
			Fork:         true,
			Stars:        1,
			SizeKB:       40,
			LanguagesURL: stub.Server.URL + "/repos/octocat/beta/languages",
		}, result.Repos[1])
	})

	t.Run("last page has no next", func(t *testing.T) {
		result, err := client.ListPage(ctx, "octocat", 3, "")
		require.NoError(t, err)

		assert.False(t, result.HasNext)
		assert.Equal(t, 3, result.LastPage)
	})

	t.Run("matching etag is not modified", func(t *testing.T) {
		first, err := client.ListPage(ctx, "octocat", 1, "")
		require.NoError(t, err)

		result, err := client.ListPage(ctx, "octocat", 1, first.ETag)
		require.NoError(t, err)

		assert.Equal(t, stats.PageNotModified, result.Status)
		assert.Equal(t, first.ETag, result.ETag)
		assert.Empty(t, result.Repos)
		assert.True(t, result.HasNext)
		assert.Equal(t, 3, result.LastPage)

		requests := stub.Requests()
		assert.Equal(t, first.ETag, requests[len(requests)-1].IfNoneMatch)
	})

	t.Run("stale etag returns fresh data", func(t *testing.T) {
		result, err := client.ListPage(ctx, "octocat", 2, `"outdated"`)
		require.NoError(t, err)

		assert.Equal(t, stats.PageFresh, result.Status)
		assert.NotEqual(t, `"outdated"`, result.ETag)
		assert.Len(t, result.Repos, 1)
	})
}

func TestListPageErrors(t *testing.T) {
	stub := testutil.NewGitHubStub()
	defer stub.Close()
	stub.SetUser("octocat", threePages()...)

	client := newTestClient(t, stub)
	ctx := context.Background()

	t.Run("unknown user is not found", func(t *testing.T) {
		_, err := client.ListPage(ctx, "ghost", 1, "")
		require.Error(t, err)
		assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
		assert.False(t, errors.IsRetryable(err))
	})

	t.Run("server error is retryable", func(t *testing.T) {
		stub.FailNext(1)

		_, err := client.ListPage(ctx, "octocat", 1, "")
		require.Error(t, err)
		assert.Equal(t, errors.CodeNetwork, errors.GetCode(err))
		assert.True(t, errors.IsRetryable(err))
	})

	t.Run("unreachable upstream is retryable", func(t *testing.T) {
		offline, err := NewClient("", Options{APIURL: "http://127.0.0.1:1/"})
		require.NoError(t, err)

		_, err = offline.ListPage(ctx, "octocat", 1, "")
		require.Error(t, err)
		assert.True(t, errors.IsRetryable(err))
	})

	t.Run("cancelled caller is not retried", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := client.ListPage(cancelled, "octocat", 1, "")
		require.Error(t, err)
		assert.Equal(t, stats.CodeCanceled, errors.GetCode(err))
		assert.False(t, errors.IsRetryable(err))
	})

	t.Run("expired deadline is a timeout", func(t *testing.T) {
		expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
		defer cancel()

		_, err := client.ListPage(expired, "octocat", 1, "")
		require.Error(t, err)
		assert.Equal(t, errors.CodeTimeout, errors.GetCode(err))
		assert.True(t, errors.IsRetryable(err))
	})
}

func TestLanguages(t *testing.T) {
	stub := testutil.NewGitHubStub()
	defer stub.Close()
	stub.SetUser("octocat", []testutil.StubRepo{
		{Name: "alpha", Languages: `{"TypeScript": 5000, "Go": 5000, "Shell": 12}`},
		{Name: "broken", LangFail: true},
	})

	client := newTestClient(t, stub)
	ctx := context.Background()

	languages, err := client.Languages(ctx, stub.Server.URL+"/repos/octocat/alpha/languages")
	require.NoError(t, err)
	assert.Equal(t, []stats.LanguageStat{
		{Name: "TypeScript", Bytes: 5000},
		{Name: "Go", Bytes: 5000},
		{Name: "Shell", Bytes: 12},
	}, languages)

	_, err = client.Languages(ctx, stub.Server.URL+"/repos/octocat/broken/languages")
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))

	_, err = client.Languages(ctx, "https://example.com/repos/octocat/alpha/languages")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestGetRateLimit(t *testing.T) {
	stub := testutil.NewGitHubStub()
	defer stub.Close()

	rl, err := newTestClient(t, stub).GetRateLimit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4321, rl.RemainingRest)
	assert.Equal(t, 4990, rl.RemainingGraphql)
	assert.Equal(t, time.Unix(1760850000, 0).UTC(), rl.ResetRest.UTC())
}

func TestAuthedTransport(t *testing.T) {
	var authorization string
	transport := &authedTransport{
		apiKey: "secret",
		wrapped: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			authorization = req.Header.Get("Authorization")
			return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
		}),
	}

	req, err := http.NewRequest(http.MethodGet, "https://api.github.com/users/octocat/repos", nil)
	require.NoError(t, err)

	_, err = transport.RoundTrip(req)
	require.NoError(t, err)

	assert.Equal(t, "bearer secret", authorization)
	assert.Empty(t, req.Header.Get("Authorization"))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
