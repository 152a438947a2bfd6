package github

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Khan/genqlient/graphql"
	gh "github.com/google/go-github/v67/github"
	"github.com/jmgilman/go/errors"
)

const (
	apiUrl   = "https://api.github.com/"
	pageSize = 100
)

// Client talks to the GitHub REST API for repository listings and to the GraphQL
// API for quota diagnostics. It satisfies stats.Source.
type Client struct {
	rest    *gh.Client
	graphql graphql.Client
}

type Options struct {
	// APIURL overrides the REST base URL, e.g. for GitHub Enterprise or test servers.
	APIURL    string
	Timeout   time.Duration
	Transport http.RoundTripper
}

type authedTransport struct {
	wrapped http.RoundTripper
	apiKey  string
}

func NewClient(apiKey string, opts Options) (*Client, error) {
	wrapped := opts.Transport
	if wrapped == nil {
		wrapped = http.DefaultTransport
	}

	httpClient := &http.Client{
		Transport: &authedTransport{
			apiKey:  apiKey,
			wrapped: wrapped,
		},
		Timeout: opts.Timeout,
	}

	rest := gh.NewClient(httpClient)

	baseURL := opts.APIURL
	if baseURL == "" {
		baseURL = apiUrl
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "invalid GitHub API URL %q", baseURL)
	}
	rest.BaseURL = u

	return &Client{
		rest:    rest,
		graphql: graphql.NewClient(u.String()+"graphql", httpClient),
	}, nil
}

func (t *authedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.apiKey == "" {
		return t.wrapped.RoundTrip(req)
	}

	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "bearer "+t.apiKey)
	return t.wrapped.RoundTrip(req)
}
