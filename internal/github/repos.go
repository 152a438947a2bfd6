package github

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/glup3/ghstats/internal/stats"
	gh "github.com/google/go-github/v67/github"
	"github.com/jmgilman/go/errors"
	"github.com/tidwall/gjson"
)

// ListPage fetches one page of the repositories owned by username. A non-empty etag is
// sent as If-None-Match and a 304 answer is reported as stats.PageNotModified.
func (c *Client) ListPage(ctx context.Context, username string, page int, etag string) (stats.PageResult, error) {
	u := fmt.Sprintf("users/%s/repos?type=owner&per_page=%d&page=%d", url.PathEscape(username), pageSize, page)

	req, err := c.rest.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return stats.PageResult{}, errors.Wrap(err, errors.CodeInternal, "failed to build repository request")
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	var repos []*gh.Repository
	resp, err := c.rest.Do(ctx, req, &repos)

	if etag != "" && resp != nil && resp.Response != nil && resp.StatusCode == http.StatusNotModified {
		return stats.PageResult{
			Status:   stats.PageNotModified,
			ETag:     etag,
			HasNext:  resp.NextPage != 0,
			LastPage: resp.LastPage,
		}, nil
	}

	if err != nil {
		err = classifyError(err, resp, fmt.Sprintf("failed to list repositories of %s", username))
		return stats.PageResult{}, errors.WithContextMap(err, map[string]interface{}{
			"username": username,
			"page":     page,
		})
	}

	hasNext := resp.NextPage != 0
	lastPage := resp.LastPage
	if !hasNext {
		lastPage = page
	}

	return stats.PageResult{
		Status:   stats.PageFresh,
		Repos:    MapRepos(repos),
		ETag:     resp.Header.Get("ETag"),
		HasNext:  hasNext,
		LastPage: lastPage,
	}, nil
}

// Languages loads the language breakdown of a repository. The order of the JSON object
// is kept, GitHub lists the largest language first.
func (c *Client) Languages(ctx context.Context, languagesURL string) ([]stats.LanguageStat, error) {
	u, err := c.rest.BaseURL.Parse(languagesURL)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "invalid languages URL %q", languagesURL)
	}
	if u.Host != c.rest.BaseURL.Host {
		return nil, errors.Newf(errors.CodeInvalidInput, "languages URL %q is not served by %s", languagesURL, c.rest.BaseURL.Host)
	}

	req, err := c.rest.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to build languages request")
	}

	var buf bytes.Buffer
	resp, err := c.rest.Do(ctx, req, &buf)
	if err != nil {
		return nil, classifyError(err, resp, fmt.Sprintf("failed to load languages from %s", languagesURL))
	}

	parsed := gjson.ParseBytes(buf.Bytes())
	if !parsed.IsObject() {
		return nil, errors.Newf(errors.CodeInternal, "unexpected languages payload from %s", languagesURL)
	}

	var languages []stats.LanguageStat
	parsed.ForEach(func(name, size gjson.Result) bool {
		languages = append(languages, stats.LanguageStat{
			Name:  name.String(),
			Bytes: int(size.Int()),
		})
		return true
	})

	return languages, nil
}
