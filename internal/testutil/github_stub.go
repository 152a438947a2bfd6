package testutil

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

type StubRepo struct {
	Name      string
	Fork      bool
	Stars     int
	Forks     int
	Size      int
	Languages string // raw JSON object, e.g. {"Go":100,"Shell":5}
	LangFail  bool
}

type StubRequest struct {
	Path        string
	Page        int
	IfNoneMatch string
}

// GitHubStub serves the subset of the GitHub API the service uses. Page etags are
// derived from the page body, so unchanged pages keep their etag across SetUser calls.
type GitHubStub struct {
	Server *httptest.Server

	mu       sync.Mutex
	users    map[string][][]StubRepo
	failures int
	requests []StubRequest
}

func NewGitHubStub() *GitHubStub {
	s := &GitHubStub{users: make(map[string][][]StubRepo)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{username}/repos", s.handleRepos)
	mux.HandleFunc("GET /repos/{owner}/{repo}/languages", s.handleLanguages)
	mux.HandleFunc("GET /rate_limit", s.handleRateLimit)
	mux.HandleFunc("POST /graphql", s.handleGraphql)

	s.Server = httptest.NewServer(mux)
	return s
}

func (s *GitHubStub) URL() string {
	return s.Server.URL + "/"
}

func (s *GitHubStub) Close() {
	s.Server.Close()
}

func (s *GitHubStub) SetUser(username string, pages ...[]StubRepo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[strings.ToLower(username)] = pages
}

func (s *GitHubStub) DeleteUser(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, strings.ToLower(username))
}

// FailNext makes the next n repository listings answer with 500.
func (s *GitHubStub) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *GitHubStub) Requests() []StubRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	requests := make([]StubRequest, len(s.requests))
	copy(requests, s.requests)
	return requests
}

func (s *GitHubStub) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

func (s *GitHubStub) handleRepos(w http.ResponseWriter, r *http.Request) {
	username := strings.ToLower(r.PathValue("username"))
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	s.mu.Lock()
	s.requests = append(s.requests, StubRequest{
		Path:        r.URL.Path,
		Page:        page,
		IfNoneMatch: r.Header.Get("If-None-Match"),
	})
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	pages, ok := s.users[username]
	s.mu.Unlock()

	if fail {
		writeJSON(w, http.StatusInternalServerError, `{"message":"Server Error"}`)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, `{"message":"Not Found","documentation_url":"https://docs.github.com/rest"}`)
		return
	}

	body := []byte("[]")
	if page <= len(pages) {
		body = s.pageBody(username, pages[page-1])
	}

	sum := sha1.Sum(body)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`

	if link := s.link(r, page, len(pages)); link != "" {
		w.Header().Set("Link", link)
	}

	for _, candidate := range r.Header.Values("If-None-Match") {
		if candidate == etag {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, string(body))
}

func (s *GitHubStub) pageBody(username string, repos []StubRepo) []byte {
	items := make([]map[string]interface{}, len(repos))
	for i, repo := range repos {
		items[i] = map[string]interface{}{
			"name":             repo.Name,
			"full_name":        username + "/" + repo.Name,
			"fork":             repo.Fork,
			"stargazers_count": repo.Stars,
			"forks_count":      repo.Forks,
			"size":             repo.Size,
			"languages_url":    s.Server.URL + "/repos/" + username + "/" + repo.Name + "/languages",
		}
	}

	body, _ := json.Marshal(items)
	return body
}

func (s *GitHubStub) link(r *http.Request, page, total int) string {
	if total <= 1 {
		return ""
	}

	pageURL := func(p int) string {
		return fmt.Sprintf("<%s%s?type=owner&per_page=100&page=%d>", s.Server.URL, r.URL.Path, p)
	}

	var parts []string
	if page < total {
		parts = append(parts, pageURL(page+1)+`; rel="next"`, pageURL(total)+`; rel="last"`)
	}
	if page > 1 {
		parts = append(parts, pageURL(page-1)+`; rel="prev"`, pageURL(1)+`; rel="first"`)
	}
	return strings.Join(parts, ", ")
}

func (s *GitHubStub) handleLanguages(w http.ResponseWriter, r *http.Request) {
	owner := strings.ToLower(r.PathValue("owner"))
	name := r.PathValue("repo")

	s.mu.Lock()
	pages := s.users[owner]
	s.mu.Unlock()

	for _, page := range pages {
		for _, repo := range page {
			if repo.Name != name {
				continue
			}
			if repo.LangFail {
				writeJSON(w, http.StatusInternalServerError, `{"message":"Server Error"}`)
				return
			}
			languages := repo.Languages
			if languages == "" {
				languages = "{}"
			}
			writeJSON(w, http.StatusOK, languages)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, `{"message":"Not Found"}`)
}

func (s *GitHubStub) handleRateLimit(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, `{
		"resources": {"core": {"limit": 5000, "used": 679, "remaining": 4321, "reset": 1760850000}},
		"rate": {"limit": 5000, "used": 679, "remaining": 4321, "reset": 1760850000}
	}`)
}

func (s *GitHubStub) handleGraphql(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, `{"data": {"rateLimit": {"remaining": 4990, "resetAt": "2026-10-19T05:00:00Z"}}}`)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
