package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AlexAkulov/releasewatch"
	"github.com/AlexAkulov/releasewatch/helpers"

	"github.com/google/go-github/github"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL = "https://api.github.com/"
	DefaultTimeout = 30 * time.Second

	apiVersion      = "2022-11-28"
	mediaType       = "application/vnd.github+json"
	maxBodySize     = 4 << 20
	maxErrorMessage = 200
	unknownError    = "Unknown error"
)

// Client fetches the latest tag or release of a repository with conditional
// requests. Zero value is usable, Token enables authenticated requests.
type Client struct {
	Token   string
	BaseURL string
	Timeout time.Duration
	Log     zerolog.Logger

	once       sync.Once
	connectErr error
	client     *github.Client
	httpClient *http.Client
}

func (c *Client) connect() error {
	c.once.Do(func() {
		c.httpClient = c.getHTTPClient()
		c.client = github.NewClient(c.httpClient)
		baseURL := c.BaseURL
		if baseURL == "" {
			baseURL = DefaultBaseURL
		}
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			c.connectErr = fmt.Errorf("can't parse base url '%s' with: %w", baseURL, err)
			return
		}
		c.client.BaseURL = u
	})
	return c.connectErr
}

func (c *Client) getHTTPClient() *http.Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var transport http.RoundTripper = http.DefaultTransport
	if c.Token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.Token}),
			Base:   http.DefaultTransport,
		}
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// FetchLatestTag returns the most recent tag. A nil result without error means
// the cached etag is still valid or the repository has no tags.
func (c *Client) FetchLatestTag(ctx context.Context, owner, repo, etag string) (*releasewatch.FetchResult, error) {
	path := fmt.Sprintf("repos/%s/%s/tags?per_page=1", url.PathEscape(owner), url.PathEscape(repo))
	resp, body, err := c.get(ctx, path, etag)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotModified {
		return nil, nil
	}
	if err := checkResponse(resp, body); err != nil {
		return nil, err
	}
	var tags []*github.RepositoryTag
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("can't decode tags of %s/%s with: %w", owner, repo, err)
	}
	if len(tags) == 0 || tags[0] == nil {
		return nil, nil
	}
	return &releasewatch.FetchResult{
		TagName:   tags[0].GetName(),
		CommitSHA: tags[0].GetCommit().GetSHA(),
		ETag:      resp.Header.Get("ETag"),
	}, nil
}

// FetchLatestRelease returns the latest published release. A nil result
// without error means the cached etag is still valid.
func (c *Client) FetchLatestRelease(ctx context.Context, owner, repo, etag string) (*releasewatch.FetchResult, error) {
	path := fmt.Sprintf("repos/%s/%s/releases/latest", url.PathEscape(owner), url.PathEscape(repo))
	resp, body, err := c.get(ctx, path, etag)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotModified {
		return nil, nil
	}
	if err := checkResponse(resp, body); err != nil {
		return nil, err
	}
	release := &github.RepositoryRelease{}
	if err := json.Unmarshal(body, release); err != nil {
		return nil, fmt.Errorf("can't decode release of %s/%s with: %w", owner, repo, err)
	}
	return &releasewatch.FetchResult{
		ReleaseID:   release.GetID(),
		TagName:     release.GetTagName(),
		ReleaseName: release.GetName(),
		ETag:        resp.Header.Get("ETag"),
	}, nil
}

func (c *Client) get(ctx context.Context, path, etag string) (*http.Response, []byte, error) {
	if err := c.connect(); err != nil {
		return nil, nil, err
	}
	req, err := c.client.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("can't build request with: %w", err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", mediaType)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	op := "GET " + req.URL.Path

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, &TransportError{Op: op, Err: err}
	}
	c.Log.Debug().
		Str("service", "github").
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Str("remaining", resp.Header.Get("X-RateLimit-Remaining")).
		Str("duration", helpers.PrettyDuration(time.Since(start))).
		Msg("request")
	return resp, body, nil
}

// checkResponse classifies a non-304 response. Rate limiting is checked
// before generic errors.
func checkResponse(resp *http.Response, body []byte) error {
	if err := checkRateLimit(resp); err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return nil
}

func checkRateLimit(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
	case http.StatusForbidden:
		// a 403 is a rate limit only when the quota counter says so
		remaining, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("X-RateLimit-Remaining")))
		if err != nil || remaining != 0 {
			return nil
		}
	default:
		return nil
	}
	rateErr := &RateLimitError{StatusCode: resp.StatusCode}
	if reset, err := strconv.ParseInt(strings.TrimSpace(resp.Header.Get("X-RateLimit-Reset")), 10, 64); err == nil {
		rateErr.Reset = time.Unix(reset, 0).UTC()
	}
	if retryAfter, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && retryAfter > 0 {
		rateErr.RetryAfter = time.Duration(retryAfter) * time.Second
	}
	return rateErr
}

func errorMessage(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return unknownError
	}
	errResp := &github.ErrorResponse{}
	if err := json.Unmarshal(body, errResp); err == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		return unknownError
	}
	return helpers.Truncate(string(body), maxErrorMessage)
}
