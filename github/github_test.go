package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	. "github.com/smartystreets/goconvey/convey"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return &Client{
		Token:   "secret-token",
		BaseURL: srv.URL,
		Timeout: time.Second,
		Log:     zerolog.Nop(),
	}, srv
}

func TestFetchLatestTag(t *testing.T) {
	ctx := context.Background()

	Convey("FetchLatestTag", t, func() {
		Convey("maps the first tag and sends conditional headers", func() {
			var got *http.Request
			c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				got = r
				w.Header().Set("ETag", `W/"abc"`)
				fmt.Fprint(w, `[{"name": "v1.2.0", "commit": {"sha": "deadbeef", "url": "x"}}, {"name": "v1.1.0", "commit": {"sha": "aaa"}}]`)
			})
			defer srv.Close()

			result, err := c.FetchLatestTag(ctx, "golang", "go", `W/"old"`)
			So(err, ShouldBeNil)
			So(result, ShouldNotBeNil)
			So(result.TagName, ShouldEqual, "v1.2.0")
			So(result.CommitSHA, ShouldEqual, "deadbeef")
			So(result.ETag, ShouldEqual, `W/"abc"`)

			So(got.URL.Path, ShouldEqual, "/repos/golang/go/tags")
			So(got.URL.Query().Get("per_page"), ShouldEqual, "1")
			So(got.Header.Get("If-None-Match"), ShouldEqual, `W/"old"`)
			So(got.Header.Get("Authorization"), ShouldEqual, "Bearer secret-token")
			So(got.Header.Get("Accept"), ShouldEqual, "application/vnd.github+json")
			So(got.Header.Get("X-GitHub-Api-Version"), ShouldEqual, "2022-11-28")
		})

		Convey("no conditional header without etag", func() {
			var got *http.Request
			c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				got = r
				fmt.Fprint(w, `[]`)
			})
			defer srv.Close()
			c.Token = ""

			result, err := c.FetchLatestTag(ctx, "a", "b", "")
			So(err, ShouldBeNil)
			So(result, ShouldBeNil)
			So(got.Header.Get("If-None-Match"), ShouldEqual, "")
			So(got.Header.Get("Authorization"), ShouldEqual, "")
		})

		Convey("not modified is not an error", func() {
			c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotModified)
			})
			defer srv.Close()

			result, err := c.FetchLatestTag(ctx, "a", "b", `"etag"`)
			So(err, ShouldBeNil)
			So(result, ShouldBeNil)
		})
	})
}

func TestFetchLatestRelease(t *testing.T) {
	Convey("FetchLatestRelease maps id, tag and name", t, func() {
		var path string
		c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			w.Header().Set("ETag", `"rel"`)
			fmt.Fprint(w, `{"id": 4242, "tag_name": "v3.0.0", "name": "Three"}`)
		})
		defer srv.Close()

		result, err := c.FetchLatestRelease(context.Background(), "prometheus", "prometheus", "")
		So(err, ShouldBeNil)
		So(path, ShouldEqual, "/repos/prometheus/prometheus/releases/latest")
		So(result.ReleaseID, ShouldEqual, int64(4242))
		So(result.TagName, ShouldEqual, "v3.0.0")
		So(result.ReleaseName, ShouldEqual, "Three")
		So(result.ETag, ShouldEqual, `"rel"`)
		So(result.CommitSHA, ShouldEqual, "")
	})
}

func TestErrorClassification(t *testing.T) {
	ctx := context.Background()

	respond := func(status int, headers map[string]string, body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			for k, v := range headers {
				w.Header().Set(k, v)
			}
			w.WriteHeader(status)
			fmt.Fprint(w, body)
		}
	}

	Convey("error classification", t, func() {
		Convey("403 with exhausted quota is a rate limit with reset", func() {
			c, srv := newTestClient(respond(http.StatusForbidden, map[string]string{
				"X-RateLimit-Remaining": "0",
				"X-RateLimit-Reset":     "1700000000",
			}, `{"message": "API rate limit exceeded"}`))
			defer srv.Close()

			_, err := c.FetchLatestTag(ctx, "a", "b", "")
			var rateErr *RateLimitError
			So(errors.As(err, &rateErr), ShouldBeTrue)
			So(rateErr.Reset.Equal(time.Unix(1700000000, 0)), ShouldBeTrue)
			So(rateErr.RetryAfter, ShouldEqual, time.Duration(0))
			So(rateErr.RetryAt(time.Now()).Equal(time.Unix(1700000000, 0)), ShouldBeTrue)
		})

		Convey("429 is a rate limit with retry-after", func() {
			c, srv := newTestClient(respond(http.StatusTooManyRequests, map[string]string{
				"Retry-After": "60",
			}, ``))
			defer srv.Close()

			_, err := c.FetchLatestRelease(ctx, "a", "b", "")
			var rateErr *RateLimitError
			So(errors.As(err, &rateErr), ShouldBeTrue)
			So(rateErr.Reset.IsZero(), ShouldBeTrue)
			So(rateErr.RetryAfter, ShouldEqual, time.Minute)
			now := time.Now()
			So(rateErr.RetryAt(now).Equal(now.Add(time.Minute)), ShouldBeTrue)
		})

		Convey("403 without quota header is an api error", func() {
			c, srv := newTestClient(respond(http.StatusForbidden, nil, `{"message": "Resource not accessible by integration"}`))
			defer srv.Close()

			_, err := c.FetchLatestTag(ctx, "a", "b", "")
			var apiErr *APIError
			So(errors.As(err, &apiErr), ShouldBeTrue)
			So(apiErr.StatusCode, ShouldEqual, http.StatusForbidden)
			So(apiErr.Message, ShouldEqual, "Resource not accessible by integration")
		})

		Convey("403 with unparseable quota header is an api error", func() {
			c, srv := newTestClient(respond(http.StatusForbidden, map[string]string{
				"X-RateLimit-Remaining": "none",
			}, `{"message": "Forbidden"}`))
			defer srv.Close()

			_, err := c.FetchLatestTag(ctx, "a", "b", "")
			var apiErr *APIError
			So(errors.As(err, &apiErr), ShouldBeTrue)
		})

		Convey("403 with quota left is an api error", func() {
			c, srv := newTestClient(respond(http.StatusForbidden, map[string]string{
				"X-RateLimit-Remaining": "4999",
			}, `{"message": "Forbidden"}`))
			defer srv.Close()

			_, err := c.FetchLatestTag(ctx, "a", "b", "")
			var rateErr *RateLimitError
			So(errors.As(err, &rateErr), ShouldBeFalse)
		})

		Convey("404 message comes from the json body", func() {
			c, srv := newTestClient(respond(http.StatusNotFound, nil, `{"message": "Not Found", "documentation_url": "https://docs.github.com"}`))
			defer srv.Close()

			_, err := c.FetchLatestRelease(ctx, "a", "b", "")
			var apiErr *APIError
			So(errors.As(err, &apiErr), ShouldBeTrue)
			So(apiErr.StatusCode, ShouldEqual, http.StatusNotFound)
			So(apiErr.Message, ShouldEqual, "Not Found")
			So(err.Error(), ShouldEqual, "github api error 404: Not Found")
		})

		Convey("plain text body is truncated", func() {
			c, srv := newTestClient(respond(http.StatusBadGateway, nil, strings.Repeat("x", 500)))
			defer srv.Close()

			_, err := c.FetchLatestTag(ctx, "a", "b", "")
			var apiErr *APIError
			So(errors.As(err, &apiErr), ShouldBeTrue)
			So(len(apiErr.Message), ShouldEqual, 200)
		})

		Convey("json body without message and empty body are generic", func() {
			for _, body := range []string{`{"error": "boom"}`, ``} {
				c, srv := newTestClient(respond(http.StatusInternalServerError, nil, body))
				_, err := c.FetchLatestTag(ctx, "a", "b", "")
				srv.Close()
				var apiErr *APIError
				So(errors.As(err, &apiErr), ShouldBeTrue)
				So(apiErr.Message, ShouldEqual, "Unknown error")
			}
		})

		Convey("slow server is a transport timeout", func() {
			c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(300 * time.Millisecond)
				fmt.Fprint(w, `[]`)
			})
			defer srv.Close()
			c.Timeout = 50 * time.Millisecond

			_, err := c.FetchLatestTag(ctx, "a", "b", "")
			var transportErr *TransportError
			So(errors.As(err, &transportErr), ShouldBeTrue)
			So(transportErr.Timeout(), ShouldBeTrue)
			var apiErr *APIError
			So(errors.As(err, &apiErr), ShouldBeFalse)
		})

		Convey("broken payload is an error", func() {
			c, srv := newTestClient(respond(http.StatusOK, nil, `{"not": "a list"}`))
			defer srv.Close()

			result, err := c.FetchLatestTag(ctx, "a", "b", "")
			So(result, ShouldBeNil)
			So(err, ShouldNotBeNil)
		})
	})
}
