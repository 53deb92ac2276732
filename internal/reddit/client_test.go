package reddit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"reddit_watcher/internal/model"
)

const tokenBody = `{"access_token":"tok-1","expires_in":3600}`

const postsBody = `{"data":{"children":[
	{"kind":"t3","data":{"id":"p2","name":"t3_p2","subreddit":"learnpython","title":"Newer post",
		"selftext":"body two","over_18":true,"permalink":"/r/learnpython/p2","created_utc":1700000100}},
	{"kind":"t3","data":{"id":"p1","name":"t3_p1","subreddit":"learnpython","title":"Older post",
		"selftext":"body one","over_18":false,"permalink":"/r/learnpython/p1","created_utc":1700000000}}
]}}`

const commentsBody = `{"data":{"children":[
	{"kind":"t1","data":{"id":"c1","name":"t1_c1","subreddit":"golang","body":"a comment",
		"permalink":"/r/golang/c1","created_utc":1700000050}}
]}}`

type mockTransport struct {
	do func(req *http.Request) (*http.Response, error)
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	return m.do(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func newTestClient(do func(req *http.Request) (*http.Response, error)) *Client {
	c := NewClient(&mockTransport{do: do}, "id", "secret", "test-agent")
	return c
}

func TestListing(t *testing.T) {
	var tokenRequests int
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "access_token") {
			tokenRequests++
			if user, pass, ok := req.BasicAuth(); !ok || user != "id" || pass != "secret" {
				t.Errorf("missing basic auth on token request")
			}
			return response(200, tokenBody), nil
		}
		if req.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("missing bearer token, got %q", req.Header.Get("Authorization"))
		}
		if strings.Contains(req.URL.Path, "/comments") {
			return response(200, commentsBody), nil
		}
		return response(200, postsBody), nil
	})

	posts, err := c.Listing(context.Background(), "/r/all/new")
	if err != nil {
		t.Fatalf("listing: %v", err)
	}

	want := []model.Item{
		{
			ExternalID: "p2", Kind: model.KindPost, Subreddit: "learnpython",
			Title: "Newer post", Body: "body two", NSFW: true,
			URL:       "https://www.reddit.com/r/learnpython/p2",
			CreatedAt: time.Unix(1700000100, 0).UTC(),
		},
		{
			ExternalID: "p1", Kind: model.KindPost, Subreddit: "learnpython",
			Title: "Older post", Body: "body one",
			URL:       "https://www.reddit.com/r/learnpython/p1",
			CreatedAt: time.Unix(1700000000, 0).UTC(),
		},
	}
	if diff := cmp.Diff(want, posts); diff != "" {
		t.Errorf("posts mismatch (-want +got):\n%s", diff)
	}

	comments, err := c.Listing(context.Background(), "/r/all/comments")
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(comments))
	}
	got := comments[0]
	if got.Kind != model.KindComment || got.Body != "a comment" || got.Title != "" {
		t.Errorf("unexpected comment item: %+v", got)
	}

	// Token is fetched once and reused while valid.
	if tokenRequests != 1 {
		t.Errorf("expected 1 token request, got %d", tokenRequests)
	}
}

func TestListingErrors(t *testing.T) {
	tests := []struct {
		name        string
		tokenStatus int
		listStatus  int
		netErr      error
		wantAuth    bool
	}{
		{
			name:        "bad credentials on token endpoint",
			tokenStatus: 401,
			wantAuth:    true,
		},
		{
			name:        "forbidden listing",
			tokenStatus: 200,
			listStatus:  403,
			wantAuth:    true,
		},
		{
			name:        "rate limited listing is transient",
			tokenStatus: 200,
			listStatus:  429,
		},
		{
			name:        "server error is transient",
			tokenStatus: 200,
			listStatus:  502,
		},
		{
			name:        "network error is transient",
			tokenStatus: 200,
			netErr:      io.ErrUnexpectedEOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(func(req *http.Request) (*http.Response, error) {
				if strings.Contains(req.URL.Path, "access_token") {
					if tt.tokenStatus != 200 {
						return response(tt.tokenStatus, `{}`), nil
					}
					return response(200, tokenBody), nil
				}
				if tt.netErr != nil {
					return nil, tt.netErr
				}
				return response(tt.listStatus, `{}`), nil
			})

			_, err := c.Listing(context.Background(), "/r/all/new")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrAuth); got != tt.wantAuth {
				t.Errorf("errors.Is(err, ErrAuth) = %v, want %v (err: %v)", got, tt.wantAuth, err)
			}
		})
	}
}

func TestTarget(t *testing.T) {
	tests := []struct {
		name string
		subs []string
		want string
	}{
		{name: "empty means all", subs: nil, want: "all"},
		{name: "single", subs: []string{"golang"}, want: "golang"},
		{name: "joined", subs: []string{"golang", "learnpython"}, want: "golang+learnpython"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Target(tt.subs); got != tt.want {
				t.Errorf("Target(%v) = %q, want %q", tt.subs, got, tt.want)
			}
		})
	}
}
