// Package reddit wraps the upstream content source: an app-only API
// client and a restartable stream of new posts and comments.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"reddit_watcher/internal/model"
)

// ErrAuth marks authentication or permission failures from the upstream
// API. They are fatal: retrying with the same credentials fails the
// same way.
var ErrAuth = errors.New("reddit: authentication failed")

const (
	defaultAuthURL = "https://www.reddit.com"
	defaultAPIURL  = "https://oauth.reddit.com"
	linkURL        = "https://www.reddit.com"

	requestTimeout = 30 * time.Second
	maxBodyBytes   = 5 * 1024 * 1024
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an app-only (client-credentials) Reddit API client.
type Client struct {
	client       HTTPClient
	clientID     string
	clientSecret string
	userAgent    string

	authURL string
	apiURL  string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a Client with the given HTTP client and credentials.
func NewClient(client HTTPClient, clientID, clientSecret, userAgent string) *Client {
	return &Client{
		client:       client,
		clientID:     clientID,
		clientSecret: clientSecret,
		userAgent:    userAgent,
		authURL:      defaultAuthURL,
		apiURL:       defaultAPIURL,
	}
}

// SetBaseURLs overrides the API endpoints (useful for testing).
func (c *Client) SetBaseURLs(authURL, apiURL string) {
	c.authURL = authURL
	c.apiURL = apiURL
}

// ensureToken refreshes the app token when missing or near expiry and
// returns the current one. Safe for concurrent pollers.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.token, nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.authURL+"/api/v1/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string  `json:"access_token"`
		ExpiresIn   float64 `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuth)
	}

	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.token, nil
}

type listing struct {
	Data struct {
		Children []struct {
			Kind string `json:"kind"`
			Data thing  `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type thing struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Subreddit  string  `json:"subreddit"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	Body       string  `json:"body"`
	Over18     bool    `json:"over_18"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
}

// Listing fetches one page of a listing path (e.g. "/r/all/new") and
// converts it to items, newest first. Rate-limit and server errors come
// back as plain errors; 401/403 wrap ErrAuth.
func (c *Client) Listing(ctx context.Context, path string) ([]model.Item, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path+"?limit=100&raw_json=1", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: listing returned %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited (429)")
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var page listing
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	items := make([]model.Item, 0, len(page.Data.Children))
	for _, child := range page.Data.Children {
		items = append(items, itemFromThing(child.Kind, child.Data))
	}
	return items, nil
}

func itemFromThing(kind string, t thing) model.Item {
	item := model.Item{
		ExternalID: t.ID,
		Subreddit:  t.Subreddit,
		URL:        linkURL + t.Permalink,
		CreatedAt:  time.Unix(int64(t.CreatedUTC), 0).UTC(),
	}
	if kind == "t1" {
		item.Kind = model.KindComment
		item.Body = t.Body
	} else {
		item.Kind = model.KindPost
		item.Title = t.Title
		item.Body = t.Selftext
		item.NSFW = t.Over18
	}
	return item
}

// Target joins the include list into a multireddit path segment;
// an empty list watches all of Reddit.
func Target(includeSubs []string) string {
	if len(includeSubs) == 0 {
		return "all"
	}
	return strings.Join(includeSubs, "+")
}
