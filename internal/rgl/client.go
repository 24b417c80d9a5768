// Package rgl fetches official match results from the RGL.gg public API
// and resolves player steam ids from league profile pages.
package rgl

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teamtf/scrim-bot/internal/domain"
	"github.com/valyala/fasthttp"
	"golang.org/x/net/html"
)

const (
	retryAttempts = 3
	backoffBase   = time.Second
	backoffCap    = 8 * time.Second
)

type Client struct {
	apiBaseURL  string
	siteBaseURL string
	http        *fasthttp.Client

	defaultTimeout time.Duration
	attempts       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithAttempts(n int) Option {
	return func(c *Client) { c.attempts = n }
}

// NewClient talks to the JSON API at apiBaseURL and scrapes profile pages
// from siteBaseURL.
func NewClient(apiBaseURL, siteBaseURL string, opts ...Option) *Client {
	c := &Client{
		apiBaseURL:     strings.TrimRight(apiBaseURL, "/"),
		siteBaseURL:    strings.TrimRight(siteBaseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 10 * time.Second,
		attempts:       retryAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type matchTeam struct {
	TeamName string  `json:"teamName"`
	TeamID   int64   `json:"teamId"`
	Points   float64 `json:"points"`
	IsHome   bool    `json:"isHome"`
}

type matchResponse struct {
	MatchID   int64       `json:"matchId"`
	MatchName string      `json:"matchName"`
	MatchDate string      `json:"matchDate"`
	IsForfeit bool        `json:"isForfeit"`
	Winner    int64       `json:"winner"`
	Teams     []matchTeam `json:"teams"`
}

// FetchMatch loads the official result for one league match. Transport
// and server failures are retried and surface as domain.ErrFetchFailed;
// a response we cannot make sense of is domain.ErrUnparseableResult and
// is never retried, since the payload will not improve.
func (c *Client) FetchMatch(ctx context.Context, matchID int64) (*domain.MatchResult, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/v0/matches/%d", c.apiBaseURL, matchID))
	if err != nil {
		return nil, err
	}

	var resp matchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode match %d: %v", domain.ErrUnparseableResult, matchID, err)
	}
	return buildResult(matchID, &resp)
}

func buildResult(matchID int64, resp *matchResponse) (*domain.MatchResult, error) {
	if len(resp.Teams) < 2 {
		return nil, fmt.Errorf("%w: match %d has %d teams", domain.ErrUnparseableResult, matchID, len(resp.Teams))
	}

	result := &domain.MatchResult{MatchID: matchID}
	home, away := resp.Teams[0], resp.Teams[1]
	if away.IsHome && !home.IsHome {
		home, away = away, home
	}
	result.Score = fmt.Sprintf("%s %s - %s %s",
		home.TeamName, formatPoints(home.Points),
		away.TeamName, formatPoints(away.Points))

	switch {
	case resp.Winner != 0:
		for _, team := range resp.Teams {
			if team.TeamID == resp.Winner {
				result.Winner = team.TeamName
			}
		}
		if result.Winner == "" {
			return nil, fmt.Errorf("%w: match %d winner %d not among teams",
				domain.ErrUnparseableResult, matchID, resp.Winner)
		}
		result.Finalized = true
	case resp.IsForfeit:
		result.Finalized = true
	case home.Points != away.Points:
		if home.Points > away.Points {
			result.Winner = home.TeamName
		} else {
			result.Winner = away.TeamName
		}
		result.Finalized = true
	}
	return result, nil
}

func formatPoints(p float64) string {
	return strings.TrimSuffix(fmt.Sprintf("%.2f", p), ".00")
}

// ResolveSteamID scrapes a player profile page for the steam id embedded
// in its markup.
func (c *Client) ResolveSteamID(ctx context.Context, profileID string) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/Public/PlayerProfile.aspx?p=%s", c.siteBaseURL, profileID))
	if err != nil {
		return "", err
	}

	id, ok := extractSteamID(body)
	if !ok {
		return "", fmt.Errorf("%w: no steam id on profile %s", domain.ErrUnparseableResult, profileID)
	}
	return id, nil
}

// extractSteamID walks the document for a steamcommunity profile link and
// takes the trailing id64 path segment.
func extractSteamID(body []byte) (string, bool) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return "", false
	}

	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if id, ok := steamIDFromURL(attr.Val); ok {
					found = id
					return
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return found, found != ""
}

func steamIDFromURL(href string) (string, bool) {
	_, rest, ok := strings.Cut(href, "steamcommunity.com/profiles/")
	if !ok {
		return "", false
	}
	id := strings.TrimRight(strings.SplitN(rest, "?", 2)[0], "/")
	if id == "" {
		return "", false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id, true
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(url)

	attempts := c.attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = err
		} else {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				body := make([]byte, len(resp.Body()))
				copy(body, resp.Body())
				return body, nil
			}
			if status < 500 {
				return nil, fmt.Errorf("%w: status=%d url=%s", domain.ErrFetchFailed, status, url)
			}
			lastErr = fmt.Errorf("status=%d", status)
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v url=%s", domain.ErrFetchFailed, lastErr, url)
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(1<<uint(attempt-1)) * backoffBase
	if d > backoffCap {
		return backoffCap
	}
	return d
}
