// Package serveme books and releases game-server reservations through a
// serveme.tf-compatible HTTP API. The client owns retry and cancellation
// policy; it never persists reservation state — the game record is the
// source of truth for "a reservation exists".
package serveme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teamtf/scrim-bot/internal/domain"
	"github.com/teamtf/scrim-bot/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	retryAttempts = 3
	backoffBase   = time.Second
	backoffCap    = 8 * time.Second
)

// Server is one bookable game server.
type Server struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"ip_and_port"`
}

// Reservation mirrors the provider's reservation resource.
type Reservation struct {
	ID       int64     `json:"id"`
	Status   string    `json:"status"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Password string    `json:"password"`
	Rcon     string    `json:"rcon"`
	Server   Server    `json:"server"`
}

// Ready reports whether the reserved server is live and addressable.
func (r *Reservation) Ready() bool {
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "ready", "started":
		return r.Server.Address != ""
	default:
		return false
	}
}

// CreateRequest books a server for a window.
type CreateRequest struct {
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	ServerID       int64     `json:"server_id"`
	Password       string    `json:"password"`
	Rcon           string    `json:"rcon"`
	FirstMap       string    `json:"first_map,omitempty"`
	ServerConfigID int64     `json:"server_config_id,omitempty"`
	EnablePlugins  bool      `json:"enable_plugins"`
	EnableDemosTF  bool      `json:"enable_demos_tf"`
}

// EditRequest adjusts an existing reservation.
type EditRequest struct {
	StartsAt       *time.Time `json:"starts_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	FirstMap       string     `json:"first_map,omitempty"`
	ServerConfigID int64      `json:"server_config_id,omitempty"`
}

// wrapper is the provider's {"reservation": ...} envelope.
type wrapper[T any] struct {
	Reservation T `json:"reservation"`
}

type findServersResponse struct {
	Servers []Server `json:"servers"`
}

type Client struct {
	baseURL string
	http    *fasthttp.Client

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

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		attempts:       retryAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FindServers lists servers free for the given window.
func (c *Client) FindServers(ctx context.Context, apiKey string, start, end time.Time) ([]Server, error) {
	body := wrapper[map[string]string]{Reservation: map[string]string{
		"starts_at": start.UTC().Format(time.RFC3339),
		"ends_at":   end.UTC().Format(time.RFC3339),
	}}
	var resp findServersResponse
	if err := c.doJSON(ctx, apiKey, fasthttp.MethodPost, "/api/reservations/find_servers", body, &resp); err != nil {
		return nil, err
	}
	return resp.Servers, nil
}

// Create books the reservation.
func (c *Client) Create(ctx context.Context, apiKey string, req CreateRequest) (*Reservation, error) {
	var resp wrapper[Reservation]
	if err := c.doJSON(ctx, apiKey, fasthttp.MethodPost, "/api/reservations", wrapper[CreateRequest]{Reservation: req}, &resp); err != nil {
		return nil, err
	}
	return &resp.Reservation, nil
}

// Get fetches the current reservation state. A missing reservation is
// domain.ErrNotFound so the caller can reconcile stale ids.
func (c *Client) Get(ctx context.Context, apiKey string, id int64) (*Reservation, error) {
	var resp wrapper[Reservation]
	err := c.doJSON(ctx, apiKey, fasthttp.MethodGet, fmt.Sprintf("/api/reservations/%d", id), nil, &resp)
	if err != nil {
		var gone *goneError
		if errors.As(err, &gone) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &resp.Reservation, nil
}

// Edit updates an existing reservation (extend window, set first map).
func (c *Client) Edit(ctx context.Context, apiKey string, id int64, req EditRequest) (*Reservation, error) {
	var resp wrapper[Reservation]
	if err := c.doJSON(ctx, apiKey, fasthttp.MethodPatch, fmt.Sprintf("/api/reservations/%d", id), wrapper[EditRequest]{Reservation: req}, &resp); err != nil {
		return nil, err
	}
	return &resp.Reservation, nil
}

// Delete releases a reservation. Releasing one the provider no longer
// knows about is a successful no-op, so release is safely retryable.
func (c *Client) Delete(ctx context.Context, apiKey string, id int64) error {
	err := c.doJSON(ctx, apiKey, fasthttp.MethodDelete, fmt.Sprintf("/api/reservations/%d", id), nil, nil)
	var gone *goneError
	if errors.As(err, &gone) {
		obslog.L().Info("reservation_already_released", zap.Int64("reservation_id", id))
		return nil
	}
	return err
}

// goneError marks 404/410 responses, which several callers treat as success.
type goneError struct{ status int }

func (e *goneError) Error() string { return fmt.Sprintf("reservation gone: status=%d", e.status) }

func (c *Client) doJSON(ctx context.Context, apiKey, method, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Token token="+strings.TrimSpace(apiKey))

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := c.attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("serveme request: %w", err)
			if attempt == attempts {
				break
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return fmt.Errorf("%w: %v", domain.ErrReservationUnavailable, lastErr)
			}
			continue
		}

		status := resp.StatusCode()
		switch {
		case status == fasthttp.StatusNotFound || status == fasthttp.StatusGone:
			return &goneError{status: status}
		case status == fasthttp.StatusNoContent:
			return nil
		case status >= 200 && status < 300:
			if out != nil {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode serveme response: %w", err)
				}
			}
			return nil
		case status >= 500:
			lastErr = fmt.Errorf("serveme api error: status=%d body=%s", status, truncate(resp.Body(), 512))
			if attempt == attempts {
				break
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return fmt.Errorf("%w: %v", domain.ErrReservationUnavailable, lastErr)
			}
			continue
		default:
			// 4xx other than not-found is not retryable.
			return fmt.Errorf("%w: serveme api error: status=%d body=%s",
				domain.ErrReservationUnavailable, status, truncate(resp.Body(), 512))
		}
		break
	}
	return fmt.Errorf("%w: %v", domain.ErrReservationUnavailable, lastErr)
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
	d := time.Duration(1<<uint(attempt-1)) * backoffBase // 1s, 2s, 4s ...
	if d > backoffCap {
		return backoffCap
	}
	return d
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}

// PickServer returns the first server whose address starts with one of the
// preferred prefixes, falling back to the first candidate.
func PickServer(servers []Server, prefixes []string) (Server, bool) {
	if len(servers) == 0 {
		return Server{}, false
	}
	for _, p := range prefixes {
		for _, s := range servers {
			if strings.HasPrefix(s.Address, p) {
				return s, true
			}
		}
	}
	return servers[0], true
}
