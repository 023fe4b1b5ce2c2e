// Package graph walks a Microsoft Graph tenant's Teams hierarchy and
// streams file content out of channel document libraries.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"teams_archiver/internal/config"
	"teams_archiver/internal/domain"
)

// ErrCredentialExpired marks a 401 from the remote. The bearer credential
// is injected read-only; refreshing it is an external concern, so the
// client gives up immediately instead of retrying a dead token.
var ErrCredentialExpired = errors.New("bearer credential expired")

// apiError is a non-2xx Graph response.
type apiError struct {
	Status int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("graph api status %d", e.Status)
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, status int) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Status == status
}

// Client is a thin wrapper around the Graph REST API. It retries rate
// limits and network failures with exponential backoff, honoring the
// Retry-After hint when the remote supplies one and falling back to the
// default backoff when it does not.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

func NewClient(cfg config.GraphConfig, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		token:          cfg.Token,
		maxAttempts:    cfg.Retry.MaxAttempts,
		initialBackoff: cfg.Retry.InitialBackoff,
		maxBackoff:     cfg.Retry.MaxBackoff,
		logger:         logger.With("component", "graph"),
	}
}

func (c *Client) ListJoinedTeams(ctx context.Context) ([]Team, error) {
	return decodePages[Team](c.listPages(ctx, c.baseURL+"/me/joinedTeams"))
}

func (c *Client) ListChannels(ctx context.Context, teamID string) ([]Channel, error) {
	return decodePages[Channel](c.listPages(ctx, fmt.Sprintf("%s/teams/%s/channels", c.baseURL, teamID)))
}

// GetPrimaryChannel returns the team's General channel. Fallback for
// education tenants where the channels list is restricted for
// student-role members even when they can see the team.
func (c *Client) GetPrimaryChannel(ctx context.Context, teamID string) (*Channel, error) {
	var channel Channel
	if err := c.getJSON(ctx, fmt.Sprintf("%s/teams/%s/primaryChannel", c.baseURL, teamID), &channel); err != nil {
		return nil, err
	}
	return &channel, nil
}

func (c *Client) ListTeamMembers(ctx context.Context, teamID string) ([]Member, error) {
	return decodePages[Member](c.listPages(ctx, fmt.Sprintf("%s/teams/%s/members", c.baseURL, teamID)))
}

// GetFilesFolder returns the root drive item of a channel's file library.
// The parent reference carries the drive id needed for walking.
func (c *Client) GetFilesFolder(ctx context.Context, teamID, channelID string) (*DriveItem, error) {
	var item DriveItem
	url := fmt.Sprintf("%s/teams/%s/channels/%s/filesFolder", c.baseURL, teamID, channelID)
	if err := c.getJSON(ctx, url, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) ListDriveChildren(ctx context.Context, driveID, itemID string) ([]DriveItem, error) {
	url := fmt.Sprintf("%s/drives/%s/items/%s/children", c.baseURL, driveID, itemID)
	return decodePages[DriveItem](c.listPages(ctx, url))
}

// Download opens a streaming reader over a file's bytes, following the
// redirect Graph returns for /content. The caller owns closing the body.
func (c *Client) Download(ctx context.Context, driveID, itemID string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/drives/%s/items/%s/content", c.baseURL, driveID, itemID)
	resp, err := c.doWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// listPages follows @odata.nextLink pages and concatenates all items.
func (c *Client) listPages(ctx context.Context, url string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	next := url
	for next != "" {
		var page struct {
			Value    []json.RawMessage `json:"value"`
			NextLink string            `json:"@odata.nextLink"`
		}
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Value...)
		next = page.NextLink
	}
	return items, nil
}

func decodePages[T any](raw []json.RawMessage, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, domain.NewError(domain.RemotePayloadError, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	resp, err := c.doWithRetry(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Errorf(domain.RemotePayloadError, "decode response from %s: %w", url, err)
	}
	return nil
}

// doWithRetry issues a GET and retries 429 and transient failures. A 429
// with a Retry-After hint waits that long; without one it uses the
// default backoff, since a missing hint is not a failure. A 401 aborts
// immediately: the credential is dead and retrying cannot revive it.
func (c *Client) doWithRetry(ctx context.Context, url string) (*http.Response, error) {
	backoff := c.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, retryAfter, err := c.do(ctx, url)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrCredentialExpired) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err

		kind := domain.KindOf(err)
		if !kind.Retryable() {
			return nil, err
		}
		if attempt == c.maxAttempts {
			break
		}

		wait := backoff
		if retryAfter > 0 {
			wait = retryAfter
		}
		c.logger.Warn("request failed, retrying",
			"url", url,
			"kind", string(kind),
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if retryAfter > backoff {
			backoff = retryAfter
		}
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}

	return nil, fmt.Errorf("request to %s failed after %d attempts: %w", url, c.maxAttempts, lastErr)
}

// do performs one attempt. retryAfter is nonzero only when the remote
// supplied a usable Retry-After hint.
func (c *Client) do(ctx context.Context, url string) (*http.Response, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, domain.Errorf(domain.RemoteUnavailable, "execute request: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		return nil, retryAfter, domain.NewError(domain.RemoteRateLimited, &apiError{Status: resp.StatusCode})
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, 0, domain.NewError(domain.RemoteUnavailable, ErrCredentialExpired)
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, 0, domain.NewError(domain.RemoteUnavailable, &apiError{Status: resp.StatusCode})
	default:
		resp.Body.Close()
		return nil, 0, domain.NewError(domain.RemotePayloadError, &apiError{Status: resp.StatusCode})
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
