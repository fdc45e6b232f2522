// Package sync copies users between two SCIM services: a paged read of
// the source, upserts against the target keyed by userName, and
// optional deletion of target users the source no longer has.
package sync

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
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marcelom97/scimcore/scim"
)

// Client is a minimal SCIM 2.0 HTTP client covering the operations the
// syncer needs. Transient failures (network errors, 5xx, 429) are
// retried with exponential backoff; other SCIM errors are permanent.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient points a client at a SCIM base URL such as
// "https://idp.example.com/scim/v2". token, when non-empty, is sent as
// a bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ListUsers fetches one page of users.
func (c *Client) ListUsers(ctx context.Context, startIndex, count int) (*scim.ListResponse[scim.Resource], error) {
	query := url.Values{}
	query.Set("startIndex", strconv.Itoa(startIndex))
	query.Set("count", strconv.Itoa(count))

	var page scim.ListResponse[scim.Resource]
	err := c.do(ctx, http.MethodGet, "/Users?"+query.Encode(), nil, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// FindUserByUserName resolves a user by its userName, or nil when no
// user matches.
func (c *Client) FindUserByUserName(ctx context.Context, userName string) (scim.Resource, error) {
	query := url.Values{}
	query.Set("filter", fmt.Sprintf("userName eq %q", userName))

	var page scim.ListResponse[scim.Resource]
	if err := c.do(ctx, http.MethodGet, "/Users?"+query.Encode(), nil, &page); err != nil {
		return nil, err
	}
	if len(page.Resources) == 0 {
		return nil, nil
	}
	return page.Resources[0], nil
}

// CreateUser stores a new user and returns the created document.
func (c *Client) CreateUser(ctx context.Context, user scim.Resource) (scim.Resource, error) {
	var created scim.Resource
	if err := c.do(ctx, http.MethodPost, "/Users", user, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// ReplaceUser replaces the user with the given id.
func (c *Client) ReplaceUser(ctx context.Context, id string, user scim.Resource) (scim.Resource, error) {
	var updated scim.Resource
	if err := c.do(ctx, http.MethodPut, "/Users/"+url.PathEscape(id), user, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteUser removes the user with the given id.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/Users/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	operation := func() error {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("encode request: %w", err))
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/scim+json")
		if body != nil {
			req.Header.Set("Content-Type", "application/scim+json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			err := decodeError(resp)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return err
			}
			return backoff.Permanent(err)
		}

		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	return backoff.Retry(operation, policy)
}

func decodeError(resp *http.Response) error {
	var body scim.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Detail != "" {
		return scim.NewError(resp.StatusCode, body.Detail, body.ScimType)
	}
	return scim.NewError(resp.StatusCode, fmt.Sprintf("unexpected status %d", resp.StatusCode), "")
}
