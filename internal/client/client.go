package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"catalog-desk/internal/domain"

	"go.uber.org/zap"
)

// APIError is a non-2xx backend response. Validation/semantic failures carry
// the backend's message verbatim so the UI can surface it unchanged.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend responded %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsCanceled reports whether err stems from a cancelled request. Callers
// must treat cancellation as silence, never as a failure.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Client talks to the catalog backend over its REST surface. It is safe for
// concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a backend client. A zero timeout disables the client-side
// deadline (per-call contexts still apply).
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// do performs one JSON round trip. Non-2xx responses become *APIError with
// the backend's message extracted from whichever error envelope it used.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body, resp.StatusCode)}
		c.logger.Debug("backend error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return apiErr
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage digs the human-readable message out of the backend's error
// body, falling back to the status text.
func errorMessage(body io.Reader, status int) string {
	raw, err := io.ReadAll(io.LimitReader(body, 8<<10))
	if err != nil || len(raw) == 0 {
		return http.StatusText(status)
	}
	var envelope struct {
		Detail string `json:"detail"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		switch {
		case envelope.Detail != "":
			return envelope.Detail
		case envelope.Error.Message != "":
			return envelope.Error.Message
		case envelope.Message != "":
			return envelope.Message
		}
	}
	return http.StatusText(status)
}

// ListGroups fetches one page of groups matching the free-text query.
func (c *Client) ListGroups(ctx context.Context, query string, limit, offset int) (domain.Page, error) {
	params := url.Values{}
	if query != "" {
		params.Set("q", query)
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var page pageWire
	if err := c.do(ctx, http.MethodGet, "/api/products", params, nil, &page); err != nil {
		return domain.Page{}, err
	}
	return page.toDomain(), nil
}

// GetGroup fetches one group with all its variants.
func (c *Client) GetGroup(ctx context.Context, id string) (domain.ProductGroup, error) {
	var group groupWire
	if err := c.do(ctx, http.MethodGet, "/api/products/"+url.PathEscape(id), nil, nil, &group); err != nil {
		return domain.ProductGroup{}, err
	}
	return group.toDomain(), nil
}

// CreateGroup creates a new variant, inside an existing group when the
// payload names one, otherwise inside a fresh singleton group.
func (c *Client) CreateGroup(ctx context.Context, payload domain.CreateGroupPayload) (domain.ProductGroup, error) {
	var group groupWire
	if err := c.do(ctx, http.MethodPost, "/api/products", nil, payload, &group); err != nil {
		return domain.ProductGroup{}, err
	}
	return group.toDomain(), nil
}

// UpdateGroup renames a group and returns the server's authoritative copy.
func (c *Client) UpdateGroup(ctx context.Context, id, title string) (domain.ProductGroup, error) {
	body := map[string]string{"title": title}
	var group groupWire
	if err := c.do(ctx, http.MethodPut, "/api/products/"+url.PathEscape(id), nil, body, &group); err != nil {
		return domain.ProductGroup{}, err
	}
	return group.toDomain(), nil
}

// UpdateVariant replaces a variant's mutable fields and returns the server's
// authoritative copy of the whole group.
func (c *Client) UpdateVariant(ctx context.Context, groupID string, variant domain.ProductVariant) (domain.ProductGroup, error) {
	path := "/api/products/" + url.PathEscape(groupID) + "/variants/" + url.PathEscape(variant.ID)
	var group groupWire
	if err := c.do(ctx, http.MethodPut, path, nil, variant, &group); err != nil {
		return domain.ProductGroup{}, err
	}
	return group.toDomain(), nil
}

// DeleteVariant removes one variant. Deleting the last variant deletes the
// whole group server-side.
func (c *Client) DeleteVariant(ctx context.Context, groupID, variantID string) error {
	path := "/api/products/" + url.PathEscape(groupID) + "/variants/" + url.PathEscape(variantID)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// DeleteGroup removes a group and everything it owns.
func (c *Client) DeleteGroup(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/products/"+url.PathEscape(id), nil, nil, nil)
}

// MoveVariant reassigns a variant's owning group. The backend performs this
// as remove-then-add, so a failure here may leave the variant in limbo; the
// store verifies both sides afterwards.
func (c *Client) MoveVariant(ctx context.Context, groupID, variantID, targetGroupID string) error {
	params := url.Values{}
	params.Set("product_id", variantID)
	body := map[string]string{"target_group_id": targetGroupID}
	return c.do(ctx, http.MethodPost, "/api/groups/"+url.PathEscape(groupID)+"/move", params, body, nil)
}

// Reaggregate asks the backend to regroup the whole catalog at the given
// strictness (0..1).
func (c *Client) Reaggregate(ctx context.Context, strictness float64) error {
	params := url.Values{}
	params.Set("strictness", strconv.FormatFloat(strictness, 'f', -1, 64))
	return c.do(ctx, http.MethodPost, "/api/groups/reaggregate", params, nil, nil)
}

// ReaggregateSlice regroups only the named variants.
func (c *Client) ReaggregateSlice(ctx context.Context, productIDs []string, strictness float64) error {
	params := url.Values{}
	params.Set("strictness", strconv.FormatFloat(strictness, 'f', -1, 64))
	body := map[string][]string{"product_ids": productIDs}
	return c.do(ctx, http.MethodPost, "/api/groups/reaggregate-slice", params, body, nil)
}

// RateGroup records a user score for a group.
func (c *Client) RateGroup(ctx context.Context, id string, score float64) error {
	params := url.Values{}
	params.Set("score", strconv.FormatFloat(score, 'f', -1, 64))
	return c.do(ctx, http.MethodPost, "/api/groups/"+url.PathEscape(id)+"/rate", params, nil, nil)
}

// DownloadAggregated fetches the aggregated spreadsheet export, optionally
// restricted to a slice of variant ids.
func (c *Client) DownloadAggregated(ctx context.Context, sliceIDs []string) ([]byte, error) {
	endpoint := c.baseURL + "/api/download"
	if len(sliceIDs) > 0 {
		params := url.Values{}
		params.Set("slice_ids", strings.Join(sliceIDs, ","))
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body, resp.StatusCode)}
	}
	return io.ReadAll(resp.Body)
}
