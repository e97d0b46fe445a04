// Package client talks to a running stepwise server.
package client

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

	"github.com/lazypower/stepwise/internal/engine"
	apperrors "github.com/lazypower/stepwise/internal/errors"
	"github.com/lazypower/stepwise/internal/server"
	"github.com/lazypower/stepwise/internal/step"
	"github.com/lazypower/stepwise/internal/store"
)

// Client talks to the stepwise HTTP API.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for the server at serverURL.
func New(serverURL string, timeout time.Duration) *Client {
	return &Client{
		http:      &http.Client{Timeout: timeout},
		serverURL: strings.TrimRight(serverURL, "/"),
	}
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Code    apperrors.Code    `json:"code"`
	Message string            `json:"error"`
	Fields  map[string]string `json:"fields"`
	Input   map[string]string `json:"input"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// Unwrap exposes the server's error code to apperrors.IsCode.
func (e *APIError) Unwrap() error {
	return apperrors.New(e.Code, e.Message).WithMetadata(e.Fields)
}

// ListOptions filters ListSteps. Zero values use server defaults.
type ListOptions struct {
	Limit    int
	Template string
	Policy   step.Policy
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Evaluate runs values through a template without saving.
func (c *Client) Evaluate(ctx context.Context, templateID string, values map[string]string) (*engine.Result, error) {
	return c.submit(ctx, "/api/templates/"+url.PathEscape(templateID)+"/evaluate", values)
}

// SubmitStep evaluates values and appends the step to the log.
func (c *Client) SubmitStep(ctx context.Context, templateID string, values map[string]string) (*engine.Result, error) {
	return c.submit(ctx, "/api/templates/"+url.PathEscape(templateID)+"/steps", values)
}

// Resubmit runs a logged step's values again and saves the new step.
func (c *Client) Resubmit(ctx context.Context, id int64) (*engine.Result, error) {
	var res engine.Result
	if err := c.do(ctx, http.MethodPost, "/api/steps/"+strconv.FormatInt(id, 10)+"/resubmit", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListSteps returns recent steps, newest first.
func (c *Client) ListSteps(ctx context.Context, opts ListOptions) (*server.StepList, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Template != "" {
		q.Set("template", opts.Template)
	}
	if opts.Policy != "" {
		q.Set("policy", string(opts.Policy))
	}
	path := "/api/steps"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list server.StepList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetStep returns one step, or nil if the server has no such id.
func (c *Client) GetStep(ctx context.Context, id int64) (*store.StepEntry, error) {
	var entry store.StepEntry
	err := c.do(ctx, http.MethodGet, "/api/steps/"+strconv.FormatInt(id, 10), nil, &entry)
	if apperrors.IsCode(err, apperrors.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) submit(ctx context.Context, path string, values map[string]string) (*engine.Result, error) {
	body, err := json.Marshal(map[string]any{"values": values})
	if err != nil {
		return nil, fmt.Errorf("encode values: %w", err)
	}
	var res engine.Result
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, rd)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return fmt.Errorf("%s %s: %w", method, path, apiErr)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}
