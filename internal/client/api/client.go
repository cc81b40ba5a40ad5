package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/pkg/errors"
)

// NetworkError means the request did not get a usable answer: transport
// failure, timeout, 5xx or 429. Callers treat it as retryable on the next tick.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a 4xx answer. Known codes unwrap to the model sentinels.
type HTTPError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d %s", e.Status, e.Code)
}

func (e *HTTPError) Unwrap() error {
	switch e.Code {
	case "invalid_transition":
		return models.ErrInvalidTransition
	case "already_assigned":
		return models.ErrAlreadyAssigned
	case "not_order_courier":
		return models.ErrNotOrderCourier
	case "not_order_customer":
		return models.ErrNotOrderCustomer
	case "order_not_found":
		return models.ErrOrderNotFound
	case "invalid_request":
		return models.ErrInvalidInput
	}
	return nil
}

// Client is the authenticated HTTP client both device roles use.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithHTTPClient replaces the underlying client. Streams need one without a
// global timeout.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.httpc = h
	}
	return c
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := checkResponse(op, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: op, Err: errors.Wrap(err, "decode")}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func checkResponse(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &NetworkError{Op: op, Status: resp.StatusCode}
	}
	he := &HTTPError{}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(he)
	he.Status = resp.StatusCode
	return he
}

func (c *Client) UploadLocation(ctx context.Context, sample models.LocationSample) error {
	return c.Post(ctx, "/v1/couriers/me/location", sample, nil)
}

func (c *Client) FetchSnapshot(ctx context.Context, orderID int64) (*models.TrackingSnapshot, error) {
	var snap models.TrackingSnapshot
	if err := c.Get(ctx, fmt.Sprintf("/v1/orders/%d/tracking", orderID), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var o models.Order
	if err := c.Get(ctx, fmt.Sprintf("/v1/orders/%d", orderID), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	var o models.Order
	if err := c.Post(ctx, "/v1/orders", in, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) Accept(ctx context.Context, orderID int64) (*models.Order, error) {
	var o models.Order
	if err := c.Post(ctx, fmt.Sprintf("/v1/orders/%d/accept", orderID), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) Advance(ctx context.Context, orderID int64, target models.Status) (*models.Order, error) {
	var o models.Order
	body := map[string]models.Status{"status": target}
	if err := c.Post(ctx, fmt.Sprintf("/v1/orders/%d/status", orderID), body, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) Cancel(ctx context.Context, orderID int64) (*models.Order, error) {
	var o models.Order
	if err := c.Post(ctx, fmt.Sprintf("/v1/orders/%d/cancel", orderID), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
