package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/config"
	pkgerrors "github.com/coachly/fitcoach-backend/pkg/errors"
	"github.com/coachly/fitcoach-backend/pkg/logger"
)

const (
	defaultBaseURL = "https://api.paystack.co"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

var (
	errSecretKeyRequired = errors.New("paystack secret key is required")
	errLoggerRequired    = errors.New("paystack logger is required")
)

// APIError is a non-2xx answer from Paystack.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack: status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus lets error dumps report the upstream status.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Client is a thin wrapper over the Paystack REST API. Calls are single
// attempt and bounded by the configured timeout; the caller decides whether
// to retry.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
	logger    *logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient validates credentials and builds the client.
func NewClient(cfg config.PaystackConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretKeyRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:   baseURL,
		secretKey: secret,
		http:      &http.Client{Timeout: timeout},
		logger:    logg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SigningSecret returns the key Paystack signs webhooks with.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.secretKey
}

// InitializeTransaction starts a checkout and returns the hosted payment URL.
func (c *Client) InitializeTransaction(ctx context.Context, params InitializeParams) (*InitializeResult, error) {
	var out InitializeResult
	if err := c.do(ctx, "initialize_transaction", http.MethodPost, "/transaction/initialize", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSubscription creates a recurring subscription on a saved authorization.
func (c *Client) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	var out Subscription
	if err := c.do(ctx, "create_subscription", http.MethodPost, "/subscription", params, &out); err != nil {
		return nil, err
	}
	if out.SubscriptionCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paystack create subscription returned no subscription code")
	}
	return &out, nil
}

// FetchSubscription returns the remote state of one subscription.
func (c *Client) FetchSubscription(ctx context.Context, code string) (*Subscription, error) {
	if strings.TrimSpace(code) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription code is required")
	}
	var out Subscription
	if err := c.do(ctx, "fetch_subscription", http.MethodGet, "/subscription/"+url.PathEscape(code), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSubscriptions returns the subscriptions Paystack holds for a customer
// (customer id or code) and optionally a plan code.
func (c *Client) ListSubscriptions(ctx context.Context, customer, plan string) ([]Subscription, error) {
	q := url.Values{}
	if customer != "" {
		q.Set("customer", customer)
	}
	if plan != "" {
		q.Set("plan", plan)
	}
	path := "/subscription"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Subscription
	if err := c.do(ctx, "list_subscriptions", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DisableSubscription stops a remote subscription. Used to unwind a
// subscription created for a charge that lost the local uniqueness race.
func (c *Client) DisableSubscription(ctx context.Context, code, emailToken string) error {
	body := map[string]string{"code": code, "token": emailToken}
	return c.do(ctx, "disable_subscription", http.MethodPost, "/subscription/disable", body, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode paystack request")
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build paystack request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log(ctx, op, 0, time.Since(start), err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("paystack %s", op))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log(ctx, op, resp.StatusCode, time.Since(start), err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("read paystack %s response", op))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
		c.log(ctx, op, resp.StatusCode, time.Since(start), apiErr)
		return pkgerrors.Wrap(codeForStatus(resp.StatusCode), apiErr, fmt.Sprintf("paystack %s", op))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log(ctx, op, resp.StatusCode, time.Since(start), err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode paystack %s response", op))
	}
	if !env.Status {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: env.Message}
		c.log(ctx, op, resp.StatusCode, time.Since(start), apiErr)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, apiErr, fmt.Sprintf("paystack %s", op))
	}

	c.log(ctx, op, resp.StatusCode, time.Since(start), nil)
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode paystack %s data", op))
	}
	return nil
}

func codeForStatus(status int) pkgerrors.Code {
	if status == http.StatusNotFound {
		return pkgerrors.CodeNotFound
	}
	return pkgerrors.CodeDependency
}

func errorMessage(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		return env.Message
	}
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	return strings.TrimSpace(string(raw))
}

func (c *Client) log(ctx context.Context, op string, status int, elapsed time.Duration, err error) {
	if c.logger == nil {
		return
	}
	ctx = c.logger.WithFields(ctx, map[string]any{
		"operation":   op,
		"http_status": status,
		"duration_ms": elapsed.Milliseconds(),
	})
	if err != nil {
		c.logger.Error(ctx, "paystack request failed", err)
		return
	}
	c.logger.Debug(ctx, "paystack request completed")
}
