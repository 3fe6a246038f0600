package mercadopago

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

	pkgerrors "github.com/verdeviva/verdeviva-backend/pkg/errors"
)

const (
	defaultBaseURL             = "https://api.mercadopago.com"
	defaultTimeout             = 10 * time.Second
	errorBodyReadLimit   int64 = 1024
	searchResultPageSize       = 50
)

var (
	errAccessTokenRequired = errors.New("mercado pago access token is required")
)

// Client wraps the Mercado Pago REST endpoints used by payment
// reconciliation: payment lookups, preapproval lookups/search and
// preapproval status updates.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL. Used for tests and sandboxes.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient builds the Mercado Pago client given an access token.
func NewClient(accessToken string, opts ...Option) (*Client, error) {
	trimmedToken := strings.TrimSpace(accessToken)
	if trimmedToken == "" {
		return nil, errAccessTokenRequired
	}

	client := &Client{
		accessToken: trimmedToken,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// GetPayment fetches a payment by provider ID.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	trimmed := strings.TrimSpace(paymentID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment ID is required")
	}

	var payment Payment
	if err := c.doJSON(ctx, http.MethodGet, "v1/payments/"+url.PathEscape(trimmed), nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPreapproval fetches a preapproval (recurring agreement) by provider ID.
func (c *Client) GetPreapproval(ctx context.Context, preapprovalID string) (*Preapproval, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	trimmed := strings.TrimSpace(preapprovalID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "preapproval ID is required")
	}

	var preapproval Preapproval
	if err := c.doJSON(ctx, http.MethodGet, "preapproval/"+url.PathEscape(trimmed), nil, &preapproval); err != nil {
		return nil, err
	}
	return &preapproval, nil
}

// SearchPreapprovals queries preapprovals by external reference.
func (c *Client) SearchPreapprovals(ctx context.Context, externalReference string) ([]Preapproval, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	trimmed := strings.TrimSpace(externalReference)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}

	query := url.Values{}
	query.Set("external_reference", trimmed)
	query.Set("limit", fmt.Sprint(searchResultPageSize))

	var result preapprovalSearchResult
	if err := c.doJSON(ctx, http.MethodGet, "preapproval/search?"+query.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return result.Results, nil
}

// UpdatePreapprovalStatus pushes a status change (paused, cancelled,
// authorized) to the provider. Mirroring local lifecycle changes is best
// effort, the caller decides whether a failure matters.
func (c *Client) UpdatePreapprovalStatus(ctx context.Context, preapprovalID string, status string) (*Preapproval, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	trimmed := strings.TrimSpace(preapprovalID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "preapproval ID is required")
	}
	if strings.TrimSpace(status) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status is required")
	}

	payload := map[string]string{"status": status}
	var preapproval Preapproval
	if err := c.doJSON(ctx, http.MethodPut, "preapproval/"+url.PathEscape(trimmed), payload, &preapproval); err != nil {
		return nil, err
	}
	return &preapproval, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal mercado pago request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build mercado pago request")
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute mercado pago request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return pkgerrors.New(pkgerrors.CodeNotFound, "mercado pago resource not found")
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "mercado pago request failed")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode mercado pago response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
