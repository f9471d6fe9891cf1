package accounting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harborline/crm-platform/pkg/logging"
)

// Config controls how the accounting API client behaves.
type Config struct {
	BaseURL     string
	RealmID     string
	Credentials CredentialStore
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *logging.Logger
}

// Client wraps the accounting provider's REST endpoints this service reads.
// It only reads the documented fields and maps every non-2xx response into
// the package error taxonomy.
type Client struct {
	baseURL    string
	realmID    string
	creds      CredentialStore
	httpClient *http.Client
	logger     *logging.Logger
}

func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" || strings.TrimSpace(cfg.RealmID) == "" {
		return nil, ErrConfigMissing
	}
	if cfg.Credentials == nil {
		return nil, ErrNotConnected
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    baseURL,
		realmID:    cfg.RealmID,
		creds:      cfg.Credentials,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// GetCustomer fetches one customer by provider ID.
func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var out Customer
	if err := c.get(ctx, "/customers/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetInvoice fetches one invoice by provider ID.
func (c *Client) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	var out Invoice
	if err := c.get(ctx, "/invoices/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPayment fetches one payment by provider ID.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var out Payment
	if err := c.get(ctx, "/payments/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type page[T any] struct {
	Items         []T `json:"items"`
	StartPosition int `json:"start_position"`
	MaxResults    int `json:"max_results"`
}

// QueryCustomers pages through the full customer set.
func (c *Client) QueryCustomers(ctx context.Context, startPosition, maxResults int) ([]Customer, error) {
	var out page[Customer]
	if err := c.get(ctx, "/customers", pageQuery(startPosition, maxResults), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// QueryInvoices pages through the full invoice set.
func (c *Client) QueryInvoices(ctx context.Context, startPosition, maxResults int) ([]Invoice, error) {
	var out page[Invoice]
	if err := c.get(ctx, "/invoices", pageQuery(startPosition, maxResults), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// QueryPayments pages through the full payment set.
func (c *Client) QueryPayments(ctx context.Context, startPosition, maxResults int) ([]Payment, error) {
	var out page[Payment]
	if err := c.get(ctx, "/payments", pageQuery(startPosition, maxResults), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func pageQuery(startPosition, maxResults int) url.Values {
	q := url.Values{}
	q.Set("startPosition", strconv.Itoa(startPosition))
	q.Set("maxResults", strconv.Itoa(maxResults))
	return q
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	token, err := c.creds.AccessToken(ctx)
	if err != nil {
		return err
	}
	fullURL := c.baseURL + "/" + url.PathEscape(c.realmID) + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("accounting: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("accounting: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("accounting: read response: %w", err)
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("accounting: decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrNotConnected, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	default:
		c.logger.Warn("accounting API error response", "path", path, "status", resp.StatusCode)
		return &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
}
