package telephony

import (
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

	"github.com/harborline/crm-platform/pkg/logging"
)

var ErrConfigMissing = errors.New("telephony: configuration missing")

// UpstreamError is a non-2xx provider response.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("telephony: upstream status %d: %s", e.StatusCode, e.Body)
}

// CallRecord is a historical call as returned by the provider's REST API.
// The bulk importer replays these through the same lifecycle handlers the
// webhooks use.
type CallRecord struct {
	ID              string     `json:"id"`
	Direction       string     `json:"direction"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	AnsweredAt      *time.Time `json:"answered_at"`
	EndedAt         *time.Time `json:"ended_at"`
	DurationSeconds int        `json:"duration"`
	AgentID         string     `json:"agent_id"`
	AgentName       string     `json:"agent_name"`
	RecordingURL    string     `json:"recording_url"`
}

// MessageRecord is a historical message from the provider's REST API.
type MessageRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Direction      string    `json:"direction"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Body           string    `json:"body"`
	AgentID        string    `json:"agent_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Config controls the telephony REST client.
type Config struct {
	BaseURL    string
	APIKey     string
	PageSize   int
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client reads call and message history from the telephony provider.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	logger     *logging.Logger
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrConfigMissing
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
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
		apiKey:     cfg.APIKey,
		pageSize:   pageSize,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// PageSize reports the page length the client requests from the provider.
func (c *Client) PageSize() int { return c.pageSize }

type listEnvelope[T any] struct {
	Data []T `json:"data"`
	Meta struct {
		Page       int `json:"page"`
		PageSize   int `json:"page_size"`
		TotalPages int `json:"total_pages"`
	} `json:"meta"`
}

// ListCalls fetches one page of call history. The second return value reports
// whether more pages remain.
func (c *Client) ListCalls(ctx context.Context, page int) ([]CallRecord, bool, error) {
	var out listEnvelope[CallRecord]
	if err := c.get(ctx, "/calls", page, &out); err != nil {
		return nil, false, err
	}
	return out.Data, out.Meta.Page < out.Meta.TotalPages, nil
}

// ListMessages fetches one page of message history.
func (c *Client) ListMessages(ctx context.Context, page int) ([]MessageRecord, bool, error) {
	var out listEnvelope[MessageRecord]
	if err := c.get(ctx, "/messages", page, &out); err != nil {
		return nil, false, err
	}
	return out.Data, out.Meta.Page < out.Meta.TotalPages, nil
}

func (c *Client) get(ctx context.Context, path string, page int, out any) error {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(c.pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("telephony: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("telephony: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("telephony API error response", "path", path, "status", resp.StatusCode)
		return &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("telephony: decode response: %w", err)
	}
	return nil
}
