package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://graph.facebook.com/v17.0"
	messagingProduct = "whatsapp"
)

// sendRequest is the Cloud API body for a plain text message.
type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// sendResponse is the minimal response shape returned by the messages endpoint.
type sendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Messages         []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// AccessToken supplies the bearer credential for each request.
type AccessToken interface {
	Get(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx Graph API responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client posts outbound text messages through the WhatsApp Cloud API.
type Client struct {
	baseURL    string
	accountID  string
	httpClient *http.Client
	token      AccessToken
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client sending from the given business account id.
func NewClient(token AccessToken, accountID string, opts ...Option) (*Client, error) {
	if token == nil {
		return nil, errors.New("whatsapp: access token source must not be nil")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, errors.New("whatsapp: account id must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		accountID:  accountID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		token:      token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func messagesURL(baseURL, accountID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/" + accountID + "/messages"
}

// Send delivers text to the recipient and returns the platform message id.
func (c *Client) Send(ctx context.Context, to, text string) (string, error) {
	if strings.TrimSpace(to) == "" {
		return "", errors.New("whatsapp: recipient must not be empty")
	}

	token, err := c.token.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("whatsapp: resolve access token: %w", err)
	}

	body, err := json.Marshal(sendRequest{
		MessagingProduct: messagingProduct,
		To:               to,
		Text:             textBody{Body: text},
	})
	if err != nil {
		return "", fmt.Errorf("whatsapp: marshal request: %w", err)
	}

	url := messagesURL(c.baseURL, c.accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	var payload sendResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("whatsapp: decode response: %w", err)
	}
	if len(payload.Messages) == 0 {
		return "", nil
	}
	return payload.Messages[0].ID, nil
}
