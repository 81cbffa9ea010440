// Package captions calls the external captioning service that writes a caption and
// hashtags for a media reference.
package captions

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

var ErrNotConfigured = errors.New("caption service not configured")

type Result struct {
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
}

// Generator is what the caption job needs from this package.
type Generator interface {
	Generate(ctx context.Context, mediaRef, userID string) (*Result, error)
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:   strings.TrimSpace(token),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	MediaRef string `json:"mediaRef"`
	UserID   string `json:"userId,omitempty"`
}

// Generate asks the service for a caption. Any non-2xx response or an empty caption is an
// error so the job queue retries it.
func (c *Client) Generate(ctx context.Context, mediaRef, userID string) (*Result, error) {
	if c == nil || c.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	payload, err := json.Marshal(generateRequest{MediaRef: mediaRef, UserID: userID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/captions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := string(body)
		if len(msg) > 400 {
			msg = msg[:400]
		}
		return nil, fmt.Errorf("caption_service_non_2xx status=%d body=%s", res.StatusCode, msg)
	}
	var out Result
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode caption response: %w", err)
	}
	if strings.TrimSpace(out.Caption) == "" {
		return nil, errors.New("caption_service_empty_caption")
	}
	return &out, nil
}
