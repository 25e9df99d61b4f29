package notify

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

// WebhookSender posts {"to","body"} as JSON to a relay that owns the actual provider.
type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url string, token string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *WebhookSender) ProviderID() string {
	return "webhook"
}

type webhookResponse struct {
	ID  string `json:"id"`
	SID string `json:"sid"`
}

func (s *WebhookSender) Send(ctx context.Context, message string, destination string) (string, error) {
	if s.url == "" {
		return "", errors.New("notify webhook url not configured")
	}
	raw, err := json.Marshal(map[string]string{
		"to":   destination,
		"body": message,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("notify webhook returned %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out webhookResponse
	if len(body) > 0 && json.Unmarshal(body, &out) == nil {
		if out.ID != "" {
			return out.ID, nil
		}
		return out.SID, nil
	}
	return "", nil
}
