package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBase = "https://discord.com/api/v10"

// DiscordSender posts messages through the Discord REST API using a bot
// token.
type DiscordSender struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewDiscordSender creates a Discord sender. baseURL may be empty to use the
// public API.
func NewDiscordSender(baseURL, token string) (*DiscordSender, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is empty")
	}
	if baseURL == "" {
		baseURL = defaultAPIBase
	}
	return &DiscordSender{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

type createMessageRequest struct {
	Content string `json:"content"`
}

type createMessageResponse struct {
	ID string `json:"id"`
}

func (d *DiscordSender) Send(ctx context.Context, channelRef, content string) (string, error) {
	payload, err := json.Marshal(createMessageRequest{Content: content})
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}

	reqURL := fmt.Sprintf("%s/channels/%s/messages", d.baseURL, channelRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+d.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("discord api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var created createMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode discord response: %w", err)
	}
	return created.ID, nil
}
