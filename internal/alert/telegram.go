package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Telegram delivers alerts through the Telegram Bot API.
type Telegram struct {
	apiURL string
	chatID string
	client *http.Client
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// NewTelegram builds the provider. baseURL overrides the Telegram API host
// for tests; pass "" for production.
func NewTelegram(botToken, chatID, baseURL string) (*Telegram, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if chatID == "" {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	parts := strings.Split(botToken, ":")
	if len(parts) != 2 || len(parts[0]) < 8 {
		return nil, fmt.Errorf("invalid telegram bot token format")
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Telegram{
		apiURL: fmt.Sprintf("%s/bot%s", strings.TrimSuffix(baseURL, "/"), botToken),
		chatID: chatID,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func severityEmoji(severity Severity) string {
	switch severity {
	case SeverityCritical:
		return "🚨"
	case SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// Notify implements Notifier.
func (t *Telegram) Notify(ctx context.Context, message string, severity Severity) error {
	payload := telegramMessage{
		ChatID:                t.chatID,
		Text:                  fmt.Sprintf("%s %s", severityEmoji(severity), message),
		DisableWebPagePreview: true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	var decoded telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !decoded.OK {
		desc := decoded.Description
		if desc == "" {
			desc = "unknown error"
		}
		return fmt.Errorf("telegram API error: %s", desc)
	}
	return nil
}
