package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

const telegramAPI = "https://api.telegram.org"

// Telegram posts Markdown messages through the Bot API.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegram creates a Telegram sink. baseURL may be empty.
func NewTelegram(token, chatID, baseURL string, client *http.Client) *Telegram {
	if baseURL == "" {
		baseURL = telegramAPI
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Telegram{token: token, chatID: chatID, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       msg.Text(),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/bot"+t.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}
