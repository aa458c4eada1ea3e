package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type TelegramNotifier struct {
	enabled bool
	chatID  string
	client  *resty.Client
}

func NewTelegramNotifier(enabled bool, botToken, chatID, baseURL string, timeout time.Duration) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/") + "/bot" + botToken).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	return &TelegramNotifier{
		enabled: enabled,
		chatID:  chatID,
		client:  client,
	}
}

type telegramSendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramSendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramNotifier) Notify(ctx context.Context, msg string) error {
	if t == nil || !t.enabled {
		return nil
	}
	var parsed telegramSendMessageResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(telegramSendMessageRequest{ChatID: t.chatID, Text: msg}).
		SetResult(&parsed).
		SetError(&parsed).
		Post("/sendMessage")
	if err != nil {
		return err
	}
	if resp.IsError() {
		desc := strings.TrimSpace(parsed.Description)
		if desc == "" {
			desc = strings.TrimSpace(resp.String())
		}
		return fmt.Errorf("telegram status=%d: %s", resp.StatusCode(), desc)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram api error: %s", strings.TrimSpace(parsed.Description))
	}
	return nil
}
