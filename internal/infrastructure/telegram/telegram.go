package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"DealScanner/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Messenger sends and deletes Telegram channel messages through the Bot API.
type Messenger struct {
	apiBase string
	token   string
	client  *http.Client
	log     *slog.Logger
}

var _ ports.Messenger = (*Messenger)(nil)

// NewMessenger builds a Messenger for the given bot token.
func NewMessenger(token string, log *slog.Logger) *Messenger {
	return &Messenger{
		apiBase: defaultAPIBase,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With("component", "telegram"),
	}
}

// NewMessengerWithBase is NewMessenger with a custom API base URL for tests.
func NewMessengerWithBase(apiBase, token string, log *slog.Logger) *Messenger {
	m := NewMessenger(token, log)
	m.apiBase = apiBase
	return m
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type inlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Send posts a Markdown message with an optional link button. When the API
// refuses the Markdown entities it retries once as plain text rather than
// losing the alert.
func (m *Messenger) Send(ctx context.Context, chatID, text, link string) (int64, error) {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	if link != "" {
		payload["reply_markup"] = inlineKeyboard{InlineKeyboard: [][]inlineButton{{{Text: "Open deal", URL: link}}}}
	}

	id, status, err := m.sendMessage(ctx, "sendMessage", payload)
	if err != nil && status == http.StatusBadRequest {
		m.log.Warn("markdown rejected, retrying as plain text", "error", err)
		delete(payload, "parse_mode")
		id, _, err = m.sendMessage(ctx, "sendMessage", payload)
	}
	return id, err
}

// SendPhoto posts a photo with caption and one inline URL button.
func (m *Messenger) SendPhoto(ctx context.Context, chatID, photoURL, caption, buttonText, buttonURL string) (int64, error) {
	payload := map[string]any{
		"chat_id":    chatID,
		"photo":      photoURL,
		"caption":    caption,
		"parse_mode": "Markdown",
	}
	if buttonURL != "" {
		payload["reply_markup"] = inlineKeyboard{InlineKeyboard: [][]inlineButton{{{Text: buttonText, URL: buttonURL}}}}
	}

	id, status, err := m.sendMessage(ctx, "sendPhoto", payload)
	if err != nil && status == http.StatusBadRequest {
		m.log.Warn("markdown caption rejected, retrying as plain text", "error", err)
		delete(payload, "parse_mode")
		id, _, err = m.sendMessage(ctx, "sendPhoto", payload)
	}
	return id, err
}

func (m *Messenger) sendMessage(ctx context.Context, method string, payload map[string]any) (int64, int, error) {
	resp, status, err := m.call(ctx, method, payload)
	if err != nil {
		return 0, status, err
	}
	var msg sentMessage
	if err := json.Unmarshal(resp.Result, &msg); err != nil {
		return 0, status, fmt.Errorf("telegram: decode %s result: %w", method, err)
	}
	return msg.MessageID, status, nil
}

// Delete removes a channel message and classifies the outcome. A 400 or 403
// answer means the message is beyond deleting (already gone, too old, or
// permissions changed) and the queue entry is finished; anything transient
// asks for a retry on the next sweep.
func (m *Messenger) Delete(ctx context.Context, chatID string, messageID int64) ports.DeleteOutcome {
	_, status, err := m.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	switch {
	case err == nil:
		return ports.DeleteOK
	case status == http.StatusBadRequest || status == http.StatusForbidden:
		m.log.Info("message beyond deleting", "chat_id", chatID, "message_id", messageID, "status", status)
		return ports.DeleteGone
	default:
		m.log.Warn("delete failed, will retry", "chat_id", chatID, "message_id", messageID, "error", err)
		return ports.DeleteRetry
	}
}

func (m *Messenger) call(ctx context.Context, method string, payload map[string]any) (*apiResponse, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	url := fmt.Sprintf("%s/bot%s/%s", m.apiBase, m.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("telegram: %s: decode: %w", method, err)
	}
	if !parsed.OK {
		return nil, resp.StatusCode, fmt.Errorf("telegram: %s: api error %d: %s", method, parsed.ErrorCode, parsed.Description)
	}
	return &parsed, resp.StatusCode, nil
}
