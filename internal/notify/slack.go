// Package notify posts run reports to a Slack incoming webhook using
// Block Kit messages.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type textObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type block struct {
	Type string      `json:"type"`
	Text *textObject `json:"text,omitempty"`
}

// Message is a Block Kit message under construction.
type Message struct {
	blocks []block
	http   *http.Client
}

// NewMessage creates an empty message.
func NewMessage() *Message {
	return &Message{
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// AddHeader appends a plain-text header block.
func (m *Message) AddHeader(text string) *Message {
	m.blocks = append(m.blocks, block{
		Type: "header",
		Text: &textObject{Type: "plain_text", Text: text},
	})
	return m
}

// AddDivider appends a divider block.
func (m *Message) AddDivider() *Message {
	m.blocks = append(m.blocks, block{Type: "divider"})
	return m
}

// AddSection appends a markdown section block.
func (m *Message) AddSection(text string) *Message {
	m.blocks = append(m.blocks, block{
		Type: "section",
		Text: &textObject{Type: "mrkdwn", Text: text},
	})
	return m
}

// Post sends the message to the webhook. A non-2xx response is an
// error; there is no retry.
func (m *Message) Post(ctx context.Context, webhook string) error {
	payload, err := json.Marshal(map[string]any{"blocks": m.blocks})
	if err != nil {
		return fmt.Errorf("encoding slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, body)
	}

	return nil
}
