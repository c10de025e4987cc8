// Package chatwoot implements the chat-platform client: conversation history
// retrieval and reply delivery against Chatwoot's account-scoped REST API.
package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/provider"
)

// ErrMissingAccountID means the reply was refused before any network I/O
// because the account is not configured.
var ErrMissingAccountID = errors.New("chatwoot: account ID not configured")

// HistoryRequest identifies a conversation whose messages to fetch.
// Credentials ride along so each call sees the live config.
type HistoryRequest struct {
	BaseURL        string
	APIToken       string
	AccountID      string
	ConversationID string
	Limit          int
	Timeout        time.Duration
}

// ReplyRequest carries one outgoing reply.
type ReplyRequest struct {
	BaseURL        string
	APIToken       string
	AccountID      string
	ConversationID string
	Content        string
	Timeout        time.Duration
}

// Client talks to the Chatwoot API.
type Client struct {
	client *http.Client
	logger *slog.Logger
}

func New(logger *slog.Logger) *Client {
	return &Client{client: provider.SharedHTTPClient(), logger: logger}
}

// NewWithClient is used by tests to inject a client.
func NewWithClient(client *http.Client, logger *slog.Logger) *Client {
	if client == nil {
		client = provider.SharedHTTPClient()
	}
	return &Client{client: client, logger: logger}
}

// messagesEnvelope is the wrapped form of the messages endpoint response.
// The platform has returned both a bare array and {payload:[...]}.
type messagesEnvelope struct {
	Payload []domain.RawMessage `json:"payload"`
}

// History fetches the conversation's messages and normalizes them into a
// transcript: whitespace-only content dropped, unknown message types dropped,
// truncated to the first Limit qualifying entries in API order. Ordering is
// taken as the platform returns it; no re-sorting happens here.
func (c *Client) History(ctx context.Context, req HistoryRequest) (domain.Transcript, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/api/v1/accounts/%s/conversations/%s/messages",
		strings.TrimRight(req.BaseURL, "/"), req.AccountID, req.ConversationID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("api_access_token", req.APIToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	messages, err := decodeMessages(raw)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	return Normalize(messages, req.Limit), nil
}

func decodeMessages(raw []byte) ([]domain.RawMessage, error) {
	var list []domain.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var env messagesEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unexpected messages payload: %w", err)
	}
	return env.Payload, nil
}

// Normalize filters raw messages into a transcript, stopping once limit
// qualifying entries have been taken.
func Normalize(messages []domain.RawMessage, limit int) domain.Transcript {
	if limit <= 0 {
		limit = 50
	}
	transcript := make(domain.Transcript, 0, min(limit, len(messages)))
	for _, m := range messages {
		if len(transcript) >= limit {
			break
		}
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch m.MessageType {
		case domain.MessageIncoming:
			transcript = append(transcript, domain.Entry{Role: domain.RoleUser, Text: text})
		case domain.MessageOutgoing:
			transcript = append(transcript, domain.Entry{Role: domain.RoleAssistant, Text: text})
		default:
			// Activity/template messages carry other type codes; skip them.
		}
	}
	return transcript
}

type replyBody struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// Reply posts the generated text back to the conversation as an outgoing
// message. Fails fast with ErrMissingAccountID when the account is not
// configured; any non-2xx or transport error is a failure. No retry.
func (c *Client) Reply(ctx context.Context, req ReplyRequest) error {
	if req.AccountID == "" {
		return ErrMissingAccountID
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(replyBody{Content: req.Content, MessageType: "outgoing"})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v1/accounts/%s/conversations/%s/messages",
		strings.TrimRight(req.BaseURL, "/"), req.AccountID, req.ConversationID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("api_access_token", req.APIToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send reply: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	c.logger.Info("reply sent", "conversation_id", req.ConversationID, "content_len", len(req.Content))
	return nil
}
