// Package provider implements the client for the local inference backend.
// The backend speaks Ollama's /api/generate protocol, but responses are
// parsed tolerantly because tunneled deployments have been observed to
// return chat-completion-shaped bodies as well.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/domain"
)

const maxResponseBytes = 4 << 20 // 4MB

// GenerateRequest carries everything one inference call needs. Endpoint and
// model come from the live config so admin updates apply per request.
type GenerateRequest struct {
	Endpoint string
	Model    string
	Prompt   string
	Timeout  time.Duration
}

// Ollama calls the inference backend over HTTP. One attempt per request;
// retry policy belongs to callers.
type Ollama struct {
	client *http.Client
	logger *slog.Logger
}

func NewOllama(logger *slog.Logger) *Ollama {
	return &Ollama{client: SharedHTTPClient(), logger: logger}
}

// NewOllamaWithClient is used by tests to inject a client.
func NewOllamaWithClient(client *http.Client, logger *slog.Logger) *Ollama {
	if client == nil {
		client = SharedHTTPClient()
	}
	return &Ollama{client: client, logger: logger}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse covers the response shapes the backend has been seen to
// produce: Ollama's {response}, chat-completion {choices:[{message:{content}}]}
// or {choices:[{text}]}, and a bare {text}.
type generateResponse struct {
	Response string `json:"response"`
	Text     string `json:"text"`
	Choices  []struct {
		Text    string `json:"text"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends the rendered prompt to the backend and returns the plain
// reply text. All failures come back as a classified *domain.InferenceError;
// it never panics and never retries.
func (o *Ollama) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(generateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: false,
	})
	if err != nil {
		return "", &domain.InferenceError{Kind: domain.FailBadSchema, Err: err}
	}

	url := strings.TrimRight(req.Endpoint, "/") + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &domain.InferenceError{Kind: domain.FailUnreachable, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &domain.InferenceError{
			Kind: domain.FailUnreachable,
			Err:  fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", classifyTransport(err)
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &domain.InferenceError{Kind: domain.FailBadSchema, Err: err}
	}
	text, ok := extractText(parsed)
	if !ok {
		return "", &domain.InferenceError{
			Kind: domain.FailBadSchema,
			Err:  errors.New("no recognized text field in backend response"),
		}
	}

	o.logger.Debug("inference complete",
		"model", req.Model,
		"prompt_len", len(req.Prompt),
		"reply_len", len(text),
		"elapsed", time.Since(start),
	)
	return text, nil
}

// extractText walks the fallback chain: response, choices[0].message.content,
// choices[0].text, text.
func extractText(r generateResponse) (string, bool) {
	if r.Response != "" {
		return r.Response, true
	}
	if len(r.Choices) > 0 {
		if c := r.Choices[0].Message.Content; c != "" {
			return c, true
		}
		if c := r.Choices[0].Text; c != "" {
			return c, true
		}
	}
	if r.Text != "" {
		return r.Text, true
	}
	return "", false
}

func classifyTransport(err error) *domain.InferenceError {
	kind := domain.FailUnreachable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.FailTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = domain.FailTimeout
	}
	return &domain.InferenceError{Kind: kind, Err: err}
}

// Healthy probes the backend's tags endpoint. Used by the doctor command and
// the batch generator's wait loop.
func (o *Ollama) Healthy(ctx context.Context, endpoint string) error {
	url := strings.TrimRight(endpoint, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	return nil
}
