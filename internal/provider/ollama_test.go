package provider

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"chatrelay/internal/domain"
)

func testOllamaLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func generateFrom(t *testing.T, body string, status int) (string, error) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	o := NewOllamaWithClient(srv.Client(), testOllamaLogger())
	return o.Generate(context.Background(), GenerateRequest{
		Endpoint: srv.URL,
		Model:    "mistral",
		Prompt:   "Hi",
		Timeout:  5 * time.Second,
	})
}

func TestGenerate_DirectResponseField(t *testing.T) {
	text, err := generateFrom(t, `{"response":"Hello!"}`, http.StatusOK)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hello!" {
		t.Errorf("got %q, want Hello!", text)
	}
}

func TestGenerate_ChatCompletionMessageShape(t *testing.T) {
	text, err := generateFrom(t, `{"choices":[{"message":{"content":"Hi there"}}]}`, http.StatusOK)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hi there" {
		t.Errorf("got %q, want Hi there", text)
	}
}

func TestGenerate_ChatCompletionTextShape(t *testing.T) {
	text, err := generateFrom(t, `{"choices":[{"text":"plain completion"}]}`, http.StatusOK)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "plain completion" {
		t.Errorf("got %q, want plain completion", text)
	}
}

func TestGenerate_BareTextField(t *testing.T) {
	text, err := generateFrom(t, `{"text":"fallback text"}`, http.StatusOK)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "fallback text" {
		t.Errorf("got %q, want fallback text", text)
	}
}

func TestGenerate_PrefersResponseOverChoices(t *testing.T) {
	text, err := generateFrom(t, `{"response":"primary","choices":[{"text":"secondary"}]}`, http.StatusOK)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "primary" {
		t.Errorf("got %q, want primary", text)
	}
}

func TestGenerate_BadSchema(t *testing.T) {
	_, err := generateFrom(t, `{"unexpected":"shape"}`, http.StatusOK)
	var infErr *domain.InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got: %v", err)
	}
	if infErr.Kind != domain.FailBadSchema {
		t.Errorf("expected bad_schema, got %s", infErr.Kind)
	}
}

func TestGenerate_NonJSONBody(t *testing.T) {
	_, err := generateFrom(t, `<html>tunnel error page</html>`, http.StatusOK)
	var infErr *domain.InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got: %v", err)
	}
	if infErr.Kind != domain.FailBadSchema {
		t.Errorf("expected bad_schema, got %s", infErr.Kind)
	}
}

func TestGenerate_Non2xxIsUnreachable(t *testing.T) {
	_, err := generateFrom(t, `model not found`, http.StatusNotFound)
	var infErr *domain.InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got: %v", err)
	}
	if infErr.Kind != domain.FailUnreachable {
		t.Errorf("expected unreachable, got %s", infErr.Kind)
	}
}

func TestGenerate_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	o := NewOllamaWithClient(nil, testOllamaLogger())
	_, err := o.Generate(context.Background(), GenerateRequest{
		Endpoint: url, Model: "mistral", Prompt: "Hi", Timeout: 2 * time.Second,
	})
	var infErr *domain.InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got: %v", err)
	}
	if infErr.Kind != domain.FailUnreachable {
		t.Errorf("expected unreachable, got %s", infErr.Kind)
	}
}

func TestGenerate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer srv.Close()

	o := NewOllamaWithClient(srv.Client(), testOllamaLogger())
	_, err := o.Generate(context.Background(), GenerateRequest{
		Endpoint: srv.URL, Model: "mistral", Prompt: "Hi", Timeout: 100 * time.Millisecond,
	})
	var infErr *domain.InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got: %v", err)
	}
	if infErr.Kind != domain.FailTimeout {
		t.Errorf("expected timeout, got %s", infErr.Kind)
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	o := NewOllamaWithClient(srv.Client(), testOllamaLogger())
	if err := o.Healthy(context.Background(), srv.URL); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestHealthy_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	o := NewOllamaWithClient(nil, testOllamaLogger())
	if err := o.Healthy(context.Background(), url); err == nil {
		t.Fatal("expected error for closed server")
	}
}
