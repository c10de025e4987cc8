package batch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/provider"
)

func testBatchLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeBackend struct {
	responses map[string]string // keyed by a substring of the prompt
	errFor    map[string]error
	healthy   error
	prompts   []string
}

func (f *fakeBackend) Generate(_ context.Context, req provider.GenerateRequest) (string, error) {
	f.prompts = append(f.prompts, req.Prompt)
	for key, err := range f.errFor {
		if strings.Contains(req.Prompt, key) {
			return "", err
		}
	}
	for key, resp := range f.responses {
		if strings.Contains(req.Prompt, key) {
			return resp, nil
		}
	}
	return "", errors.New("no canned response")
}

func (f *fakeBackend) Healthy(_ context.Context, _ string) error { return f.healthy }

func batchConfig() *config.Config {
	return &config.Config{
		InferenceEndpoint: "http://localhost:11434",
		Model:             "mistral",
		InferenceTimeout:  time.Minute,
	}
}

func TestExtractComments(t *testing.T) {
	block, err := ExtractComments("preamble\n<comments>\nid,text\n1,hello\n</comments>\ntrailer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block != "id,text\n1,hello" {
		t.Errorf("block = %q", block)
	}
}

func TestExtractComments_MissingTags(t *testing.T) {
	for _, response := range []string{
		"no tags at all",
		"<comments>never closed",
		"</comments>only closed<comments>",
	} {
		if _, err := ExtractComments(response); err == nil {
			t.Errorf("expected error for %q", response)
		}
	}
}

func TestSubstitute(t *testing.T) {
	tmpl := "Issues: {$ISSUES}. Tone: {$TONE_AND_MOOD}. Variant: {$ENGLISH_VARIANT}."
	params := Params{Issues: "billing", Tone: "frustrated"}

	got := Substitute(tmpl, params, "english")
	want := "Issues: billing. Tone: frustrated. Variant: American English."
	if got != want {
		t.Errorf("english: got %q, want %q", got, want)
	}

	got = Substitute(tmpl, params, "german")
	want = "Issues: billing. Tone: frustrated. Variant: ."
	if got != want {
		t.Errorf("german: got %q, want %q", got, want)
	}
}

func TestLoadPrompts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := `english:
  system_prompt: "You write customer comments."
  user_prompt: "Write comments about {$ISSUES}."
german:
  system_prompt: "Du schreibst Kundenkommentare."
  user_prompt: "Schreibe Kommentare."
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := LoadPrompts(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("got %d languages, want 2", len(set))
	}
	if set["english"].SystemPrompt != "You write customer comments." {
		t.Errorf("english system prompt = %q", set["english"].SystemPrompt)
	}
}

func TestLoadPrompts_Missing(t *testing.T) {
	if _, err := LoadPrompts(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadPrompts_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPrompts(path); err == nil {
		t.Fatal("expected error for empty prompts file")
	}
}

func TestRun_MergesLanguages(t *testing.T) {
	backend := &fakeBackend{responses: map[string]string{
		"english-marker": "<comments>\nid,text\n1,great service\n2,quick fix\n</comments>",
		"german-marker":  "<comments>\nid,text\n1,sehr gut\n</comments>",
	}}
	prompts := PromptSet{
		"english": {SystemPrompt: "sys", UserPrompt: "english-marker {$ISSUES}"},
		"german":  {SystemPrompt: "sys", UserPrompt: "german-marker {$ISSUES}"},
	}

	gen := New(backend, testBatchLogger())
	table, err := gen.Run(context.Background(), batchConfig(), prompts, Params{Issues: "login", Tone: "calm"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Header) != 3 || table.Header[2] != "language" {
		t.Errorf("header = %v", table.Header)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(table.Rows))
	}
	// Languages run in sorted order, so english rows come first.
	if table.Rows[0][2] != "english" || table.Rows[2][2] != "german" {
		t.Errorf("rows = %v", table.Rows)
	}
}

func TestRun_SkipsFailingLanguage(t *testing.T) {
	backend := &fakeBackend{
		responses: map[string]string{"german-marker": "<comments>\nid,text\n1,sehr gut\n</comments>"},
		errFor:    map[string]error{"english-marker": errors.New("model crashed")},
	}
	prompts := PromptSet{
		"english": {UserPrompt: "english-marker"},
		"german":  {UserPrompt: "german-marker"},
	}

	gen := New(backend, testBatchLogger())
	table, err := gen.Run(context.Background(), batchConfig(), prompts, Params{})
	if err != nil {
		t.Fatalf("one failing language must not fail the run: %v", err)
	}
	if len(table.Rows) != 1 || table.Rows[0][1] != "sehr gut" {
		t.Errorf("rows = %v", table.Rows)
	}
}

func TestRun_AllFail(t *testing.T) {
	backend := &fakeBackend{errFor: map[string]error{"": errors.New("down")}}
	prompts := PromptSet{"english": {UserPrompt: "anything"}}

	gen := New(backend, testBatchLogger())
	if _, err := gen.Run(context.Background(), batchConfig(), prompts, Params{}); err == nil {
		t.Fatal("expected error when no language produces rows")
	}
}

func TestRun_PadsRaggedRows(t *testing.T) {
	backend := &fakeBackend{responses: map[string]string{
		"marker": "<comments>\nid,text,rating\n1,short row\n</comments>",
	}}
	prompts := PromptSet{"english": {UserPrompt: "marker"}}

	gen := New(backend, testBatchLogger())
	table, err := gen.Run(context.Background(), batchConfig(), prompts, Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 3 header columns + language column; the short row is padded.
	if len(table.Rows[0]) != 4 {
		t.Errorf("row = %v", table.Rows[0])
	}
	if table.Rows[0][2] != "" {
		t.Errorf("missing field should pad to empty, got %q", table.Rows[0][2])
	}
}

func TestWaitForServer_Ready(t *testing.T) {
	gen := New(&fakeBackend{}, testBatchLogger())
	if err := gen.WaitForServer(context.Background(), "http://localhost:11434"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForServer_Canceled(t *testing.T) {
	gen := New(&fakeBackend{healthy: errors.New("refused")}, testBatchLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gen.WaitForServer(ctx, "http://localhost:11434"); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestTableWriteFile(t *testing.T) {
	table := &Table{
		Header: []string{"id", "text", "language"},
		Rows:   [][]string{{"1", "hello", "english"}},
	}
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := table.WriteFile(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "id,text,language\n1,hello,english\n" {
		t.Errorf("file = %q", string(data))
	}
}
