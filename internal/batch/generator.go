// Package batch runs prompt templates through the inference backend in bulk
// and collects the tagged CSV output, one run per configured language.
package batch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chatrelay/internal/config"
	"chatrelay/internal/provider"
)

const (
	serverWaitAttempts = 5
	serverWaitDelay    = 2 * time.Second
)

// LanguagePrompts is one language's template pair from the prompts file.
type LanguagePrompts struct {
	SystemPrompt string `yaml:"system_prompt"`
	UserPrompt   string `yaml:"user_prompt"`
}

// PromptSet maps language name to its templates.
type PromptSet map[string]LanguagePrompts

// LoadPrompts reads the YAML prompts file.
func LoadPrompts(path string) (PromptSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	var set PromptSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse prompts file: %w", err)
	}
	if len(set) == 0 {
		return nil, errors.New("prompts file defines no languages")
	}
	return set, nil
}

// Params are substituted into the user prompt templates.
type Params struct {
	Issues string
	Tone   string
}

// Backend is the slice of the inference client the generator needs.
type Backend interface {
	Generate(ctx context.Context, req provider.GenerateRequest) (string, error)
	Healthy(ctx context.Context, endpoint string) error
}

// Table is the combined CSV output across languages.
type Table struct {
	Header []string
	Rows   [][]string
}

// WriteFile writes the table as CSV.
func (t *Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		return err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Generator drives the batch run.
type Generator struct {
	backend Backend
	logger  *slog.Logger
}

func New(backend Backend, logger *slog.Logger) *Generator {
	return &Generator{backend: backend, logger: logger}
}

// WaitForServer polls the backend until it answers or attempts run out.
func (g *Generator) WaitForServer(ctx context.Context, endpoint string) error {
	var lastErr error
	for attempt := 1; attempt <= serverWaitAttempts; attempt++ {
		if err := g.backend.Healthy(ctx, endpoint); err == nil {
			return nil
		} else {
			lastErr = err
		}
		g.logger.Info("waiting for inference server", "attempt", attempt, "of", serverWaitAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(serverWaitDelay):
		}
	}
	return fmt.Errorf("inference server not ready after %d attempts: %w", serverWaitAttempts, lastErr)
}

// Run executes every language's templates and merges the results. A failing
// language is logged and skipped; the run fails only when nothing succeeds.
func (g *Generator) Run(ctx context.Context, cfg *config.Config, prompts PromptSet, params Params) (*Table, error) {
	languages := make([]string, 0, len(prompts))
	for lang := range prompts {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	table := &Table{}
	for _, lang := range languages {
		p := prompts[lang]
		user := Substitute(p.UserPrompt, params, lang)
		rendered := p.SystemPrompt + "\n\n" + user

		g.logger.Info("generating comments", "language", lang)
		response, err := g.backend.Generate(ctx, provider.GenerateRequest{
			Endpoint: cfg.InferenceEndpoint,
			Model:    cfg.Model,
			Prompt:   rendered,
			Timeout:  cfg.InferenceTimeout,
		})
		if err != nil {
			g.logger.Warn("generation failed for language", "language", lang, "err", err)
			continue
		}

		block, err := ExtractComments(response)
		if err != nil {
			g.logger.Warn("no comments block in response", "language", lang, "err", err)
			continue
		}
		header, rows, err := parseCSV(block)
		if err != nil {
			g.logger.Warn("unparseable CSV in response", "language", lang, "err", err)
			continue
		}

		if len(table.Header) == 0 {
			table.Header = append(header, "language")
		}
		for _, row := range rows {
			table.Rows = append(table.Rows, append(row, lang))
		}
	}

	if len(table.Rows) == 0 {
		return nil, errors.New("no comments were generated")
	}
	return table, nil
}

// Substitute fills the template placeholders the prompts file uses.
func Substitute(tmpl string, params Params, language string) string {
	variant := ""
	if language == "english" {
		variant = "American English"
	}
	out := strings.ReplaceAll(tmpl, "{$ISSUES}", params.Issues)
	out = strings.ReplaceAll(out, "{$TONE_AND_MOOD}", params.Tone)
	out = strings.ReplaceAll(out, "{$ENGLISH_VARIANT}", variant)
	return out
}

// ExtractComments pulls the CSV block from between <comments> tags.
func ExtractComments(response string) (string, error) {
	const openTag, closeTag = "<comments>", "</comments>"
	start := strings.Index(response, openTag)
	end := strings.Index(response, closeTag)
	if start == -1 || end == -1 || end < start {
		return "", errors.New("could not find comments section in response")
	}
	return strings.TrimSpace(response[start+len(openTag) : end]), nil
}

func parseCSV(content string) ([]string, [][]string, error) {
	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) < 2 {
		return nil, nil, errors.New("CSV block has no data rows")
	}
	header := records[0]
	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		// Ragged rows are padded/truncated to the header width.
		row := make([]string, len(header))
		copy(row, rec)
		rows = append(rows, row)
	}
	return header, rows, nil
}
