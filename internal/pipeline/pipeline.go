// Package pipeline orchestrates one webhook event end to end: filter, build
// context, infer, dispatch. Every invocation resolves to a terminal Result;
// no failure escapes as a panic or an unanswered conversation.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/chatwoot"
	"chatrelay/internal/config"
	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
	"chatrelay/internal/prompt"
	"chatrelay/internal/provider"
)

// apologyReply is dispatched whenever inference fails. The raw error never
// reaches the end user.
const apologyReply = "I apologize, but I'm having trouble generating a response right now. Please try again in a moment."

// ConfigSource yields the latest configuration; it is consulted once per
// invocation so administrative updates apply without a restart.
type ConfigSource interface {
	Get() (*config.Config, error)
}

// HistoryFetcher retrieves bounded prior context. Failures are non-fatal.
type HistoryFetcher interface {
	History(ctx context.Context, req chatwoot.HistoryRequest) (domain.Transcript, error)
}

// Generator produces reply text from a rendered prompt.
type Generator interface {
	Generate(ctx context.Context, req provider.GenerateRequest) (string, error)
}

// Dispatcher delivers the reply to the originating conversation.
type Dispatcher interface {
	Reply(ctx context.Context, req chatwoot.ReplyRequest) error
}

// Pipeline wires the collaborators together.
type Pipeline struct {
	config   ConfigSource
	history  HistoryFetcher
	llm      Generator
	dispatch Dispatcher
	logger   *slog.Logger
}

func New(cfg ConfigSource, history HistoryFetcher, llm Generator, dispatch Dispatcher, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		config:   cfg,
		history:  history,
		llm:      llm,
		dispatch: dispatch,
		logger:   logger,
	}
}

// Handle runs the state machine for one inbound event. Invocations are
// independent; concurrent deliveries of the same event are not deduplicated.
func (p *Pipeline) Handle(ctx context.Context, event domain.InboundEvent) domain.Result {
	metrics.WebhooksTotal.Inc()
	log := p.logger.With("request_id", uuid.NewString(), "conversation_id", event.ConversationID.String())

	// Filter stage: decide whether the event warrants a response at all.
	// Nothing leaves the process until these pass.
	if !strings.Contains(event.Event, "message_created") {
		metrics.IgnoredTotal.Inc()
		return ignored("not a message event")
	}
	if len(event.Messages) == 0 {
		metrics.PipelineErrors.Inc()
		return failed("no messages found")
	}
	latest := event.Messages[0]
	if latest.MessageType != domain.MessageIncoming {
		metrics.IgnoredTotal.Inc()
		return ignored("not an incoming message")
	}
	if event.ConversationID == "" || latest.Content == "" {
		metrics.PipelineErrors.Inc()
		return failed("missing required fields")
	}

	cfg, err := p.config.Get()
	if err != nil {
		log.Error("configuration unavailable", "err", err)
		metrics.PipelineErrors.Inc()
		return failed("configuration unavailable")
	}

	log.Info("processing message", "content_len", len(latest.Content), "created_at", int64(latest.CreatedAt))

	// Context stage: history is best-effort; the pipeline proceeds with an
	// empty transcript on any failure.
	var transcript domain.Transcript
	if cfg.HistoryEnabled {
		t, err := p.history.History(ctx, chatwoot.HistoryRequest{
			BaseURL:        cfg.BaseURL,
			APIToken:       cfg.APIToken,
			AccountID:      cfg.AccountID,
			ConversationID: event.ConversationID.String(),
			Limit:          cfg.HistoryLimit,
			Timeout:        cfg.PlatformTimeout,
		})
		if err != nil {
			metrics.HistoryFailures.Inc()
			log.Warn("history fetch failed, continuing without context", "err", err)
		} else {
			transcript = t
		}
	}

	rendered := prompt.Build(cfg.SystemMessage, transcript, latest.Content)

	// Inference stage: a reply is always produced, apologetic if need be.
	start := time.Now()
	reply, err := p.llm.Generate(ctx, provider.GenerateRequest{
		Endpoint: cfg.InferenceEndpoint,
		Model:    cfg.Model,
		Prompt:   rendered,
		Timeout:  cfg.InferenceTimeout,
	})
	metrics.InferenceLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.InferenceFailures.Inc()
		var infErr *domain.InferenceError
		if errors.As(err, &infErr) {
			log.Error("inference failed", "kind", infErr.Kind, "err", infErr.Err)
		} else {
			log.Error("inference failed", "err", err)
		}
		reply = apologyReply
	}

	// Dispatch stage: failure here is terminal.
	if err := p.dispatch.Reply(ctx, chatwoot.ReplyRequest{
		BaseURL:        cfg.BaseURL,
		APIToken:       cfg.APIToken,
		AccountID:      cfg.AccountID,
		ConversationID: event.ConversationID.String(),
		Content:        reply,
		Timeout:        cfg.PlatformTimeout,
	}); err != nil {
		metrics.PipelineErrors.Inc()
		log.Error("reply dispatch failed", "err", err)
		return failed("failed to send response")
	}

	metrics.RepliesTotal.Inc()
	log.Info("reply delivered", "reply_len", len(reply))
	return domain.Result{Status: domain.StatusSuccess, Message: "response sent"}
}

func ignored(reason string) domain.Result {
	return domain.Result{Status: domain.StatusIgnored, Reason: reason}
}

func failed(reason string) domain.Result {
	return domain.Result{Status: domain.StatusError, Reason: reason}
}
