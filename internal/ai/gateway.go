package ai

import (
	"context"
	"strings"

	"github.com/xboty/ticketbot/internal/models"
	"go.uber.org/zap"
)

// Generator is the single call the gateway depends on. Provider-shape
// variance stays behind this boundary: implementations return plain
// text or an error, nothing else.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Config is the gateway's policy table: which models to try in which
// order, which keywords in a returned reply flag it for human
// follow-up, and the canned text used when the provider is unreachable.
// All of it is configuration, not fixed behavior.
type Config struct {
	Models           []string
	EscalateKeywords []string
	ReassureKeywords []string
	FallbackMessage  string
	HistoryLimit     int
}

// DefaultConfig mirrors the keyword sets the bot shipped with. The
// model list is deployment configuration and has no authoritative
// default ordering.
func DefaultConfig() Config {
	return Config{
		Models: []string{"gpt-4o-mini", "gpt-3.5-turbo"},
		EscalateKeywords: []string{
			"payout", "withdrawal", "withdraw", "deposit", "bonus",
			"refer", "referral", "payment", "bank", "transaction",
			"error", "blocked", "freeze", "admin", "support", "human",
			"escalate", "issue", "problem", "login",
		},
		ReassureKeywords: []string{
			"resolved", "all set", "glad to help", "you're welcome",
			"no problem", "happy to help",
		},
		FallbackMessage: "Sorry — I'm temporarily unable to reach the AI service. " +
			"Please wait a bit or mention the admins for assistance.",
		HistoryLimit: 12,
	}
}

// Gateway wraps the generative call with model-priority fallback, a
// blank-response retry, and a keyword heuristic over the returned text.
type Gateway struct {
	gen    Generator
	cfg    Config
	logger *zap.Logger
}

// New builds a gateway. A nil generator means no credential was
// configured; Ask then returns the fallback without any network call.
func New(gen Generator, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 12
	}
	if gen == nil {
		logger.Warn("AI credentials missing, gateway will answer with the canned fallback")
	}
	return &Gateway{gen: gen, cfg: cfg, logger: logger}
}

// Ask sends the recent conversation to the first model that answers and
// returns the reply plus whether it should be escalated to a human.
// Exhausting every model fails safe: the canned fallback is returned
// with escalate set, so uncertainty lands on an admin rather than
// silence.
func (g *Gateway) Ask(ctx context.Context, systemPrompt string, conversation []models.Turn) (string, bool) {
	if g.gen == nil {
		return g.cfg.FallbackMessage, false
	}

	prompt := g.buildPrompt(systemPrompt, conversation)

	for _, model := range g.cfg.Models {
		text, err := g.generateOnce(ctx, model, prompt)
		if err != nil {
			g.logger.Info("Model failed, trying next",
				zap.Error(err),
				zap.String("model", model))
			continue
		}
		if text == "" {
			continue
		}
		return text, g.shouldEscalate(text)
	}

	g.logger.Error("All models failed, using fallback")
	return g.cfg.FallbackMessage, true
}

// generateOnce issues one call and retries a single time on a blank
// result before giving the model up.
func (g *Gateway) generateOnce(ctx context.Context, model, prompt string) (string, error) {
	text, err := g.gen.Generate(ctx, model, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		text, err = g.gen.Generate(ctx, model, prompt)
		if err != nil {
			return "", err
		}
	}
	return strings.TrimSpace(text), nil
}

func (g *Gateway) buildPrompt(systemPrompt string, conversation []models.Turn) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nConversation:\n")

	start := 0
	if len(conversation) > g.cfg.HistoryLimit {
		start = len(conversation) - g.cfg.HistoryLimit
	}
	for _, turn := range conversation[start:] {
		label := "User"
		if turn.Role == models.RoleAssistant {
			label = "Assistant"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	b.WriteString("\nAssistant:")
	return b.String()
}

// shouldEscalate scans the returned text: trouble words without any
// reassuring phrasing flag the reply for human follow-up.
func (g *Gateway) shouldEscalate(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range g.cfg.ReassureKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	for _, kw := range g.cfg.EscalateKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
