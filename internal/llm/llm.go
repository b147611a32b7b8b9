// Package llm talks to text-generation backends.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/sloppy/orangesage/internal/config"
)

// ErrNoBackend is returned by every call when no backend is configured.
var ErrNoBackend = errors.New("llm: no backend configured")

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request asks for one completion. Zero-valued fields take the backend
// defaults; Temperature is a pointer so 0 can be requested explicitly.
type Request struct {
	Messages    []Message
	Model       string
	Temperature *float64
	MaxTokens   int
}

type Response struct {
	Content  string `json:"content"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

// Generator produces text from a conversation. Calls may fail individually.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Unavailable is the Generator used when no backend is configured.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, Request) (Response, error) {
	return Response{}, ErrNoBackend
}

// New picks a backend from cfg. The "local" provider talks to an
// OpenAI-compatible server without credentials; any other provider
// requires an API key.
func New(cfg config.LLMConfig, logger *slog.Logger) Generator {
	if logger == nil {
		logger = slog.Default()
	}
	provider := strings.ToLower(cfg.Provider)
	if provider != "local" && cfg.APIKey == "" {
		logger.Warn("llm backend disabled: no api key", "provider", provider)
		return Unavailable{}
	}
	return NewOpenAI(cfg, logger)
}

// Ping sends a trivial prompt and reports whether it succeeded.
func Ping(ctx context.Context, g Generator) error {
	_, err := g.Generate(ctx, Request{
		Messages:  []Message{{Role: RoleUser, Content: "Hello, this is a test message."}},
		MaxTokens: 10,
	})
	return err
}
