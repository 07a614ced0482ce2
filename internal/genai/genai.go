// Package genai provides OpenAI-backed chat sessions for the farmer
// assistant. Each session keeps its own message history so the model sees
// the full multi-turn exchange; sessions are owned by the conversation core
// and serialized per user, so they perform no locking of their own.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ricemaid/ricemaid/internal/session"
)

// defaultSystemPrompt seeds every chat session with the Thai rice-farmer
// assistant persona.
var defaultSystemPrompt = strings.Join([]string{
	"คุณคือผู้ช่วยชาวนาไทยสำหรับการวิเคราะห์และตอบคำถามเกี่ยวกับการเกษตร",
	"และหลีกเลี่ยงการใช้ Markdown หรือรูปแบบการเขียนที่ซับซ้อน",
	"คุณมีความรู้อย่างลึกซึ้งในการทำนาแบบเปียกสลับแห้งและเกี่ยวกับคาร์บอนเครดิต",
	"คุณสามารถวิเคราะห์ข้อมูลและสรุปออกมาเป็นข้อมูลทางสถิติที่เข้าใจง่าย",
	"แม้ข้อมูลไม่เพียงพอคุณก็จะต้องตอบคำถามด้วยข้อมูลที่ผู้ใช้ป้อนให้",
	"ผู้ใช้ปลูกแค่ข้าวเท่านั้น",
	"คุณจะไม่ขอข้อมูลเพิ่มเติม",
	"ห้ามบอกว่าข้อมูลที่ให้มาน้อยไป",
}, "\n")

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey       string
	Model        string
	SystemPrompt string
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey overrides the OPENAI_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithSystemPrompt overrides the default assistant persona.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// Client creates chat sessions against the OpenAI chat-completion API.
type Client struct {
	api          openai.Client
	model        string
	systemPrompt string
}

// NewClient initializes a GenAI client. The API key comes from options or
// the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	slog.Debug("genai.NewClient: client configured", "model", cfg.Model)
	return &Client{
		api:          openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// Session is one multi-turn exchange with the model.
type Session struct {
	client  *Client
	history []openai.ChatCompletionMessageParamUnion
}

// NewSession starts a chat session seeded with the assistant persona. The
// return type is the session-store handle interface so the client plugs
// straight into the conversation core.
func (c *Client) NewSession() session.ChatSession {
	return &Session{
		client:  c,
		history: []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(c.systemPrompt)},
	}
}

// Send appends text to the session history, requests a completion, and
// returns the assistant's reply. The reply is recorded in the history only
// on success, so a failed turn can simply be retried.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	messages := append(s.history, openai.UserMessage(text))
	resp, err := s.client.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    s.client.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("genai.Session.Send: completion failed", "error", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.Session.Send: no choices returned")
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	reply := resp.Choices[0].Message.Content
	s.history = append(messages, openai.AssistantMessage(reply))
	slog.Debug("genai.Session.Send: completion succeeded", "history_len", len(s.history))
	return reply, nil
}
