// Package linegw provides the LINE Messaging API gateway: webhook parsing
// with signature verification, replies, and message-content retrieval. It is
// the only package that touches the LINE SDK; the rest of the system sees
// the reduced models.Event union and the bot.Messenger operations.
package linegw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/line/line-bot-sdk-go/v7/linebot"

	"github.com/ricemaid/ricemaid/internal/models"
)

// ErrInvalidSignature is returned when the webhook signature check fails.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// defaultLoadingURL is the chat loading-animation endpoint. It postdates SDK
// v7, so the gateway calls it directly.
const defaultLoadingURL = "https://api.line.me/v2/bot/chat/loading/start"

// Opts holds configuration options for the gateway.
type Opts struct {
	ChannelSecret string
	ChannelToken  string
	Client        *http.Client
	LoadingURL    string
}

// Option configures the gateway.
type Option func(*Opts)

// WithChannelSecret overrides the LINE_CHANNEL_SECRET environment variable.
func WithChannelSecret(secret string) Option {
	return func(o *Opts) { o.ChannelSecret = secret }
}

// WithChannelToken overrides the LINE_CHANNEL_ACCESS_TOKEN environment variable.
func WithChannelToken(token string) Option {
	return func(o *Opts) { o.ChannelToken = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// WithLoadingURL overrides the loading-animation endpoint, for tests.
func WithLoadingURL(url string) Option {
	return func(o *Opts) { o.LoadingURL = url }
}

// Gateway wraps the LINE Messaging API client.
type Gateway struct {
	client     *linebot.Client
	token      string
	http       *http.Client
	loadingURL string
}

// New initializes the gateway. Credentials come from options or the
// LINE_CHANNEL_SECRET / LINE_CHANNEL_ACCESS_TOKEN environment variables.
func New(opts ...Option) (*Gateway, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ChannelSecret == "" {
		cfg.ChannelSecret = os.Getenv("LINE_CHANNEL_SECRET")
	}
	if cfg.ChannelToken == "" {
		cfg.ChannelToken = os.Getenv("LINE_CHANNEL_ACCESS_TOKEN")
	}
	if cfg.ChannelSecret == "" || cfg.ChannelToken == "" {
		return nil, fmt.Errorf("LINE channel secret and access token must be set")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.LoadingURL == "" {
		cfg.LoadingURL = defaultLoadingURL
	}

	client, err := linebot.New(cfg.ChannelSecret, cfg.ChannelToken, linebot.WithHTTPClient(cfg.Client))
	if err != nil {
		return nil, fmt.Errorf("create LINE client: %w", err)
	}
	slog.Debug("linegw.New: gateway configured")
	return &Gateway{
		client:     client,
		token:      cfg.ChannelToken,
		http:       cfg.Client,
		loadingURL: cfg.LoadingURL,
	}, nil
}

// ParseRequest verifies the webhook signature and reduces the delivery to
// the message events the core handles. Non-message events (follows, joins)
// are dropped here.
func (g *Gateway) ParseRequest(r *http.Request) ([]models.Event, error) {
	events, err := g.client.ParseRequest(r)
	if err != nil {
		if errors.Is(err, linebot.ErrInvalidSignature) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("parse webhook request: %w", err)
	}

	var out []models.Event
	for _, ev := range events {
		if ev.Type != linebot.EventTypeMessage || ev.Source == nil {
			continue
		}
		switch msg := ev.Message.(type) {
		case *linebot.TextMessage:
			out = append(out, models.Event{
				Type:       models.EventTypeText,
				UserID:     ev.Source.UserID,
				ReplyToken: ev.ReplyToken,
				Text:       msg.Text,
			})
		case *linebot.ImageMessage:
			out = append(out, models.Event{
				Type:       models.EventTypeImage,
				UserID:     ev.Source.UserID,
				ReplyToken: ev.ReplyToken,
				MessageID:  msg.ID,
			})
		default:
			slog.Debug("Gateway.ParseRequest: skipping unsupported message type")
		}
	}
	slog.Debug("Gateway.ParseRequest: events parsed", "count", len(out))
	return out, nil
}

// Reply sends a text reply for the turn's reply token.
func (g *Gateway) Reply(ctx context.Context, replyToken, text string) error {
	if _, err := g.client.ReplyMessage(replyToken, linebot.NewTextMessage(text)).WithContext(ctx).Do(); err != nil {
		return fmt.Errorf("reply message: %w", err)
	}
	return nil
}

// ReplyFlex sends a flex-message reply built from raw container JSON.
func (g *Gateway) ReplyFlex(ctx context.Context, replyToken, altText string, flexJSON []byte) error {
	container, err := linebot.UnmarshalFlexMessageJSON(flexJSON)
	if err != nil {
		return fmt.Errorf("unmarshal flex container: %w", err)
	}
	if _, err := g.client.ReplyMessage(replyToken, linebot.NewFlexMessage(altText, container)).WithContext(ctx).Do(); err != nil {
		return fmt.Errorf("reply flex message: %w", err)
	}
	return nil
}

// FetchImage downloads the content of an image message.
func (g *Gateway) FetchImage(ctx context.Context, messageID string) ([]byte, error) {
	res, err := g.client.GetMessageContent(messageID).WithContext(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message content: %w", err)
	}
	defer res.Content.Close()
	data, err := io.ReadAll(res.Content)
	if err != nil {
		return nil, fmt.Errorf("read message content: %w", err)
	}
	slog.Debug("Gateway.FetchImage: content fetched", "messageID", messageID, "bytes", len(data))
	return data, nil
}

// ShowTyping starts the chat loading animation for the user.
func (g *Gateway) ShowTyping(ctx context.Context, userID string) error {
	payload, err := json.Marshal(map[string]any{"chatId": userID, "loadingSeconds": 20})
	if err != nil {
		return fmt.Errorf("marshal loading request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.loadingURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build loading request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.token)

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("loading request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("loading request: status %d: %s", resp.StatusCode, body)
	}
	return nil
}
