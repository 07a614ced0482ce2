package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ricemaid/ricemaid/internal/carbon"
	"github.com/ricemaid/ricemaid/internal/models"
	"github.com/ricemaid/ricemaid/internal/province"
	"github.com/ricemaid/ricemaid/internal/session"
	"github.com/ricemaid/ricemaid/internal/vision"
)

// Messenger sends replies and fetches content through the messaging gateway.
type Messenger interface {
	Reply(ctx context.Context, replyToken, text string) error
	ReplyFlex(ctx context.Context, replyToken, altText string, flexJSON []byte) error
	FetchImage(ctx context.Context, messageID string) ([]byte, error)
	ShowTyping(ctx context.Context, userID string) error
}

// Chatter creates chat sessions with the completion provider.
type Chatter interface {
	NewSession() session.ChatSession
}

// Searcher runs web searches for the news digest.
type Searcher interface {
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

// Hydrologist fetches recent water-resources data for a province.
type Hydrologist interface {
	WeeklyByProvince(ctx context.Context, provinceCode int) (models.WaterSummary, error)
}

// Classifier predicts the rice growth stage of an image.
type Classifier interface {
	Predict(ctx context.Context, image []byte) (models.Prediction, error)
}

// FieldData aggregates field, soil, and weather context.
type FieldData interface {
	Overview(ctx context.Context) (string, error)
}

// DefaultTurnTimeout bounds a turn's collaborator calls.
const DefaultTurnTimeout = 30 * time.Second

// Config holds the engine's collaborators.
type Config struct {
	Sessions   *session.Store
	Messenger  Messenger
	Chat       Chatter
	Search     Searcher
	Hydro      Hydrologist
	Classifier Classifier
	FieldData  FieldData
	// TurnTimeout bounds the whole turn, collaborator calls included.
	// Zero means DefaultTurnTimeout.
	TurnTimeout time.Duration
}

// Engine is the conversation state machine. Given a user's session state and
// an incoming event it decides the next state, invokes at most one
// collaborator chain, and produces the reply. Collaborator failures become
// user-visible error replies; nothing is retried and nothing escapes a turn.
type Engine struct {
	sessions    *session.Store
	messenger   Messenger
	chat        Chatter
	search      Searcher
	hydro       Hydrologist
	classifier  Classifier
	field       FieldData
	turnTimeout time.Duration
}

// New creates a conversation engine.
func New(cfg Config) *Engine {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	slog.Debug("bot.New: creating engine", "turn_timeout", cfg.TurnTimeout)
	return &Engine{
		sessions:    cfg.Sessions,
		messenger:   cfg.Messenger,
		chat:        cfg.Chat,
		search:      cfg.Search,
		hydro:       cfg.Hydro,
		classifier:  cfg.Classifier,
		field:       cfg.FieldData,
		turnTimeout: cfg.TurnTimeout,
	}
}

// HandleEvent processes one inbound event to completion: one reply or one
// error reply. Turns for the same user are serialized by the session store;
// events for different users run concurrently.
func (e *Engine) HandleEvent(ctx context.Context, ev models.Event) {
	turnID := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()
	slog.Info("Engine.HandleEvent: turn started", "turn", turnID, "type", ev.Type, "userID", ev.UserID)

	if err := e.messenger.ShowTyping(ctx, ev.UserID); err != nil {
		// Best effort only; the turn proceeds without the indicator.
		slog.Warn("Engine.HandleEvent: typing indicator failed", "turn", turnID, "error", err)
	}

	e.sessions.Do(ev.UserID, func(s *session.Session) {
		switch ev.Type {
		case models.EventTypeText:
			reply := e.step(ctx, s, ev.Text)
			if err := e.messenger.Reply(ctx, ev.ReplyToken, reply); err != nil {
				slog.Error("Engine.HandleEvent: reply failed", "turn", turnID, "userID", ev.UserID, "error", err)
			}
		case models.EventTypeImage:
			e.imageTurn(ctx, ev)
		default:
			slog.Warn("Engine.HandleEvent: unknown event type", "turn", turnID, "type", ev.Type)
		}
	})
	slog.Info("Engine.HandleEvent: turn finished", "turn", turnID, "userID", ev.UserID)
}

// step is the transition function: given the session's current state and the
// message text, it mutates the state and returns the reply.
func (e *Engine) step(ctx context.Context, s *session.Session, text string) string {
	switch s.State() {
	case session.StateAwaitingCarbonCredit:
		return e.carbonTurn(s, text)
	case session.StateAwaitingProvince:
		return e.provinceTurn(ctx, s, text)
	case session.StateAwaitingRecommendation:
		return e.recommendationTurn(ctx, s, text)
	default:
		return e.idleTurn(ctx, s, text)
	}
}

// idleTurn classifies the message and either starts a multi-turn flow,
// answers directly, or falls through to free-form chat.
func (e *Engine) idleTurn(ctx context.Context, s *session.Session, text string) string {
	intent := ClassifyIntent(text)
	slog.Debug("Engine.idleTurn: classified", "userID", s.UserID, "intent", intent)
	switch intent {
	case IntentCarbonCredit:
		s.SetState(session.StateAwaitingCarbonCredit)
		return carbonCreditPrompt
	case IntentFarmNews:
		return e.farmNews(ctx)
	case IntentFieldOverview:
		overview, err := e.field.Overview(ctx)
		if err != nil {
			return errorReply(err)
		}
		return overviewHeader + overview
	case IntentRecommendation:
		s.SetState(session.StateAwaitingRecommendation)
		return recommendationPrompt
	case IntentWaterData:
		s.SetState(session.StateAwaitingProvince)
		return waterDataPrompt
	default:
		return e.freeChat(ctx, s, text)
	}
}

// carbonPattern matches "<n> ไร่, <m> วัน" at the start of the message.
var carbonPattern = regexp.MustCompile(`^(\d+)\s*ไร่,\s*(\d+)\s*วัน`)

// carbonTurn parses the "area, harvest age" reply and produces the report.
// Both a failed parse and rejected values reset the state to idle rather
// than re-prompting.
func (e *Engine) carbonTurn(s *session.Session, text string) string {
	s.SetState(session.StateIdle)

	m := carbonPattern.FindStringSubmatch(text)
	if m == nil {
		slog.Debug("Engine.carbonTurn: input did not match pattern", "userID", s.UserID)
		return carbonCreditFormatError
	}
	area, err1 := strconv.ParseFloat(m[1], 64)
	age, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return carbonCreditFormatError
	}

	est, err := carbon.EstimateEmission(area, age)
	if err != nil {
		slog.Debug("Engine.carbonTurn: estimate rejected", "userID", s.UserID, "error", err)
		return carbonCreditFormatError
	}

	// The carbon flow is complete; the next free-form message starts a
	// fresh chat context.
	s.ClearChat()
	slog.Info("Engine.carbonTurn: estimate produced", "userID", s.UserID, "area", area, "harvest_age", age)
	return fmt.Sprintf(
		"การคำนวณคาร์บอนเครดิต:\nพื้นที่: %g ไร่\nอายุเก็บเกี่ยว: %d วัน\n"+
			"การปล่อยมีเทน: %.2f กิโลกรัม CO2eq\nคาร์บอนเครดิตที่ได้: %.4f หน่วย",
		area, age, est.MethaneEmission, est.CarbonCredit,
	)
}

// provinceTurn matches the message against the province table, fetches the
// past week of reservoir data, and has the assistant summarize it.
func (e *Engine) provinceTurn(ctx context.Context, s *session.Session, text string) string {
	s.SetState(session.StateIdle)

	prov, ok := province.Find(strings.TrimSpace(text))
	if !ok {
		slog.Debug("Engine.provinceTurn: province not found", "userID", s.UserID)
		return provinceNotFoundReply
	}

	summary, err := e.hydro.WeeklyByProvince(ctx, prov.Code)
	if err != nil {
		slog.Error("Engine.provinceTurn: hydrology fetch failed", "userID", s.UserID, "province", prov.NameEN, "error", err)
		return errorReply(err)
	}

	prompt := fmt.Sprintf(
		"สรุปข้อมูลเกี่ยวกับสถานการณ์น้ำในจังหวัด%sในช่วง 7 วันที่ผ่านมา:\n"+
			"อ่างเก็บน้ำขนาดกลาง: %s\nอ่างเก็บน้ำขนาดเล็ก: %s\n"+
			"ให้สรุปข้อมูลด้านบนออกมาเป็นรายงานปริมาณน้ำและวิเคราะห์สถานการณ์น้ำในจังหวัดนี้",
		prov.NameTH, summary.Medium, summary.Small,
	)
	reply, err := e.chatOf(s).Send(ctx, prompt)
	if err != nil {
		slog.Error("Engine.provinceTurn: summarization failed", "userID", s.UserID, "error", err)
		return errorReply(err)
	}
	return reply
}

// recommendationTurn combines the farmer's extra context with field,
// weather, and news data into one prompt for the assistant.
func (e *Engine) recommendationTurn(ctx context.Context, s *session.Session, text string) string {
	s.SetState(session.StateIdle)

	overview, err := e.field.Overview(ctx)
	if err != nil {
		slog.Error("Engine.recommendationTurn: overview failed", "userID", s.UserID, "error", err)
		return errorReply(err)
	}
	news := e.farmNews(ctx)

	combined := fmt.Sprintf(
		"ให้เริ่มตอบด้วย 1 คำแนะนำ! นี่คือข้อมูลทั้งหมด ข่าว: %s\n"+
			" สภาพแวดล้อมและอากาศ: %s\n"+
			"และข้อมูลเพิ่มเติมจากชาวไร่: %s\n"+
			" แม้ข้อมูลไม่เพียงพอก็ต้องให้คำแนะนำ",
		news, overviewHeader+overview, text,
	)
	reply, err := e.chatOf(s).Send(ctx, combined)
	if err != nil {
		slog.Error("Engine.recommendationTurn: completion failed", "userID", s.UserID, "error", err)
		return errorReply(err)
	}
	return reply
}

// freeChat sends the message to the assistant through the session's chat
// handle, creating one on first use.
func (e *Engine) freeChat(ctx context.Context, s *session.Session, text string) string {
	reply, err := e.chatOf(s).Send(ctx, text)
	if err != nil {
		slog.Error("Engine.freeChat: completion failed", "userID", s.UserID, "error", err)
		return errorReply(err)
	}
	return reply
}

// chatOf returns the session's chat handle, creating it lazily.
func (e *Engine) chatOf(s *session.Session) session.ChatSession {
	if chat, ok := s.Chat(); ok {
		return chat
	}
	chat := e.chat.NewSession()
	s.SetChat(chat)
	slog.Debug("Engine.chatOf: created chat session", "userID", s.UserID)
	return chat
}

// farmNews fetches and formats the top farmer news. Failures are folded into
// the returned text, matching the turn's best-effort reply semantics.
func (e *Engine) farmNews(ctx context.Context) string {
	results, err := e.search.Search(ctx, farmNewsQuery)
	if err != nil {
		slog.Error("Engine.farmNews: search failed", "error", err)
		return fmt.Sprintf("เกิดข้อผิดพลาด: %v", err)
	}
	if len(results) == 0 {
		return noNewsReply
	}
	var b strings.Builder
	b.WriteString(newsHeader)
	for i, item := range results {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n%s\n", i+1, item.Title, item.URL)
	}
	return strings.TrimSpace(b.String())
}

// imageTurn fetches the image content, classifies the growth stage, and
// replies with a flex bubble showing the stage photo and Thai label.
func (e *Engine) imageTurn(ctx context.Context, ev models.Event) {
	img, err := e.messenger.FetchImage(ctx, ev.MessageID)
	if err != nil {
		slog.Error("Engine.imageTurn: content fetch failed", "userID", ev.UserID, "messageID", ev.MessageID, "error", err)
		e.replyImageError(ctx, ev.ReplyToken, err)
		return
	}

	pred, err := e.classifier.Predict(ctx, img)
	if err != nil {
		slog.Error("Engine.imageTurn: prediction failed", "userID", ev.UserID, "error", err)
		e.replyImageError(ctx, ev.ReplyToken, err)
		return
	}

	flexJSON, err := stageBubbleJSON(pred.Label)
	if err != nil {
		e.replyImageError(ctx, ev.ReplyToken, err)
		return
	}
	altText := fmt.Sprintf("%s Prediction | Probability: %.2f", pred.Label, pred.Probability)
	if err := e.messenger.ReplyFlex(ctx, ev.ReplyToken, altText, flexJSON); err != nil {
		slog.Error("Engine.imageTurn: flex reply failed", "userID", ev.UserID, "error", err)
	}
	slog.Info("Engine.imageTurn: prediction replied", "userID", ev.UserID, "label", pred.Label, "probability", pred.Probability)
}

// replyImageError sends the image-flow error reply; delivery failures are
// only logged since the turn is already over.
func (e *Engine) replyImageError(ctx context.Context, replyToken string, cause error) {
	msg := fmt.Sprintf("Error processing the image: %v", cause)
	if err := e.messenger.Reply(ctx, replyToken, msg); err != nil {
		slog.Error("Engine.replyImageError: reply failed", "error", err)
	}
}

// stageBubbleJSON builds the flex bubble for a predicted growth stage.
func stageBubbleJSON(label string) ([]byte, error) {
	bubble := map[string]any{
		"type": "bubble",
		"hero": map[string]any{
			"type":        "image",
			"url":         vision.StageImageURL(label),
			"size":        "full",
			"aspectRatio": "20:13",
			"aspectMode":  "cover",
			"action":      map[string]any{"type": "uri", "uri": "https://line.me/"},
		},
		"body": map[string]any{
			"type":   "box",
			"layout": "vertical",
			"contents": []any{
				map[string]any{
					"type":   "text",
					"text":   vision.DisplayName(label),
					"weight": "bold",
					"size":   "xl",
				},
			},
		},
	}
	data, err := json.Marshal(bubble)
	if err != nil {
		return nil, fmt.Errorf("marshal stage bubble: %w", err)
	}
	return data, nil
}

// errorReply formats a collaborator failure as the turn's reply.
func errorReply(err error) string {
	return fmt.Sprintf("Error processing message: %v", err)
}
