package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/conversation"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
)

// BotWebhookHandler receives direct-channel updates pushed by the bot
// provider and feeds them into the conversation engine.
type BotWebhookHandler struct {
	bot      *tgbotapi.BotAPI
	engine   *conversation.Engine
	tenantID uuid.UUID
	path     string
	logger   *zap.Logger
}

// NewBotWebhookHandler creates the webhook handler. All inbound bot traffic
// belongs to the single configured tenant.
func NewBotWebhookHandler(bot *tgbotapi.BotAPI, engine *conversation.Engine, tenantID uuid.UUID, path string, logger *zap.Logger) *BotWebhookHandler {
	return &BotWebhookHandler{
		bot:      bot,
		engine:   engine,
		tenantID: tenantID,
		path:     path,
		logger:   logger.Named("bot-webhook"),
	}
}

// RegisterRoutes registers the webhook route on the given mux.
func (h *BotWebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(h.path, h.Webhook)
}

// Webhook handles one pushed update. The provider retries on non-200, so
// malformed payloads are acknowledged and only logged.
func (h *BotWebhookHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.logger.Warn("failed to decode update", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	h.dispatch(r, update)
	w.WriteHeader(http.StatusOK)
}

func (h *BotWebhookHandler) dispatch(r *http.Request, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	channelMessageID := int64(msg.MessageID)
	ev := conversation.InboundEvent{
		TenantID:         h.tenantID,
		ChannelUserID:    msg.From.ID,
		Username:         msg.From.UserName,
		DisplayName:      strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		Source:           models.SourceBot,
		Text:             msg.Text,
		ChannelMessageID: &channelMessageID,
	}

	if msg.IsCommand() && msg.Command() == "start" {
		if err := h.engine.HandleStart(r.Context(), ev); err != nil {
			h.logger.Error("failed to handle start command", zap.Error(err))
		}
		return
	}

	if msg.Voice != nil {
		url, err := h.bot.GetFileDirectURL(msg.Voice.FileID)
		if err != nil {
			h.logger.Warn("failed to resolve voice file", zap.Error(err))
		} else if resp, err := http.Get(url); err != nil {
			h.logger.Warn("failed to download voice file", zap.Error(err))
		} else {
			defer resp.Body.Close()
			ev.Voice = resp.Body
		}
	}

	if len(msg.Photo) > 0 {
		// The provider sends several resolutions; the last is the largest.
		largest := msg.Photo[len(msg.Photo)-1]
		url, err := h.bot.GetFileDirectURL(largest.FileID)
		if err != nil {
			h.logger.Warn("failed to resolve photo file", zap.Error(err))
		} else {
			ev.PhotoURL = url
			ev.Caption = msg.Caption
		}
	}

	h.engine.HandleInbound(r.Context(), ev)
}
