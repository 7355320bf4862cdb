package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
	"github.com/leadgate-ai/leadgate-engine/pkg/config"
	"github.com/leadgate-ai/leadgate-engine/pkg/llm"
	"github.com/leadgate-ai/leadgate-engine/pkg/models"
	"github.com/leadgate-ai/leadgate-engine/pkg/prompt"
	"github.com/leadgate-ai/leadgate-engine/pkg/repositories"
)

// turnTimeout bounds one full generation pipeline run.
const turnTimeout = 2 * time.Minute

// Deliverer sends an outbound reply through the prospect's channel and
// persists the message row.
type Deliverer interface {
	Send(ctx context.Context, prospect *models.Prospect, text string, metadata map[string]any) (*models.Message, error)
}

// OperatorNotifier pushes hand-off alerts to the tenant's operator chat.
type OperatorNotifier interface {
	NotifyOperator(ctx context.Context, tenantID uuid.UUID, text string) error
}

// Transcriber converts a voice note to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader) (string, error)
}

// Retriever is the knowledge-search surface the engine needs.
type Retriever interface {
	Search(ctx context.Context, tenantID uuid.UUID, prospectID *uuid.UUID, query string, limit int) ([]*models.ScoredKnowledgeItem, error)
	IndexMessage(ctx context.Context, tenantID, prospectID uuid.UUID, sender, content string) error
}

// PromptBuilder assembles the per-tenant system instruction.
type PromptBuilder interface {
	Build(ctx context.Context, tenantID uuid.UUID, knowledgeBlock string) (string, *models.PromptConfig, error)
}

// Typist shows a typing indicator on the human-like channel.
type Typist interface {
	Typing(ctx context.Context, tenantID uuid.UUID, channelUserID int64) error
}

// InboundEvent is one raw inbound update from either channel.
type InboundEvent struct {
	TenantID         uuid.UUID
	ChannelUserID    int64
	Username         string
	DisplayName      string
	Source           string
	Text             string
	Voice            io.Reader
	PhotoURL         string
	Caption          string
	ChannelMessageID *int64
}

type senderMeta struct {
	username    string
	displayName string
	source      string
	channelMsg  *int64
}

// Engine owns the conversation pipeline: debounced intake, prompt assembly,
// generation, parsing, fact application and hand-off.
type Engine struct {
	prospects   repositories.ProspectRepository
	messages    repositories.MessageRepository
	retriever   Retriever
	prompts     PromptBuilder
	llm         llm.Client
	deliverer   Deliverer
	notifier    OperatorNotifier
	transcriber Transcriber
	typist      Typist
	cfg         *config.ConversationConfig
	searchLimit int
	logger      *zap.Logger

	debouncer *Debouncer
	metaMu    sync.Mutex
	meta      map[TurnKey]senderMeta
	wg        sync.WaitGroup
}

// NewEngine creates the conversation Engine. transcriber and typist may be
// nil when the corresponding capability is not configured.
func NewEngine(
	prospects repositories.ProspectRepository,
	messages repositories.MessageRepository,
	retriever Retriever,
	prompts PromptBuilder,
	llmClient llm.Client,
	deliverer Deliverer,
	notifier OperatorNotifier,
	transcriber Transcriber,
	typist Typist,
	cfg *config.ConversationConfig,
	searchLimit int,
	logger *zap.Logger,
) *Engine {
	e := &Engine{
		prospects:   prospects,
		messages:    messages,
		retriever:   retriever,
		prompts:     prompts,
		llm:         llmClient,
		deliverer:   deliverer,
		notifier:    notifier,
		transcriber: transcriber,
		typist:      typist,
		cfg:         cfg,
		searchLimit: searchLimit,
		logger:      logger.Named("conversation"),
		meta:        make(map[TurnKey]senderMeta),
	}
	e.debouncer = NewDebouncer(cfg.DebounceWindow, e.onWindowElapsed)
	return e
}

// HandleInbound normalizes one inbound event (voice transcription, photo
// stand-in) and feeds it into the sender's debounce window.
func (e *Engine) HandleInbound(ctx context.Context, ev InboundEvent) {
	key := TurnKey{TenantID: ev.TenantID, ChannelUserID: ev.ChannelUserID}

	e.metaMu.Lock()
	e.meta[key] = senderMeta{
		username:    ev.Username,
		displayName: ev.DisplayName,
		source:      ev.Source,
		channelMsg:  ev.ChannelMessageID,
	}
	e.metaMu.Unlock()

	var opts []TurnOption
	text := ev.Text

	if ev.Voice != nil {
		transcript, err := e.transcribeVoice(ctx, ev.Voice)
		if err != nil {
			e.logger.Warn("voice transcription failed",
				zap.String("tenant_id", ev.TenantID.String()),
				zap.Error(err))
			transcript = prompt.VoiceNotePrefix
		}
		text = transcript
		opts = append(opts, WithVoice())
	}

	if ev.PhotoURL != "" {
		opts = append(opts, WithImage(ev.PhotoURL, ev.Caption))
		if text == "" {
			text = ev.Caption
		}
	}

	e.debouncer.Add(key, text, opts...)
}

// HandleStart runs the first-contact flow: the prospect record is created
// (or refreshed) and the tenant's welcome message is sent. No model call.
func (e *Engine) HandleStart(ctx context.Context, ev InboundEvent) error {
	key := TurnKey{TenantID: ev.TenantID, ChannelUserID: ev.ChannelUserID}
	meta := senderMeta{
		username:    ev.Username,
		displayName: ev.DisplayName,
		source:      ev.Source,
	}

	prospect, err := e.getOrCreateProspect(ctx, key, meta)
	if err != nil {
		return err
	}
	return e.SendWelcome(ctx, prospect)
}

func (e *Engine) transcribeVoice(ctx context.Context, audio io.Reader) (string, error) {
	if e.transcriber == nil {
		return "", fmt.Errorf("no transcriber configured")
	}
	return e.transcriber.Transcribe(ctx, audio)
}

func (e *Engine) onWindowElapsed(key TurnKey, turn BufferedTurn) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
		defer cancel()

		e.ProcessTurn(ctx, key, turn)
	}()
}

// Wait blocks until all in-flight turns finish. Used at shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// ProcessTurn runs one merged turn through the full pipeline. Any failure
// after the inbound message is persisted degrades to an apology reply; a
// turn is never silently dropped.
func (e *Engine) ProcessTurn(ctx context.Context, key TurnKey, turn BufferedTurn) {
	e.metaMu.Lock()
	meta := e.meta[key]
	e.metaMu.Unlock()

	logger := e.logger.With(
		zap.String("tenant_id", key.TenantID.String()),
		zap.Int64("channel_user_id", key.ChannelUserID))

	combined := strings.TrimSpace(strings.Join(turn.Texts, " "))
	if combined == "" {
		if turn.ImageURL != "" {
			combined = prompt.PhotoStandIn
		} else {
			return
		}
	}

	prospect, err := e.getOrCreateProspect(ctx, key, meta)
	if err != nil {
		logger.Error("failed to resolve prospect", zap.Error(err))
		return
	}

	inMeta := map[string]any{}
	if turn.IsVoice {
		inMeta["is_voice"] = true
	}
	if turn.ImageURL != "" {
		inMeta["photo_url"] = turn.ImageURL
	}

	inbound := &models.Message{
		TenantID:         prospect.TenantID,
		ProspectID:       prospect.ID,
		Direction:        models.DirectionInbound,
		Status:           models.MessageStatusSent,
		Content:          combined,
		SenderName:       senderLabel(meta, prospect),
		ChannelMessageID: meta.channelMsg,
		Metadata:         inMeta,
	}
	if err := e.messages.Create(ctx, inbound); err != nil {
		logger.Error("failed to persist inbound message", zap.Error(err))
		return
	}

	now := time.Now()
	if err := e.prospects.TouchLastMessage(ctx, prospect.TenantID, prospect.ID, now, true); err != nil {
		logger.Warn("failed to touch prospect activity", zap.Error(err))
	}
	if prospect.FollowUpCount > 0 {
		if err := e.prospects.ResetFollowUps(ctx, prospect.TenantID, prospect.ID); err != nil {
			logger.Warn("failed to reset follow-up counter", zap.Error(err))
		}
	}

	// Already in human hands: static acknowledgement, no model call.
	if prospect.Qualification == models.QualificationHandoff {
		if _, err := e.deliverer.Send(ctx, prospect, prompt.HandoffReply, nil); err != nil {
			logger.Error("failed to send hand-off acknowledgement", zap.Error(err))
		}
		return
	}

	reply, outMeta, genErr := e.generate(ctx, prospect, combined, turn, logger)
	if genErr != nil {
		logger.Error("generation failed, sending apology", zap.Error(genErr))
		if _, err := e.deliverer.Send(ctx, prospect, prompt.ApologyReply, nil); err != nil {
			logger.Error("failed to send apology", zap.Error(err))
		}
		return
	}

	if _, err := e.deliverer.Send(ctx, prospect, reply, outMeta); err != nil {
		logger.Error("failed to send reply", zap.Error(err))
		return
	}

	// Long-term memory of what the agent said; best effort.
	if err := e.retriever.IndexMessage(ctx, prospect.TenantID, prospect.ID, "AI Agent", reply); err != nil {
		logger.Warn("failed to index outbound message", zap.Error(err))
	}
}

// generate runs retrieval, prompt assembly, the model call and fact
// application for one turn, returning the reply text and its metadata.
func (e *Engine) generate(ctx context.Context, prospect *models.Prospect, turnText string, turn BufferedTurn, logger *zap.Logger) (string, map[string]any, error) {
	history, err := e.buildHistory(ctx, prospect, turn)
	if err != nil {
		return "", nil, err
	}

	knowledgeBlock := ""
	hits, err := e.retriever.Search(ctx, prospect.TenantID, &prospect.ID, turnText, e.searchLimit)
	if err != nil {
		logger.Warn("knowledge search failed, proceeding without context", zap.Error(err))
	} else {
		knowledgeBlock = prompt.BuildKnowledgeBlock(hits)
	}

	systemPrompt, _, err := e.prompts.Build(ctx, prospect.TenantID, knowledgeBlock)
	if err != nil {
		return "", nil, err
	}

	e.humanPause(ctx, prospect)

	result, err := e.llm.Complete(ctx, systemPrompt, history)
	if err != nil && turn.ImageURL != "" {
		// Vision call failed: degrade to a textual stand-in and retry once.
		logger.Warn("vision completion failed, retrying with stand-in", zap.Error(err))
		result, err = e.llm.Complete(ctx, systemPrompt, replaceImageWithStandIn(history, turn.Caption))
	}
	if err != nil {
		return "", nil, fmt.Errorf("completion failed: %w", err)
	}

	parsed := llm.ParseAgentReply(result.Content)

	outMeta := map[string]any{
		"usage": map[string]any{
			"prompt_tokens":     result.PromptTokens,
			"completion_tokens": result.CompletionTokens,
			"total_tokens":      result.TotalTokens,
		},
	}
	if knowledgeBlock != "" {
		outMeta["knowledge_context"] = knowledgeBlock
	}

	e.applyFacts(ctx, prospect, parsed.Facts, logger)

	return parsed.Text, outMeta, nil
}

// buildHistory loads the recent window of the thread in chronological
// order and maps it to chat messages. Voice turns are prefixed so the model
// knows they were spoken; the current turn's image rides on the last
// inbound message.
func (e *Engine) buildHistory(ctx context.Context, prospect *models.Prospect, turn BufferedTurn) ([]llm.ChatMessage, error) {
	recent, err := e.messages.ListRecent(ctx, prospect.TenantID, prospect.ID, e.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	history := make([]llm.ChatMessage, 0, len(recent))
	for _, m := range recent {
		role := llm.RoleUser
		if m.Direction == models.DirectionOutbound {
			role = llm.RoleAssistant
		}

		content := m.Content
		if isVoice, _ := m.Metadata["is_voice"].(bool); isVoice {
			content = prompt.VoiceNotePrefix + content
		}

		history = append(history, llm.ChatMessage{Role: role, Content: content})
	}

	if turn.ImageURL != "" && len(history) > 0 {
		last := &history[len(history)-1]
		if last.Role == llm.RoleUser {
			last.ImageURL = turn.ImageURL
		}
	}

	return history, nil
}

// replaceImageWithStandIn strips image attachments from the history so a
// failed vision call can be retried as plain text. The image becomes a
// textual stand-in, keeping any caption the prospect wrote.
func replaceImageWithStandIn(history []llm.ChatMessage, caption string) []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(history))
	copy(out, history)

	for i := range out {
		if out[i].ImageURL == "" {
			continue
		}
		out[i].ImageURL = ""
		if !strings.Contains(out[i].Content, prompt.PhotoStandIn) {
			text := prompt.PhotoStandIn
			if caption != "" {
				text += " " + caption
			} else if out[i].Content != "" {
				text += " " + out[i].Content
			}
			out[i].Content = text
		}
	}
	return out
}

// humanPause inserts the randomized reading delay and typing indicator used
// on the human-like channel so replies do not look instantaneous.
func (e *Engine) humanPause(ctx context.Context, prospect *models.Prospect) {
	if prospect.Source != models.SourceHumanlike || prospect.ChannelUserID == nil {
		return
	}

	if e.typist != nil {
		if err := e.typist.Typing(ctx, prospect.TenantID, *prospect.ChannelUserID); err != nil {
			e.logger.Debug("typing indicator failed", zap.Error(err))
		}
	}

	spread := e.cfg.ReplyDelayMax - e.cfg.ReplyDelayMin
	delay := e.cfg.ReplyDelayMin
	if spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// applyFacts merges extracted facts into the prospect record and handles
// the hand-off decision.
func (e *Engine) applyFacts(ctx context.Context, prospect *models.Prospect, facts map[string]any, logger *zap.Logger) {
	if facts == nil {
		return
	}

	changed := false

	if name, _ := facts[llm.FactClientName].(string); name != "" && prospect.FullName == "" {
		prospect.FullName = name
		changed = true
	}
	if phone, _ := facts[llm.FactPhone].(string); phone != "" && prospect.Phone == "" {
		prospect.Phone = phone
		changed = true
	}
	if stage, _ := facts[llm.FactStatus].(string); stage != "" {
		if s := models.Stage(stage); s.IsValid() && s != prospect.Stage {
			prospect.Stage = s
			changed = true
		}
	}
	if hot, _ := facts[llm.FactHotLead].(bool); hot && prospect.Qualification != models.QualificationQualified {
		prospect.Qualification = models.QualificationQualified
		changed = true
	}
	if grade, _ := facts[llm.FactReadiness].(string); grade != "" {
		if g := models.ReadinessGrade(grade); g.IsValid() {
			prospect.Readiness = &g
			changed = true
		}
	}

	if raw, err := json.Marshal(facts); err == nil {
		prospect.ExtractedFacts = string(raw)
		changed = true
	}

	if llm.ShouldHandoff(facts, e.cfg.HandoffHotConfidence, e.cfg.HandoffPhoneConfidence) {
		prospect.Qualification = models.QualificationHandoff
		if prospect.Stage != models.StageQualified {
			prospect.Stage = models.StageQualified
		}
		changed = true

		e.notifyHandoff(ctx, prospect, logger)
	}

	if changed {
		if err := e.prospects.Update(ctx, prospect); err != nil {
			logger.Error("failed to apply extracted facts", zap.Error(err))
		}
	}
}

func (e *Engine) notifyHandoff(ctx context.Context, prospect *models.Prospect, logger *zap.Logger) {
	if e.notifier == nil {
		return
	}

	name := prospect.FullName
	if name == "" {
		name = "Unnamed prospect"
	}
	text := fmt.Sprintf("Hot lead ready for hand-off: %s", name)
	if prospect.Phone != "" {
		text += fmt.Sprintf(" (%s)", prospect.Phone)
	}

	if err := e.notifier.NotifyOperator(ctx, prospect.TenantID, text); err != nil {
		logger.Warn("operator notification failed", zap.Error(err))
	}
}

// SendWelcome delivers the tenant's configured welcome message (or the
// default) to a first-contact prospect.
func (e *Engine) SendWelcome(ctx context.Context, prospect *models.Prospect) error {
	_, cfg, err := e.prompts.Build(ctx, prospect.TenantID, "")
	if err != nil {
		return err
	}

	welcome := prompt.DefaultWelcomeMessage
	if cfg != nil && strings.TrimSpace(cfg.WelcomeMessage) != "" {
		welcome = cfg.WelcomeMessage
	}

	if _, err := e.deliverer.Send(ctx, prospect, welcome, nil); err != nil {
		return fmt.Errorf("failed to send welcome: %w", err)
	}
	return nil
}

// GenerateFollowUp produces a short plain-text re-engagement nudge from the
// thread's history. Wrapping quotes the model tends to add are stripped.
func (e *Engine) GenerateFollowUp(ctx context.Context, prospect *models.Prospect) (string, error) {
	history, err := e.buildHistory(ctx, prospect, BufferedTurn{})
	if err != nil {
		return "", err
	}
	history = append(history, llm.ChatMessage{Role: llm.RoleUser, Content: prompt.FollowUpPrompt})

	systemPrompt, _, err := e.prompts.Build(ctx, prospect.TenantID, "")
	if err != nil {
		return "", err
	}

	result, err := e.llm.Complete(ctx, systemPrompt, history)
	if err != nil {
		return "", fmt.Errorf("follow-up generation failed: %w", err)
	}

	text := strings.TrimSpace(result.Content)
	text = strings.Trim(text, `"'«»`)
	if text == "" {
		return "", fmt.Errorf("empty follow-up text")
	}

	return text, nil
}

func (e *Engine) getOrCreateProspect(ctx context.Context, key TurnKey, meta senderMeta) (*models.Prospect, error) {
	prospect, err := e.prospects.GetByChannelUser(ctx, key.TenantID, key.ChannelUserID)
	if err == nil {
		e.refreshIdentity(ctx, prospect, meta)
		return prospect, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	channelID := key.ChannelUserID
	source := meta.source
	if source == "" {
		source = models.SourceBot
	}

	prospect = &models.Prospect{
		TenantID:      key.TenantID,
		ChannelUserID: &channelID,
		FullName:      meta.displayName,
		Source:        source,
		Stage:         models.StageNew,
		Qualification: models.QualificationInProgress,
	}
	if meta.username != "" {
		username := meta.username
		prospect.Username = &username
	}

	if err := e.prospects.Create(ctx, prospect); err != nil {
		return nil, fmt.Errorf("failed to create prospect: %w", err)
	}

	e.logger.Info("prospect created",
		zap.String("tenant_id", key.TenantID.String()),
		zap.String("prospect_id", prospect.ID.String()),
		zap.String("source", source))

	return prospect, nil
}

// refreshIdentity keeps the organic channel identity (username, display
// name) current without overwriting an extracted full name.
func (e *Engine) refreshIdentity(ctx context.Context, prospect *models.Prospect, meta senderMeta) {
	changed := false
	if meta.username != "" && (prospect.Username == nil || *prospect.Username != meta.username) {
		username := meta.username
		prospect.Username = &username
		changed = true
	}
	if meta.displayName != "" && prospect.FullName == "" {
		prospect.FullName = meta.displayName
		changed = true
	}

	if changed {
		if err := e.prospects.Update(ctx, prospect); err != nil {
			e.logger.Debug("failed to refresh prospect identity", zap.Error(err))
		}
	}
}

func senderLabel(meta senderMeta, prospect *models.Prospect) string {
	if meta.displayName != "" {
		return meta.displayName
	}
	if prospect.FullName != "" {
		return prospect.FullName
	}
	if prospect.Username != nil {
		return *prospect.Username
	}
	return "Prospect"
}
