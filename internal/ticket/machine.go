package ticket

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xboty/ticketbot/internal/classifier"
	"github.com/xboty/ticketbot/internal/knowledge"
	"github.com/xboty/ticketbot/internal/models"
	"github.com/xboty/ticketbot/internal/policy"
	"github.com/xboty/ticketbot/internal/storage"
	"go.uber.org/zap"
)

// Transport is the thin chat-platform surface the machine drives. Every
// call is best effort: a failed rename or DM is logged by the caller
// and never aborts the turn.
type Transport interface {
	SendText(channelID int64, text string) error
	RenameChannel(channelID int64, name string) error
	ListRoleMembers(role string) ([]string, error)
	SendDirectMessage(userID, text string) error
	DeleteChannel(channelID int64) error
	AdminMention() string
}

// Asker is the AI Gateway contract the machine depends on.
type Asker interface {
	Ask(ctx context.Context, systemPrompt string, conversation []models.Turn) (string, bool)
}

type Config struct {
	SystemPrompt string
	AdminRole    string
	// MaxDMs bounds how many role members get a direct message on
	// escalation. Defaults to 6.
	MaxDMs int
	// RenameLimit is the platform's channel-name length cap.
	// Defaults to 100.
	RenameLimit int
}

// Machine is the per-ticket escalation decision engine. Each incoming
// message runs through a strict priority chain under that channel's
// lock: pause gate, attachment intake, small talk, rename, flow
// detection, fact updates, flow script, knowledge lookup, AI fallback.
// Channels are serialized independently, so one slow AI call only
// delays its own ticket.
type Machine struct {
	store     storage.Storage
	states    StateStore
	sets      *ChannelSets
	gateway   Asker
	knowledge *knowledge.Store
	transport Transport
	cfg       Config
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewMachine(
	store storage.Storage,
	states StateStore,
	sets *ChannelSets,
	gateway Asker,
	kb *knowledge.Store,
	transport Transport,
	cfg Config,
	logger *zap.Logger,
) *Machine {
	if cfg.MaxDMs <= 0 {
		cfg.MaxDMs = 6
	}
	if cfg.RenameLimit <= 0 {
		cfg.RenameLimit = 100
	}
	return &Machine{
		store:     store,
		states:    states,
		sets:      sets,
		gateway:   gateway,
		knowledge: kb,
		transport: transport,
		cfg:       cfg,
		logger:    logger,
		locks:     make(map[int64]*sync.Mutex),
	}
}

// HandleMessage runs one turn of the state machine for an inbound
// message. Inactive and paused channels produce no output at all.
func (m *Machine) HandleMessage(ctx context.Context, msg models.Inbound) {
	if msg.IsBot {
		return
	}
	cid := msg.ChannelID
	if !m.sets.IsActive(cid) || m.sets.IsPaused(cid) {
		return
	}

	lock := m.channelLock(cid)
	lock.Lock()
	defer lock.Unlock()

	st := m.state(cid)
	conv := m.conversation(cid)

	// Intake: store attachments, append the user turn to the log.
	var refs []models.AttachmentRef
	for _, a := range msg.Attachments {
		path, err := m.store.SaveAttachment(cid, a.Filename, a.Data)
		if err != nil {
			m.logger.Error("Failed to save attachment",
				zap.Error(err),
				zap.Int64("channel_id", cid),
				zap.String("filename", a.Filename))
			continue
		}
		refs = append(refs, models.AttachmentRef{Filename: a.Filename, StoragePath: path})
	}
	conv = append(conv, models.Turn{
		Role:        models.RoleUser,
		Text:        msg.Text,
		Author:      msg.AuthorName,
		Attachments: refs,
	})
	m.persist(cid, conv)

	// Attachment-bearing messages never run the text flows in the same
	// turn. An active evidence flow still reacts so the user isn't
	// left without a next step. The counter tracks stored refs, so
	// replaying the persisted log lands on the same total.
	if classifier.CountAttachments(msg) > 0 {
		st.AttachmentsTotal += len(refs)
		if st.Flow != models.FlowNone {
			m.runFlowScript(cid, st, &conv, msg)
		}
		return
	}

	// Small-talk short circuit, deduplicated against a greeting we
	// just sent.
	if classifier.IsGreeting(msg.Text) {
		if !strings.HasPrefix(st.LastAssistantMessage, greetingPrefix) {
			m.reply(cid, st, &conv, greetingText(firstName(msg.AuthorName)))
		}
		return
	}

	category := classifier.DetectCategory(msg.Text)

	// One-time rename so admins can tell tickets apart at a glance.
	if !st.Renamed && category != models.FlowNone {
		name := truncate(fmt.Sprintf("%s-%s", category, firstName(msg.AuthorName)), m.cfg.RenameLimit)
		if err := m.transport.RenameChannel(cid, name); err != nil {
			m.logger.Warn("Failed to rename channel",
				zap.Error(err),
				zap.Int64("channel_id", cid))
		}
		st.Renamed = true
	}

	// Flow is sticky: re-detection only strengthens, never clears.
	if st.Flow == models.FlowNone && category != models.FlowNone {
		st.Flow = category
	}

	if u := classifier.ExtractUsername(msg.Text); u != "" {
		st.Username = u
	}
	if classifier.MentionsCode(msg.Text) {
		st.CodeMentioned = true
	}

	if st.Flow != models.FlowNone {
		m.runFlowScript(cid, st, &conv, msg)
		return
	}

	if topic := classifier.KnowledgeTopic(msg.Text); topic != "" {
		if entry, ok := m.knowledge.Lookup(topic); ok {
			m.reply(cid, st, &conv, entry.Render())
			return
		}
	}

	reply, escalate := m.gateway.Ask(ctx, m.cfg.SystemPrompt, conv)
	if escalate {
		m.escalate(cid, st, &conv, msg.AuthorName, "the assistant could not resolve the request")
		return
	}
	m.reply(cid, st, &conv, reply)
}

// runFlowScript drives the evidence-gathering script shared by the
// three proof-gated flows. Bonus claims additionally gate on the
// one-time first-ever-account question.
func (m *Machine) runFlowScript(cid int64, st *models.TicketState, conv *[]models.Turn, msg models.Inbound) {
	if st.Flow == models.FlowBonusClaim {
		if !st.AskedFirstEverQuestion {
			st.AskedFirstEverQuestion = true
			m.reply(cid, st, conv, firstEverQuestionText)
			return
		}
		switch firstEverAnswer(*conv) {
		case answerNo:
			if st.LastAssistantMessage != bonusRejectionText {
				m.reply(cid, st, conv, bonusRejectionText)
			}
			return
		case answerPending:
			if st.LastAssistantMessage != firstEverQuestionText && st.LastAssistantMessage != firstEverReminderText {
				m.reply(cid, st, conv, firstEverReminderText)
			}
			return
		case answerYes:
			// fall through to evidence collection
		}
	}

	if policy.ProofReady(st, msg.Text) {
		m.escalate(cid, st, conv, msg.AuthorName, "proof collected and ready for review")
		return
	}
	if st.AttachmentsTotal == 0 {
		m.reply(cid, st, conv, proofRequests[st.Flow])
		return
	}
	if st.Username == "" {
		m.reply(cid, st, conv, askUsernameText)
		return
	}
	m.reply(cid, st, conv, holdingText)
}

// escalate hands the ticket to a human: one-way flag flip under the
// channel lock (so near-simultaneous ProofReady messages post a single
// summary), pause persisted immediately, structured summary in channel,
// DMs to role members.
func (m *Machine) escalate(cid int64, st *models.TicketState, conv *[]models.Turn, requestedBy, reason string) {
	if st.Escalated {
		return
	}
	st.Escalated = true
	m.sets.Pause(cid)

	username := st.Username
	if username == "" {
		username = "provided in ticket"
	}
	summary := fmt.Sprintf("%s — %s\nReason: %s\nRequested by: %s\nUsername: %s\nProof attached: %t",
		escalationMarker, m.transport.AdminMention(), reason, requestedBy, username, st.AttachmentsTotal > 0)

	if err := m.transport.SendText(cid, summary); err != nil {
		m.logger.Error("Failed to post escalation summary",
			zap.Error(err),
			zap.Int64("channel_id", cid))
	}
	*conv = append(*conv, models.Turn{Role: models.RoleAssistant, Text: summary})
	st.LastAssistantMessage = summary
	m.persist(cid, *conv)

	m.notifyAdmins(cid, requestedBy)
}

func (m *Machine) notifyAdmins(cid int64, requestedBy string) {
	ids, err := m.transport.ListRoleMembers(m.cfg.AdminRole)
	if err != nil {
		m.logger.Warn("Failed to list admin role members", zap.Error(err))
		return
	}
	if len(ids) > m.cfg.MaxDMs {
		ids = ids[:m.cfg.MaxDMs]
	}
	for _, id := range ids {
		if err := m.transport.SendDirectMessage(id, fmt.Sprintf("Escalation in ticket %d by %s.", cid, requestedBy)); err != nil {
			m.logger.Warn("Failed to DM admin",
				zap.Error(err),
				zap.String("user_id", id))
		}
	}
}

// OpenTicket activates a channel and seeds its empty conversation.
func (m *Machine) OpenTicket(channelID int64) {
	m.sets.Activate(channelID)
	if err := m.store.SaveConversation(channelID, []models.Turn{}); err != nil {
		m.logger.Error("Failed to seed conversation", zap.Error(err), zap.Int64("channel_id", channelID))
	}
	if err := m.store.SetStatus(models.ChannelKey(channelID), models.StatusOpen); err != nil {
		m.logger.Error("Failed to set ticket status", zap.Error(err), zap.Int64("channel_id", channelID))
	}
}

// CloseTicket tears the ticket down: deactivates and resumes the
// channel, clears the log, drops the in-memory state and marks the
// status CLOSED. The attachment counter dies with the state.
func (m *Machine) CloseTicket(channelID int64) {
	lock := m.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	m.sets.Deactivate(channelID)
	m.sets.Resume(channelID)
	if err := m.store.ClearConversation(channelID); err != nil {
		m.logger.Error("Failed to clear conversation", zap.Error(err), zap.Int64("channel_id", channelID))
	}
	m.states.Delete(channelID)
	if err := m.store.SetStatus(models.ChannelKey(channelID), models.StatusClosed); err != nil {
		m.logger.Error("Failed to set ticket status", zap.Error(err), zap.Int64("channel_id", channelID))
	}
}

// EscalateManually routes a user-requested escalation through the same
// action the policy uses, so pause, summary and DM behavior cannot
// drift. Returns the admin mention for the command acknowledgement.
func (m *Machine) EscalateManually(channelID int64, requestedBy string) string {
	lock := m.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	st := m.state(channelID)
	conv := m.conversation(channelID)
	m.escalate(channelID, st, &conv, requestedBy, "escalation requested by the user")
	return m.transport.AdminMention()
}

func (m *Machine) channelLock(channelID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[channelID] = lock
	}
	return lock
}

// state returns the cached ticket state, rebuilding it from the
// persisted log on first access after a restart.
func (m *Machine) state(channelID int64) *models.TicketState {
	if st, ok := m.states.Get(channelID); ok {
		return st
	}
	st := &models.TicketState{ChannelID: channelID}
	if turns, err := m.store.LoadConversation(channelID); err != nil {
		m.logger.Warn("Failed to load conversation for state rebuild",
			zap.Error(err),
			zap.Int64("channel_id", channelID))
	} else {
		foldConversation(st, turns)
	}
	m.states.Put(st)
	return st
}

func (m *Machine) conversation(channelID int64) []models.Turn {
	turns, err := m.store.LoadConversation(channelID)
	if err != nil {
		m.logger.Warn("Failed to load conversation",
			zap.Error(err),
			zap.Int64("channel_id", channelID))
		return nil
	}
	return turns
}

func (m *Machine) persist(channelID int64, turns []models.Turn) {
	if err := m.store.SaveConversation(channelID, turns); err != nil {
		m.logger.Error("Failed to persist conversation",
			zap.Error(err),
			zap.Int64("channel_id", channelID))
	}
}

func (m *Machine) reply(cid int64, st *models.TicketState, conv *[]models.Turn, text string) {
	if err := m.transport.SendText(cid, text); err != nil {
		m.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.Int64("channel_id", cid))
	}
	*conv = append(*conv, models.Turn{Role: models.RoleAssistant, Text: text})
	st.LastAssistantMessage = text
	m.persist(cid, *conv)
}

type firstEver int

const (
	answerPending firstEver = iota
	answerYes
	answerNo
)

// answerSearchWindow bounds how far back the flow script looks for the
// first-ever question and its answer.
const answerSearchWindow = 8

func firstEverAnswer(conv []models.Turn) firstEver {
	start := 0
	if len(conv) > answerSearchWindow {
		start = len(conv) - answerSearchWindow
	}

	seenQuestion := false
	ans := answerPending
	for _, turn := range conv[start:] {
		if turn.Role == models.RoleAssistant {
			if strings.Contains(turn.Text, firstEverMarker) {
				seenQuestion = true
				ans = answerPending
			}
			continue
		}
		if !seenQuestion {
			continue
		}
		switch yesNo(turn.Text) {
		case answerYes:
			ans = answerYes
		case answerNo:
			ans = answerNo
		}
	}
	return ans
}

func yesNo(text string) firstEver {
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?:;*")
		switch word {
		case "yes", "yeah", "yep", "yup":
			return answerYes
		case "no", "nope", "nah":
			return answerNo
		}
	}
	return answerPending
}

func firstName(author string) string {
	fields := strings.Fields(author)
	if len(fields) == 0 {
		return "user"
	}
	return strings.ToLower(fields[0])
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
