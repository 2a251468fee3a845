package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/xboty/ticketbot/internal/models"
	"github.com/xboty/ticketbot/internal/ticket"
	"go.uber.org/zap"
)

// legacyPrefix is the old text-command prefix; messages carrying it are
// ignored so stray commands don't end up in the conversation log.
const legacyPrefix = "!t "

type Bot struct {
	session       *discordgo.Session
	machine       *ticket.Machine
	sets          *ticket.ChannelSets
	dispatch      *dispatcher
	adminRoleName string
	logger        *zap.Logger
}

func New(token string, adminRoleName string, sets *ticket.ChannelSets, logger *zap.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentMessageContent

	// Handlers must fire in gateway order or the per-channel queues
	// would be fed out of order. onMessage only enqueues, so the event
	// loop is never blocked on a download or an AI call.
	session.SyncEvents = true

	return &Bot{
		session:       session,
		sets:          sets,
		dispatch:      newDispatcher(),
		adminRoleName: adminRoleName,
		logger:        logger,
	}, nil
}

// SetMachine wires the state machine after construction; the machine
// needs the bot as its Transport, so the two are built in two steps.
func (b *Bot) SetMachine(m *ticket.Machine) {
	b.machine = m
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessage)
	b.session.AddHandler(b.onInteraction)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway connection: %w", err)
	}
	return nil
}

func (b *Bot) Stop() error {
	return b.session.Close()
}

var commands = []*discordgo.ApplicationCommand{
	{Name: "new", Description: "Activate this channel as a ticket"},
	{Name: "close", Description: "Close this ticket (admin only)"},
	{Name: "pause", Description: "Pause automated replies (admin only)"},
	{Name: "resume", Description: "Resume automated replies (admin only)"},
	{Name: "status", Description: "Show ticket and automation status"},
	{Name: "escalate", Description: "Ask the bot to notify admins for help"},
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	for _, cmd := range commands {
		if _, err := s.ApplicationCommandCreate(r.User.ID, "", cmd); err != nil {
			b.logger.Error("Failed to register command",
				zap.Error(err),
				zap.String("command", cmd.Name))
		}
	}
	b.logger.Info("Bot ready", zap.String("user", r.User.Username))
}

func (b *Bot) onMessage(s *discordgo.Session, mc *discordgo.MessageCreate) {
	if mc.Author == nil || mc.Author.Bot {
		return
	}
	cid, err := strconv.ParseInt(mc.ChannelID, 10, 64)
	if err != nil {
		return
	}
	if !b.sets.IsActive(cid) || b.sets.IsPaused(cid) {
		return
	}
	if strings.HasPrefix(mc.Content, legacyPrefix) {
		return
	}

	// Queue per channel: turns reach the machine in arrival order,
	// attachment download included, and one slow download can't let a
	// later message overtake it. Other channels drain in parallel.
	b.dispatch.enqueue(cid, func() { b.process(mc, cid) })
}

func (b *Bot) process(mc *discordgo.MessageCreate, cid int64) {
	if err := b.session.ChannelTyping(mc.ChannelID); err != nil {
		b.logger.Debug("Failed to send typing indicator", zap.Error(err))
	}

	var attachments []models.IncomingAttachment
	for _, a := range mc.Attachments {
		data, err := b.fetchAttachment(a.URL)
		if err != nil {
			b.logger.Warn("Failed to download attachment",
				zap.Error(err),
				zap.String("filename", a.Filename))
			continue
		}
		attachments = append(attachments, models.IncomingAttachment{
			Filename: a.Filename,
			Data:     data,
		})
	}

	b.machine.HandleMessage(context.Background(), models.Inbound{
		ChannelID:   cid,
		AuthorID:    mc.Author.ID,
		AuthorName:  authorName(mc.Author),
		Text:        mc.Content,
		Attachments: attachments,
		IsBot:       mc.Author.Bot,
	})
}

func (b *Bot) onInteraction(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic.Type != discordgo.InteractionApplicationCommand {
		return
	}
	cid, err := strconv.ParseInt(ic.ChannelID, 10, 64)
	if err != nil {
		return
	}

	switch ic.ApplicationCommandData().Name {
	case "new":
		if b.sets.IsActive(cid) {
			b.respond(ic, "⚠️ This ticket is already active!", true)
			return
		}
		b.machine.OpenTicket(cid)
		b.respond(ic, "✅ Ticket activated! Please describe your issue here.", false)
	case "close":
		if !b.requireAdmin(ic) {
			return
		}
		b.machine.CloseTicket(cid)
		b.respond(ic, "✅ Ticket closed and memory cleared.", false)
	case "pause":
		if !b.requireAdmin(ic) {
			return
		}
		b.sets.Pause(cid)
		b.respond(ic, "⏸️ Automated replies paused in this ticket.", false)
	case "resume":
		if !b.requireAdmin(ic) {
			return
		}
		b.sets.Resume(cid)
		b.respond(ic, "▶️ Automated replies resumed.", false)
	case "status":
		state := "Inactive"
		if b.sets.IsActive(cid) {
			state = "Active"
		}
		automation := "Running"
		if b.sets.IsPaused(cid) {
			automation = "Paused"
		}
		b.respond(ic, fmt.Sprintf("🎟 Ticket: **%s** | 🤖 Automation: **%s**", state, automation), true)
	case "escalate":
		mention := b.machine.EscalateManually(cid, interactionUserName(ic))
		b.respond(ic, fmt.Sprintf("🚨 Escalation requested! Notifying admins: %s", mention), false)
	}
}

func (b *Bot) requireAdmin(ic *discordgo.InteractionCreate) bool {
	if ic.Member != nil && ic.Member.Permissions&discordgo.PermissionManageServer != 0 {
		return true
	}
	b.respond(ic, "⛔ This command is admin only.", true)
	return false
}

func (b *Bot) respond(ic *discordgo.InteractionCreate, text string, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := b.session.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: text,
			Flags:   flags,
		},
	})
	if err != nil {
		b.logger.Error("Failed to respond to interaction", zap.Error(err))
	}
}

func authorName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func interactionUserName(ic *discordgo.InteractionCreate) string {
	if ic.Member != nil && ic.Member.User != nil {
		return authorName(ic.Member.User)
	}
	if ic.User != nil {
		return authorName(ic.User)
	}
	return "unknown"
}
