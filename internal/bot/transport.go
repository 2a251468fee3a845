package bot

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/xboty/ticketbot/internal/models"
	"go.uber.org/zap"
)

// maxMessageRunes is Discord's content limit with headroom; longer
// replies are chunked.
const maxMessageRunes = 1900

// maxAttachmentBytes caps attachment downloads.
const maxAttachmentBytes = 8 << 20

var attachmentClient = &http.Client{Timeout: 30 * time.Second}

// The Bot doubles as the machine's Transport: all outbound side effects
// go through the one session.

func (b *Bot) SendText(channelID int64, text string) error {
	id := strconv.FormatInt(channelID, 10)
	for _, chunk := range chunkText(text, maxMessageRunes) {
		if _, err := b.session.ChannelMessageSend(id, chunk); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}
	return nil
}

func (b *Bot) RenameChannel(channelID int64, name string) error {
	_, err := b.session.ChannelEdit(strconv.FormatInt(channelID, 10), &discordgo.ChannelEdit{Name: name})
	if err != nil {
		return fmt.Errorf("failed to rename channel: %w", err)
	}
	return nil
}

func (b *Bot) DeleteChannel(channelID int64) error {
	if _, err := b.session.ChannelDelete(strconv.FormatInt(channelID, 10)); err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	return nil
}

// ListRoleMembers returns the user ids holding the named role across
// the guilds the bot is in.
func (b *Bot) ListRoleMembers(roleName string) ([]string, error) {
	var ids []string
	for _, guild := range b.session.State.Guilds {
		roleID := b.findRoleID(guild.ID, roleName)
		if roleID == "" {
			continue
		}
		members, err := b.session.GuildMembers(guild.ID, "", 1000)
		if err != nil {
			b.logger.Warn("Failed to list guild members",
				zap.Error(err),
				zap.String("guild_id", guild.ID))
			continue
		}
		for _, m := range members {
			for _, r := range m.Roles {
				if r == roleID {
					ids = append(ids, m.User.ID)
					break
				}
			}
		}
	}
	return ids, nil
}

func (b *Bot) SendDirectMessage(userID, text string) error {
	ch, err := b.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("failed to open DM channel: %w", err)
	}
	if _, err := b.session.ChannelMessageSend(ch.ID, text); err != nil {
		return fmt.Errorf("failed to send DM: %w", err)
	}
	return nil
}

// AdminMention resolves the admin role mention, falling back to @here
// when the role does not exist.
func (b *Bot) AdminMention() string {
	for _, guild := range b.session.State.Guilds {
		if id := b.findRoleID(guild.ID, b.adminRoleName); id != "" {
			return fmt.Sprintf("<@&%s>", id)
		}
	}
	return "@here"
}

func (b *Bot) findRoleID(guildID, roleName string) string {
	roles, err := b.session.GuildRoles(guildID)
	if err != nil {
		b.logger.Warn("Failed to list guild roles",
			zap.Error(err),
			zap.String("guild_id", guildID))
		return ""
	}
	for _, role := range roles {
		if role.Name == roleName {
			return role.ID
		}
	}
	return ""
}

// ServerMap describes the guilds the session is connected to, straight
// from gateway state, for the dashboard's /server_map endpoint.
func (b *Bot) ServerMap() []models.GuildMap {
	var guilds []models.GuildMap
	for _, g := range b.session.State.Guilds {
		gm := models.GuildMap{
			GuildName: g.Name,
			GuildID:   g.ID,
			Channels:  make(map[string]string, len(g.Channels)),
			Roles:     make(map[string]string, len(g.Roles)),
		}
		for _, ch := range g.Channels {
			if ch.Type == discordgo.ChannelTypeGuildCategory {
				gm.Categories = append(gm.Categories, ch.Name)
				continue
			}
			gm.Channels[ch.Name] = ch.ID
		}
		for _, r := range g.Roles {
			if r.Name == "@everyone" {
				continue
			}
			gm.Roles[r.Name] = r.ID
		}
		guilds = append(guilds, gm)
	}
	return guilds
}

func (b *Bot) fetchAttachment(url string) ([]byte, error) {
	resp, err := attachmentClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
}

func chunkText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		n := limit
		if len(runes) < n {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
